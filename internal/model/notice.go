package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NoticePriority represents the severity of a notice
type NoticePriority int

const (
	NoticePriorityLow       NoticePriority = 1
	NoticePriorityNormal    NoticePriority = 2
	NoticePriorityImportant NoticePriority = 3
	NoticePriorityCritical  NoticePriority = 4
)

func (p NoticePriority) String() string {
	switch p {
	case NoticePriorityLow:
		return "low"
	case NoticePriorityNormal:
		return "normal"
	case NoticePriorityImportant:
		return "important"
	case NoticePriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Notice represents one raw occurrence of a system condition.
// A Notice is never stored; it is either squashed into an active Alert
// or promoted to a new one.
type Notice struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	HostName    string         `json:"hostName"`
	HostAddress string         `json:"hostAddress"`
	Priority    NoticePriority `json:"priority"`
	Title       string         `json:"title"`
	Details     []string       `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewNotice creates a notice with a fresh id and the current time
func NewNotice(source string, priority NoticePriority, title string, details []string) Notice {
	return Notice{
		ID:        uuid.New().String(),
		Source:    source,
		Priority:  priority,
		Title:     title,
		Details:   NormalizeDetails(details),
		Timestamp: time.Now(),
	}
}

// Key returns the dedup key of the notice
func (n Notice) Key() DedupKey {
	return DedupKey{Source: n.Source, HostName: n.HostName}
}

// DedupKey identifies which notices merge into the same alert
type DedupKey struct {
	Source   string
	HostName string
}

// NormalizeDetails turns a list of detail lines into a sorted set.
// The result is never nil so it serializes as an empty array.
func NormalizeDetails(details []string) []string {
	seen := make(map[string]struct{}, len(details))
	out := make([]string, 0, len(details))
	for _, d := range details {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

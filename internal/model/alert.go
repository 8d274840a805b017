package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusDismissed AlertStatus = "dismissed"
)

// ErrAlreadyDismissed is returned when dismissing an alert twice
var ErrAlreadyDismissed = errors.New("alert already dismissed")

// Alert represents the persisted, deduplicated record of a condition
type Alert struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	HostName      string         `json:"hostName"`
	HostAddress   string         `json:"hostAddress"`
	Priority      NoticePriority `json:"priority"`
	Title         string         `json:"title"`
	Details       []string       `json:"details"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        AlertStatus    `json:"status"`
	Count         int64          `json:"count"`
	LastUpdated   time.Time      `json:"lastUpdated"`
	DismissedTime *time.Time     `json:"dismissedTime,omitempty"`
	DismissedBy   string         `json:"dismissedBy,omitempty"`
}

// NewAlertFromNotice promotes a notice to a new active alert with count 1.
// The alert always gets a fresh id; the notice id is never reused since
// payloads may carry arbitrary or repeated ids.
func NewAlertFromNotice(n Notice) *Alert {
	return &Alert{
		ID:          uuid.New().String(),
		Source:      n.Source,
		HostName:    n.HostName,
		HostAddress: n.HostAddress,
		Priority:    n.Priority,
		Title:       n.Title,
		Details:     NormalizeDetails(n.Details),
		Timestamp:   n.Timestamp,
		Status:      AlertStatusActive,
		Count:       1,
		LastUpdated: n.Timestamp,
	}
}

// Key returns the dedup key of the alert
func (a *Alert) Key() DedupKey {
	return DedupKey{Source: a.Source, HostName: a.HostName}
}

// IsActive reports whether the alert has not been dismissed
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// Squash folds a repeated notice into the alert. Details are replaced,
// not merged: the latest notice wins.
func (a *Alert) Squash(n Notice) {
	a.Count++
	a.LastUpdated = n.Timestamp
	a.Details = NormalizeDetails(n.Details)
}

// Dismiss retires the alert. Dismissal happens at most once.
func (a *Alert) Dismiss(by string, at time.Time) error {
	if !a.IsActive() {
		return ErrAlreadyDismissed
	}
	a.Status = AlertStatusDismissed
	a.DismissedTime = &at
	a.DismissedBy = by
	return nil
}

// Snapshot returns a deep copy of the alert
func (a *Alert) Snapshot() Alert {
	cp := *a
	cp.Details = append([]string(nil), a.Details...)
	if cp.Details == nil {
		cp.Details = []string{}
	}
	if a.DismissedTime != nil {
		t := *a.DismissedTime
		cp.DismissedTime = &t
	}
	return cp
}

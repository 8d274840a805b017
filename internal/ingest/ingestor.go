package ingest

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/model"
)

// Payload keys shared by notice and dismiss payloads
const (
	KeyID          = "id"
	KeySource      = "source"
	KeyHostName    = "hostName"
	KeyHostAddress = "hostAddress"
	KeyPriority    = "priority"
	KeyTitle       = "title"
	KeyDetails     = "details"
	KeyTimestamp   = "timestamp"
	KeyDismissedBy = "dismissedBy"
)

// Ingestor turns raw payloads into typed commands
type Ingestor struct {
	logger      *zap.Logger
	hostName    string
	hostAddress string
	now         func() time.Time
	newID       func() string
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithLocalHost sets the host identity used when a notice carries none
func WithLocalHost(name, address string) Option {
	return func(i *Ingestor) {
		i.hostName = name
		i.hostAddress = address
	}
}

// WithClock overrides the time source used for missing timestamps
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
	}
}

// WithIDGenerator overrides the id source used for missing notice ids
func WithIDGenerator(fn func() string) Option {
	return func(i *Ingestor) {
		i.newID = fn
	}
}

// NewIngestor creates a new ingestor. Notices without an origin are
// attributed to this machine unless WithLocalHost says otherwise.
func NewIngestor(logger *zap.Logger, opts ...Option) *Ingestor {
	hostName, hostAddress := LocalHost()
	i := &Ingestor{
		logger:      logger.Named("ingestor"),
		hostName:    hostName,
		hostAddress: hostAddress,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Normalize decodes a JSON object payload received on the given channel
func (i *Ingestor) Normalize(ch Channel, payload []byte) Command {
	var props map[string]interface{}
	if err := json.Unmarshal(payload, &props); err != nil {
		return i.reject(ch, fmt.Sprintf("invalid payload: %v", err))
	}
	return i.NormalizeMap(ch, props)
}

// NormalizeMap converts a decoded property bag into a command
func (i *Ingestor) NormalizeMap(ch Channel, props map[string]interface{}) Command {
	switch ch {
	case ChannelNotice:
		return i.normalizeNotice(props)
	case ChannelDismiss:
		return i.normalizeDismiss(props)
	default:
		return i.reject(ch, "unknown channel")
	}
}

func (i *Ingestor) normalizeNotice(props map[string]interface{}) Command {
	source := stringProp(props, KeySource)
	if source == "" {
		return i.reject(ChannelNotice, "missing source")
	}

	notice := model.Notice{
		ID:          stringProp(props, KeyID),
		Source:      source,
		HostName:    stringProp(props, KeyHostName),
		HostAddress: stringProp(props, KeyHostAddress),
		Priority:    model.NoticePriorityNormal,
		Title:       stringProp(props, KeyTitle),
		Details:     model.NormalizeDetails(detailsProp(props)),
	}
	if notice.ID == "" {
		notice.ID = i.newID()
	}
	if notice.HostName == "" {
		notice.HostName = i.hostName
	}
	if notice.HostAddress == "" {
		notice.HostAddress = i.hostAddress
	}
	if p, ok := intProp(props, KeyPriority); ok {
		notice.Priority = model.NoticePriority(p)
	}
	if ts, ok := timeProp(props, KeyTimestamp); ok {
		notice.Timestamp = ts
	} else {
		notice.Timestamp = i.now()
	}

	return RaiseNotice{Notice: notice}
}

func (i *Ingestor) normalizeDismiss(props map[string]interface{}) Command {
	id := stringProp(props, KeyID)
	if id == "" {
		return i.reject(ChannelDismiss, "missing id")
	}
	return Dismiss{
		ID:          id,
		DismissedBy: stringProp(props, KeyDismissedBy),
	}
}

func (i *Ingestor) reject(ch Channel, reason string) Command {
	i.logger.Debug("Dropping inbound payload",
		zap.Stringer("channel", ch),
		zap.String("reason", reason))
	return Rejected{Channel: ch, Reason: reason}
}

func stringProp(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func intProp(props map[string]interface{}, key string) (int, bool) {
	switch v := props[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// timeProp accepts RFC 3339 strings or epoch milliseconds
func timeProp(props map[string]interface{}, key string) (time.Time, bool) {
	switch v := props[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	case float64:
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}

func detailsProp(props map[string]interface{}) []string {
	switch v := props[KeyDetails].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, d := range v {
			if s, ok := d.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// LocalHost returns the host name and first non-loopback address of this
// machine, used as the default origin for notices raised without one.
func LocalHost() (name, address string) {
	name, _ = os.Hostname()
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return name, ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return name, ipnet.IP.String()
		}
	}
	return name, ""
}

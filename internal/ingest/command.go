package ingest

import "github.com/t77yq/nats-alerts/internal/model"

// Channel identifies the logical inbound channel a payload arrived on
type Channel int

const (
	ChannelNotice Channel = iota
	ChannelDismiss
)

func (c Channel) String() string {
	switch c {
	case ChannelNotice:
		return "notice"
	case ChannelDismiss:
		return "dismiss"
	default:
		return "unknown"
	}
}

// Command is a normalized inbound event. It is one of RaiseNotice,
// Dismiss or Rejected.
type Command interface {
	command()
}

// RaiseNotice asks the engine to record one occurrence of a condition
type RaiseNotice struct {
	Notice model.Notice
}

// Dismiss asks the engine to retire an alert. DismissedBy may be empty;
// the engine decides what to do about it.
type Dismiss struct {
	ID          string
	DismissedBy string
}

// Rejected is a payload that could not be normalized
type Rejected struct {
	Channel Channel
	Reason  string
}

func (RaiseNotice) command() {}
func (Dismiss) command()     {}
func (Rejected) command()    {}

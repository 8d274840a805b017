package model

import "time"

// Digest is a point-in-time snapshot of active alerts published on the bus.
// Digests are never persisted.
type Digest struct {
	Timestamp time.Time `json:"timestamp"`
	Alerts    []Alert   `json:"alerts"`
}

// NewDigest snapshots the given alerts by value
func NewDigest(at time.Time, alerts ...*Alert) *Digest {
	d := &Digest{
		Timestamp: at,
		Alerts:    make([]Alert, 0, len(alerts)),
	}
	for _, a := range alerts {
		d.Alerts = append(d.Alerts, a.Snapshot())
	}
	return d
}

package storage

import (
	"context"
	"sync"

	"github.com/t77yq/nats-alerts/internal/model"
)

// MemoryAlertStore holds alerts in memory. Suitable for dev/testing.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*model.Alert
}

// NewMemoryAlertStore creates an empty in-memory store
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		alerts: make(map[string]*model.Alert),
	}
}

// Query implements AlertStore.Query. Returns copies.
func (s *MemoryAlertStore) Query(ctx context.Context, p Predicate) ([]*model.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("query", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []*model.Alert
	for _, a := range s.alerts {
		if p.Match(a) {
			cp := a.Snapshot()
			alerts = append(alerts, &cp)
		}
	}
	sortAlerts(alerts)
	return alerts, nil
}

// Upsert implements AlertStore.Upsert. Stores a copy.
func (s *MemoryAlertStore) Upsert(ctx context.Context, alert *model.Alert) error {
	if err := validateAlert(alert); err != nil {
		return storeErr("upsert", err)
	}
	if err := ctx.Err(); err != nil {
		return storeErr("upsert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := alert.Snapshot()
	s.alerts[alert.ID] = &cp
	return nil
}

// Len returns the number of stored alerts
func (s *MemoryAlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

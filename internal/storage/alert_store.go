package storage

import (
	"context"
	"sort"

	"github.com/t77yq/nats-alerts/internal/model"
)

// AlertStore defines the persistence contract the alert engine consumes
type AlertStore interface {
	// Query returns matching alerts, most recently updated first, ties by id
	Query(ctx context.Context, p Predicate) ([]*model.Alert, error)

	// Upsert writes the alert keyed by its id
	Upsert(ctx context.Context, alert *model.Alert) error
}

func validateAlert(alert *model.Alert) error {
	if alert == nil {
		return ErrNilAlert
	}
	if alert.ID == "" {
		return ErrMissingID
	}
	return nil
}

func sortAlerts(alerts []*model.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].LastUpdated.Equal(alerts[j].LastUpdated) {
			return alerts[i].LastUpdated.After(alerts[j].LastUpdated)
		}
		return alerts[i].ID < alerts[j].ID
	})
}

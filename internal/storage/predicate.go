package storage

import (
	"fmt"
	"strings"

	"github.com/t77yq/nats-alerts/internal/model"
)

// Field names a queryable alert attribute
type Field string

const (
	FieldID       Field = "id"
	FieldSource   Field = "source"
	FieldHostName Field = "hostName"
	FieldStatus   Field = "status"
)

// Clause is a single field equality test
type Clause struct {
	Field Field
	Value string
}

// Predicate is a conjunction of equality clauses. Predicates are only built
// through the constructors below, never from caller-supplied field names.
type Predicate struct {
	clauses []Clause
}

// ActiveBySourceAndHost matches the active alert for a dedup key
func ActiveBySourceAndHost(source, hostName string) Predicate {
	return Predicate{clauses: []Clause{
		{Field: FieldSource, Value: source},
		{Field: FieldStatus, Value: string(model.AlertStatusActive)},
		{Field: FieldHostName, Value: hostName},
	}}
}

// ByID matches an alert by id regardless of status
func ByID(id string) Predicate {
	return Predicate{clauses: []Clause{{Field: FieldID, Value: id}}}
}

// ByStatus matches every alert in the given status
func ByStatus(status model.AlertStatus) Predicate {
	return Predicate{clauses: []Clause{{Field: FieldStatus, Value: string(status)}}}
}

// All matches every alert
func All() Predicate {
	return Predicate{}
}

// Clauses returns a copy of the predicate's clauses
func (p Predicate) Clauses() []Clause {
	return append([]Clause(nil), p.clauses...)
}

// String renders the predicate, e.g. source = 'X' AND status = 'active'
func (p Predicate) String() string {
	parts := make([]string, 0, len(p.clauses))
	for _, c := range p.clauses {
		parts = append(parts, fmt.Sprintf("%s = '%s'", c.Field, strings.ReplaceAll(c.Value, "'", "''")))
	}
	return strings.Join(parts, " AND ")
}

// Match reports whether the alert satisfies every clause
func (p Predicate) Match(a *model.Alert) bool {
	for _, c := range p.clauses {
		var v string
		switch c.Field {
		case FieldID:
			v = a.ID
		case FieldSource:
			v = a.Source
		case FieldHostName:
			v = a.HostName
		case FieldStatus:
			v = string(a.Status)
		default:
			return false
		}
		if v != c.Value {
			return false
		}
	}
	return true
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/model"
)

// columns maps predicate fields to table columns
var columns = map[Field]string{
	FieldID:       "id",
	FieldSource:   "source",
	FieldHostName: "host_name",
	FieldStatus:   "status",
}

const selectAlerts = `
	SELECT
		id, source, host_name, host_address, priority, title, details,
		timestamp, status, count, last_updated, dismissed_time, dismissed_by
	FROM alerts`

// SQLiteAlertStore implements AlertStore using SQLite. Rows are only ever
// inserted or updated; dismissed alerts are kept as history.
type SQLiteAlertStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertStore opens (or creates) the alert database at dbPath
func NewSQLiteAlertStore(logger *zap.Logger, dbPath string) (*SQLiteAlertStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &SQLiteAlertStore{
		logger: logger.Named("alert-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteAlertStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			host_name TEXT NOT NULL,
			host_address TEXT,
			priority INTEGER NOT NULL,
			title TEXT,
			details TEXT,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			count INTEGER NOT NULL,
			last_updated INTEGER NOT NULL,
			dismissed_time INTEGER,
			dismissed_by TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(source, host_name, status);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_last_updated ON alerts(last_updated);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Upsert implements AlertStore.Upsert
func (s *SQLiteAlertStore) Upsert(ctx context.Context, alert *model.Alert) error {
	if err := validateAlert(alert); err != nil {
		return storeErr("upsert", err)
	}

	details, err := json.Marshal(model.NormalizeDetails(alert.Details))
	if err != nil {
		return storeErr("upsert", fmt.Errorf("failed to marshal details: %w", err))
	}

	var dismissedTime sql.NullInt64
	if alert.DismissedTime != nil {
		dismissedTime = sql.NullInt64{Int64: alert.DismissedTime.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, source, host_name, host_address, priority, title, details,
			timestamp, status, count, last_updated, dismissed_time, dismissed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			host_name = excluded.host_name,
			host_address = excluded.host_address,
			priority = excluded.priority,
			title = excluded.title,
			details = excluded.details,
			timestamp = excluded.timestamp,
			status = excluded.status,
			count = excluded.count,
			last_updated = excluded.last_updated,
			dismissed_time = excluded.dismissed_time,
			dismissed_by = excluded.dismissed_by`,
		alert.ID,
		alert.Source,
		alert.HostName,
		alert.HostAddress,
		int(alert.Priority),
		alert.Title,
		string(details),
		alert.Timestamp.UnixNano(),
		string(alert.Status),
		alert.Count,
		alert.LastUpdated.UnixNano(),
		dismissedTime,
		sql.NullString{String: alert.DismissedBy, Valid: alert.DismissedBy != ""},
	)
	if err != nil {
		return storeErr("upsert", fmt.Errorf("failed to upsert alert: %w", err))
	}
	return nil
}

// Query implements AlertStore.Query
func (s *SQLiteAlertStore) Query(ctx context.Context, p Predicate) ([]*model.Alert, error) {
	query := selectAlerts
	args := make([]interface{}, 0)

	clauses := p.Clauses()
	if len(clauses) > 0 {
		conds := make([]string, 0, len(clauses))
		for _, c := range clauses {
			col, ok := columns[c.Field]
			if !ok {
				return nil, storeErr("query", fmt.Errorf("%w: %s", ErrUnknownField, c.Field))
			}
			conds = append(conds, col+" = ?")
			args = append(args, c.Value)
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_updated DESC, id ASC"

	s.logger.Debug("Querying alerts", zap.Stringer("predicate", p))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query", fmt.Errorf("failed to query alerts: %w", err))
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("query", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("query", fmt.Errorf("error during row iteration: %w", err))
	}

	return alerts, nil
}

func scanAlert(rows *sql.Rows) (*model.Alert, error) {
	var alert model.Alert
	var hostAddress, title, details, dismissedBy sql.NullString
	var priority int
	var status string
	var timestamp, lastUpdated int64
	var dismissedTime sql.NullInt64

	err := rows.Scan(
		&alert.ID,
		&alert.Source,
		&alert.HostName,
		&hostAddress,
		&priority,
		&title,
		&details,
		&timestamp,
		&status,
		&alert.Count,
		&lastUpdated,
		&dismissedTime,
		&dismissedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.HostAddress = hostAddress.String
	alert.Title = title.String
	alert.Priority = model.NoticePriority(priority)
	alert.Status = model.AlertStatus(status)
	alert.Timestamp = time.Unix(0, timestamp)
	alert.LastUpdated = time.Unix(0, lastUpdated)
	alert.Details = []string{}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &alert.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	if dismissedTime.Valid {
		t := time.Unix(0, dismissedTime.Int64)
		alert.DismissedTime = &t
	}
	if dismissedBy.Valid {
		alert.DismissedBy = dismissedBy.String
	}

	return &alert, nil
}

// Close closes the database connection
func (s *SQLiteAlertStore) Close() error {
	return s.db.Close()
}

// Package audit records who launched, stopped, created and deleted
// experiments, and lists that trail back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded against experiments.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionLaunch = "launch"
	ActionStop   = "stop"
)

// EntityExperiment is the entity type of every experiment entry.
const EntityExperiment = "experiment"

// SourceAPI marks actions requested over the HTTP API.
const SourceAPI = "api"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// AuditLog is a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects audit logs. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of audit logs.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores audit logs.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts log, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var details any
	if log.Details != nil {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType,
		nullableString(log.EntityID), nullableString(log.UserID),
		log.Source, details,
		log.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns logs matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	for _, c := range []struct{ column, value string }{
		{"action", filter.Action},
		{"entity_type", filter.EntityType},
		{"entity_id", filter.EntityID},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE holds placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := "SELECT id, action, entity_type, entity_id, user_id, source, details, created_at FROM audit_logs " + //nolint:gosec // WHERE holds placeholders only
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			log                         AuditLog
			entityID, userID, detailsJS sql.NullString
			createdAt                   string
		)
		if err := rows.Scan(&log.ID, &log.Action, &log.EntityType,
			&entityID, &userID, &log.Source, &detailsJS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		log.EntityID = entityID.String
		log.UserID = userID.String
		if detailsJS.Valid && detailsJS.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJS.String), &details) == nil {
				log.Details = details
			}
		}

		if log.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

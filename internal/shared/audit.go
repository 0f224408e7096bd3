package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the write side of a pgx pool or transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AuditLog is one row of audit_logs. Entries written for the same logical
// request share a CorrelationID; Record fills it in when empty.
type AuditLog struct {
	CorrelationID string
	ActorID       int64
	Action        string
	Entity        string
	EntityID      string
	Meta          map[string]any
	At            time.Time
}

// AuditLogger appends to audit_logs. Rows are never updated.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

var errAuditNotConfigured = errors.New("shared: audit logger not initialised")

// Record persists the entry. occurred_at defaults to the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errAuditNotConfigured
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return fmt.Errorf("shared: audit entry %q requires action, entity and entity id", entry.Action)
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = l.db.Exec(ctx, `
INSERT INTO audit_logs (correlation_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		entry.CorrelationID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	if err != nil {
		return fmt.Errorf("shared: insert audit log: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/neverdownhq/neverdown/internal/model"
)

// AuditStore persists append-only audit events.
type AuditStore struct {
	db *sqlx.DB
}

type auditRow struct {
	ID         uuid.UUID      `db:"id"`
	IncidentID *uuid.UUID     `db:"incident_id"`
	Kind       string         `db:"kind"`
	Severity   string         `db:"severity"`
	Payload    types.JSONText `db:"payload"`
	Timestamp  time.Time      `db:"ts"`
}

// Append inserts one audit event.
func (s *AuditStore) Append(ctx context.Context, e *model.AuditEvent) error {
	payload, err := json.Marshal(orEmptyMap(e.Payload))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, incident_id, kind, severity, payload, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.IncidentID, string(e.Kind), string(e.Severity), payload, e.Timestamp)
	return err
}

// ListByIncident returns an incident's audit trail, oldest first.
func (s *AuditStore) ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]*model.AuditEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, incident_id, kind, severity, payload, ts
		FROM audit_log WHERE incident_id = $1 ORDER BY ts LIMIT $2`,
		incidentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.AuditEvent, 0, len(rows))
	for i := range rows {
		e := &model.AuditEvent{
			ID:         rows[i].ID,
			IncidentID: rows[i].IncidentID,
			Kind:       model.AuditKind(rows[i].Kind),
			Severity:   model.Severity(rows[i].Severity),
			Timestamp:  rows[i].Timestamp,
		}
		if len(rows[i].Payload) > 0 {
			if err := json.Unmarshal(rows[i].Payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}

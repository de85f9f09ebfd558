package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// VerificationStore persists verification results.
type VerificationStore struct {
	db *sqlx.DB
}

type verificationRow struct {
	ID         uuid.UUID      `db:"id"`
	IncidentID uuid.UUID      `db:"incident_id"`
	PatchID    uuid.UUID      `db:"patch_id"`
	Status     string         `db:"status"`
	Tests      types.JSONText `db:"tests"`
	Passed     int            `db:"passed"`
	Failed     int            `db:"failed"`
	Skipped    int            `db:"skipped"`
	Errors     int            `db:"errors"`
	Sandbox    types.JSONText `db:"sandbox"`
	Reason     string         `db:"reason"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *verificationRow) toModel() (*model.VerificationResult, error) {
	v := &model.VerificationResult{
		ID:         r.ID,
		IncidentID: r.IncidentID,
		PatchID:    r.PatchID,
		Status:     model.VerificationStatus(r.Status),
		Passed:     r.Passed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Errors:     r.Errors,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Tests) > 0 {
		if err := json.Unmarshal(r.Tests, &v.Tests); err != nil {
			return nil, err
		}
	}
	if len(r.Sandbox) > 0 && string(r.Sandbox) != "null" {
		if err := json.Unmarshal(r.Sandbox, &v.Sandbox); err != nil {
			return nil, err
		}
	}
	return v, nil
}

const verificationColumns = `id, incident_id, patch_id, status, tests,
	passed, failed, skipped, errors, sandbox, reason, created_at`

// Create inserts a verification result.
func (s *VerificationStore) Create(ctx context.Context, v *model.VerificationResult) error {
	tests, err := json.Marshal(orEmptyTests(v.Tests))
	if err != nil {
		return err
	}
	sandbox, err := json.Marshal(v.Sandbox)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.IncidentID, v.PatchID, string(v.Status), tests,
		v.Passed, v.Failed, v.Skipped, v.Errors, sandbox, v.Reason, v.CreatedAt)
	return err
}

// LatestByIncident fetches the most recent verification for an incident.
func (s *VerificationStore) LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.VerificationResult, error) {
	var row verificationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+verificationColumns+` FROM verifications
		WHERE incident_id = $1 ORDER BY created_at DESC LIMIT 1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodeIncidentNotFound,
			"no verification for incident %s", incidentID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func orEmptyTests(t []model.TestResult) []model.TestResult {
	if t == nil {
		return []model.TestResult{}
	}
	return t
}

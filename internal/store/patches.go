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

// PatchStore persists reasoner patches.
type PatchStore struct {
	db *sqlx.DB
}

type patchRow struct {
	ID           uuid.UUID      `db:"id"`
	IncidentID   uuid.UUID      `db:"incident_id"`
	Diff         string         `db:"diff"`
	RootCause    string         `db:"root_cause"`
	Reasoning    string         `db:"reasoning"`
	Confidence   float64        `db:"confidence"`
	Assumptions  types.JSONText `db:"assumptions"`
	Risks        string         `db:"risks"`
	Files        types.JSONText `db:"files"`
	Verified     bool           `db:"verified"`
	TokensInput  int            `db:"tokens_input"`
	TokensOutput int            `db:"tokens_output"`
	Retries      int            `db:"retries"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *patchRow) toModel() (*model.Patch, error) {
	p := &model.Patch{
		ID:         r.ID,
		IncidentID: r.IncidentID,
		Diff:       r.Diff,
		RootCause:  r.RootCause,
		Reasoning:  r.Reasoning,
		Confidence: r.Confidence,
		Risks:      r.Risks,
		Verified:   r.Verified,
		TokenUsage: model.TokenUsage{Input: r.TokensInput, Output: r.TokensOutput},
		Retries:    r.Retries,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Assumptions) > 0 {
		if err := json.Unmarshal(r.Assumptions, &p.Assumptions); err != nil {
			return nil, err
		}
	}
	if len(r.Files) > 0 {
		if err := json.Unmarshal(r.Files, &p.Files); err != nil {
			return nil, err
		}
	}
	return p, nil
}

const patchColumns = `id, incident_id, diff, root_cause, reasoning, confidence,
	assumptions, risks, files, verified, tokens_input, tokens_output, retries, created_at`

// Create inserts a patch.
func (s *PatchStore) Create(ctx context.Context, p *model.Patch) error {
	assumptions, err := json.Marshal(orEmptyStrings(p.Assumptions))
	if err != nil {
		return err
	}
	files, err := json.Marshal(orEmptyFiles(p.Files))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patches (`+patchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.IncidentID, p.Diff, p.RootCause, p.Reasoning, p.Confidence,
		assumptions, p.Risks, files, p.Verified,
		p.TokenUsage.Input, p.TokenUsage.Output, p.Retries, p.CreatedAt)
	return err
}

// Get fetches one patch by id.
func (s *PatchStore) Get(ctx context.Context, id uuid.UUID) (*model.Patch, error) {
	var row patchRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+patchColumns+` FROM patches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodePatchNotFound, "patch %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// LatestByIncident fetches the most recent patch for an incident.
func (s *PatchStore) LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.Patch, error) {
	var row patchRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+patchColumns+` FROM patches
		WHERE incident_id = $1 ORDER BY created_at DESC LIMIT 1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodePatchNotFound, "no patch for incident %s", incidentID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// MarkVerified sets the verified flag after a passing verification.
func (s *PatchStore) MarkVerified(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patches SET verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.CodePatchNotFound, "patch %s not found", id)
	}
	return nil
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyFiles(f []model.FileChange) []model.FileChange {
	if f == nil {
		return []model.FileChange{}
	}
	return f
}

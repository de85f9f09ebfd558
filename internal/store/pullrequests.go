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

// PullRequestStore persists published pull request records.
type PullRequestStore struct {
	db *sqlx.DB
}

type pullRequestRow struct {
	ID             uuid.UUID      `db:"id"`
	IncidentID     uuid.UUID      `db:"incident_id"`
	PatchID        uuid.UUID      `db:"patch_id"`
	VerificationID *uuid.UUID     `db:"verification_id"`
	Number         int            `db:"number"`
	URL            string         `db:"url"`
	HeadBranch     string         `db:"head_branch"`
	BaseBranch     string         `db:"base_branch"`
	Title          string         `db:"title"`
	Body           string         `db:"body"`
	Labels         types.JSONText `db:"labels"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *pullRequestRow) toModel() (*model.PullRequest, error) {
	pr := &model.PullRequest{
		ID:         r.ID,
		IncidentID: r.IncidentID,
		PatchID:    r.PatchID,
		Number:     r.Number,
		URL:        r.URL,
		HeadBranch: r.HeadBranch,
		BaseBranch: r.BaseBranch,
		Title:      r.Title,
		Body:       r.Body,
		Status:     model.PRStatus(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.VerificationID != nil {
		pr.VerificationID = *r.VerificationID
	}
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &pr.Labels); err != nil {
			return nil, err
		}
	}
	return pr, nil
}

const pullRequestColumns = `id, incident_id, patch_id, verification_id, number,
	url, head_branch, base_branch, title, body, labels, status, created_at`

// Create inserts a pull request record.
func (s *PullRequestStore) Create(ctx context.Context, pr *model.PullRequest) error {
	labels, err := json.Marshal(orEmptyStrings(pr.Labels))
	if err != nil {
		return err
	}
	var verificationID *uuid.UUID
	if pr.VerificationID != uuid.Nil {
		verificationID = &pr.VerificationID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pull_requests (`+pullRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		pr.ID, pr.IncidentID, pr.PatchID, verificationID, pr.Number,
		pr.URL, pr.HeadBranch, pr.BaseBranch, pr.Title, pr.Body,
		labels, string(pr.Status), pr.CreatedAt)
	return err
}

// LatestByIncident fetches the most recent pull request for an incident.
func (s *PullRequestStore) LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.PullRequest, error) {
	var row pullRequestRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+pullRequestColumns+` FROM pull_requests
		WHERE incident_id = $1 ORDER BY created_at DESC LIMIT 1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodeIncidentNotFound,
			"no pull request for incident %s", incidentID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// UpdateStatus tracks the remote PR lifecycle (merged, closed).
func (s *PullRequestStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.PRStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.CodeIncidentNotFound, "pull request %s not found", id)
	}
	return nil
}

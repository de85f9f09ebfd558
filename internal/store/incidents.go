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

// IncidentStore persists the incident aggregate.
type IncidentStore struct {
	db *sqlx.DB
}

// incidentRow is the table shape of one incident.
type incidentRow struct {
	ID                uuid.UUID      `db:"id"`
	Title             string         `db:"title"`
	Description       string         `db:"description"`
	Severity          string         `db:"severity"`
	Source            string         `db:"source"`
	Status            string         `db:"status"`
	RepoURL           string         `db:"repo_url"`
	RepoOwner         string         `db:"repo_owner"`
	RepoName          string         `db:"repo_name"`
	RepoBranch        string         `db:"repo_branch"`
	RepoCommit        string         `db:"repo_commit"`
	Logs              string         `db:"logs"`
	Metadata          types.JSONText `db:"metadata"`
	Timeline          types.JSONText `db:"timeline"`
	ErrorMessage      string         `db:"error_message"`
	PRURL             string         `db:"pr_url"`
	BranchName        string         `db:"branch_name"`
	RetryCount        int            `db:"retry_count"`
	FeedbackIteration int            `db:"feedback_iteration"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func toIncidentRow(in *model.Incident) (*incidentRow, error) {
	metadata, err := json.Marshal(orEmptyMap(in.Metadata))
	if err != nil {
		return nil, err
	}
	timeline, err := json.Marshal(orEmptyTimeline(in.Timeline))
	if err != nil {
		return nil, err
	}
	return &incidentRow{
		ID:                in.ID,
		Title:             in.Title,
		Description:       in.Description,
		Severity:          string(in.Severity),
		Source:            string(in.Source),
		Status:            string(in.Status),
		RepoURL:           in.Repository.URL,
		RepoOwner:         in.Repository.Owner,
		RepoName:          in.Repository.Name,
		RepoBranch:        in.Repository.Branch,
		RepoCommit:        in.Repository.CommitSHA,
		Logs:              in.Logs,
		Metadata:          metadata,
		Timeline:          timeline,
		ErrorMessage:      in.ErrorMessage,
		PRURL:             in.PRURL,
		BranchName:        in.BranchName,
		RetryCount:        in.RetryCount,
		FeedbackIteration: in.FeedbackIteration,
		CreatedAt:         in.CreatedAt,
		UpdatedAt:         in.UpdatedAt,
	}, nil
}

func (r *incidentRow) toModel() (*model.Incident, error) {
	in := &model.Incident{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Severity:    model.Severity(r.Severity),
		Source:      model.Source(r.Source),
		Status:      model.Status(r.Status),
		Repository: model.Repository{
			URL:       r.RepoURL,
			Owner:     r.RepoOwner,
			Name:      r.RepoName,
			Branch:    r.RepoBranch,
			CommitSHA: r.RepoCommit,
		},
		Logs:              r.Logs,
		ErrorMessage:      r.ErrorMessage,
		PRURL:             r.PRURL,
		BranchName:        r.BranchName,
		RetryCount:        r.RetryCount,
		FeedbackIteration: r.FeedbackIteration,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &in.Metadata); err != nil {
			return nil, err
		}
	}
	if len(r.Timeline) > 0 {
		if err := json.Unmarshal(r.Timeline, &in.Timeline); err != nil {
			return nil, err
		}
	}
	return in, nil
}

const incidentColumns = `id, title, description, severity, source, status,
	repo_url, repo_owner, repo_name, repo_branch, repo_commit, logs,
	metadata, timeline, error_message, pr_url, branch_name,
	retry_count, feedback_iteration, created_at, updated_at`

// Create inserts a new incident.
func (s *IncidentStore) Create(ctx context.Context, in *model.Incident) error {
	row, err := toIncidentRow(in)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (:id, :title, :description, :severity, :source, :status,
			:repo_url, :repo_owner, :repo_name, :repo_branch, :repo_commit, :logs,
			:metadata, :timeline, :error_message, :pr_url, :branch_name,
			:retry_count, :feedback_iteration, :created_at, :updated_at)`, row)
	return err
}

// Get fetches one incident by id.
func (s *IncidentStore) Get(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.CodeIncidentNotFound, "incident %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// List returns incidents newest first, optionally filtered by status.
func (s *IncidentStore) List(ctx context.Context, status model.Status, limit, offset int) ([]*model.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []incidentRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+incidentColumns+` FROM incidents
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+incidentColumns+` FROM incidents WHERE status = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, string(status), limit, offset)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*model.Incident, 0, len(rows))
	for i := range rows {
		in, convErr := rows[i].toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, in)
	}
	return out, nil
}

// ListByStatuses returns every incident in any of the given states. The
// monitor uses this to find dormant sentinels.
func (s *IncidentStore) ListByStatuses(ctx context.Context, statuses ...model.Status) ([]*model.Incident, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	query, args, err := sqlx.In(
		`SELECT `+incidentColumns+` FROM incidents WHERE status IN (?) ORDER BY created_at`, vals)
	if err != nil {
		return nil, err
	}
	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*model.Incident, 0, len(rows))
	for i := range rows {
		in, convErr := rows[i].toModel()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, in)
	}
	return out, nil
}

// UpdateStatus writes the new state, appends the timeline event, and bumps
// updated_at in one statement. It is safe to call from a session that did
// not load the incident; the timeline append happens in the database.
func (s *IncidentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, details string) error {
	event, err := json.Marshal(model.TimelineEvent{
		State:     status,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET status = $2, timeline = timeline || $3::jsonb, updated_at = $4
		WHERE id = $1`,
		id, string(status), string(event), time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SetPR records the published pull request on the incident.
func (s *IncidentStore) SetPR(ctx context.Context, id uuid.UUID, prURL, branch string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET pr_url = $2, branch_name = $3, updated_at = $4
		WHERE id = $1`, id, prURL, branch, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// UpdateLogs replaces the raw logs, used when a webhook activates a dormant
// incident with the real failure output.
func (s *IncidentStore) UpdateLogs(ctx context.Context, id uuid.UUID, logs string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET logs = $2, updated_at = $3
		WHERE id = $1`, id, logs, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SetError records the terminal failure reason.
func (s *IncidentStore) SetError(ctx context.Context, id uuid.UUID, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET error_message = $2, updated_at = $3
		WHERE id = $1`, id, message, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// IncrementRetry bumps the retry counter and returns the new value.
func (s *IncidentStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE incidents SET retry_count = retry_count + 1, updated_at = $2
		WHERE id = $1 RETURNING retry_count`, id, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fault.New(fault.CodeIncidentNotFound, "incident %s not found", id)
	}
	return count, err
}

// IncrementFeedback bumps the refinement iteration counter and returns the
// new value.
func (s *IncidentStore) IncrementFeedback(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE incidents SET feedback_iteration = feedback_iteration + 1, updated_at = $2
		WHERE id = $1 RETURNING feedback_iteration`, id, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fault.New(fault.CodeIncidentNotFound, "incident %s not found", id)
	}
	return count, err
}

// Delete removes the incident; dependent rows cascade.
func (s *IncidentStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.CodeIncidentNotFound, "incident %s not found", id)
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyTimeline(t []model.TimelineEvent) []model.TimelineEvent {
	if t == nil {
		return []model.TimelineEvent{}
	}
	return t
}

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func testIncident() *model.Incident {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Incident{
		ID:       uuid.New(),
		Title:    "Payment worker crash",
		Severity: model.SeverityHigh,
		Source:   model.SourceCI,
		Status:   model.StatusPending,
		Repository: model.Repository{
			URL:    "https://github.com/acme/billing",
			Branch: "main",
		},
		Logs:      "Traceback ...",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- incidents ---

func TestIncidentCreate(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	in := testIncident()

	mock.ExpectExec("INSERT INTO incidents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Incidents.Create(context.Background(), in))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentGetNotFound(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM incidents WHERE id").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Incidents.Get(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, fault.CodeIncidentNotFound, fault.CodeOf(err, ""))
}

func TestIncidentUpdateStatusAppendsTimeline(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE incidents").
		WithArgs(id, string(model.StatusProcessing), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Incidents.UpdateStatus(context.Background(), id, model.StatusProcessing, "pipeline started")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentUpdateStatusMissingRow(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Incidents.UpdateStatus(context.Background(), id, model.StatusFailed, "x")
	require.Error(t, err)
	assert.Equal(t, fault.CodeIncidentNotFound, fault.CodeOf(err, ""))
}

func TestIncidentIncrementRetry(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE incidents SET retry_count").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

	count, err := s.Incidents.IncrementRetry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// --- artifacts ---

func TestArtifactSaveUpserts(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	incidentID := uuid.New()

	mock.ExpectExec("INSERT INTO analyses (.+) ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(0, 1))

	report := &model.DetectiveReport{IncidentID: incidentID, Category: model.CategoryLogic}
	require.NoError(t, s.Artifacts.Save(context.Background(), incidentID, StageDetective, report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArtifactLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	incidentID := uuid.New()

	mock.ExpectQuery("SELECT payload FROM analyses").
		WithArgs(incidentID, "detective").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"incident_id":"` + incidentID.String() + `","category":"logic","errors":null,"suspects":null,"confidence":0.8}`)))

	var report model.DetectiveReport
	require.NoError(t, s.Artifacts.Load(context.Background(), incidentID, StageDetective, &report))
	assert.Equal(t, model.CategoryLogic, report.Category)
	assert.InDelta(t, 0.8, report.Confidence, 1e-9)
}

// --- patches ---

func TestPatchCreateAndLatest(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	p := &model.Patch{
		ID:          uuid.New(),
		IncidentID:  uuid.New(),
		Diff:        "--- a/x\n+++ b/x\n",
		RootCause:   "off by one",
		Confidence:  0.9,
		Assumptions: []string{"a"},
		Files:       []model.FileChange{{Path: "x", Action: model.ActionModified}},
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO patches").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Patches.Create(context.Background(), p))

	rows := sqlmock.NewRows([]string{
		"id", "incident_id", "diff", "root_cause", "reasoning", "confidence",
		"assumptions", "risks", "files", "verified", "tokens_input",
		"tokens_output", "retries", "created_at",
	}).AddRow(
		p.ID, p.IncidentID, p.Diff, p.RootCause, "", p.Confidence,
		[]byte(`["a"]`), "", []byte(`[{"path":"x","action":"modified","additions":0,"deletions":0}]`),
		false, 0, 0, 0, p.CreatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM patches").
		WithArgs(p.IncidentID).
		WillReturnRows(rows)

	got, err := s.Patches.LatestByIncident(context.Background(), p.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, p.RootCause, got.RootCause)
	assert.Equal(t, []string{"a"}, got.Assumptions)
	require.Len(t, got.Files, 1)
	assert.Equal(t, model.ActionModified, got.Files[0].Action)
}

// --- audit ---

func TestAuditAppend(t *testing.T) {
	t.Parallel()

	s, mock := mockStore(t)
	incidentID := uuid.New()

	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Audit.Append(context.Background(), &model.AuditEvent{
		ID:         uuid.New(),
		IncidentID: &incidentID,
		Kind:       model.AuditStateTransition,
		Severity:   model.SeverityLow,
		Payload:    map[string]any{"from": "PENDING", "to": "PROCESSING"},
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

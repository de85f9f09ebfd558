package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// Stage names the pipeline stage an artifact belongs to.
type Stage string

const (
	StageSanitizer Stage = "sanitizer"
	StageDetective Stage = "detective"
	StageReasoner  Stage = "reasoner"
	StageVerifier  Stage = "verifier"
	StagePublisher Stage = "publisher"
)

// ArtifactStore persists per-stage artifact blobs in the analyses table.
// Refinement iterations overwrite the previous blob for the same stage.
type ArtifactStore struct {
	db *sqlx.DB
}

// Save upserts the artifact for (incident, stage).
func (s *ArtifactStore) Save(ctx context.Context, incidentID uuid.UUID, stage Stage, artifact any) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, incident_id, stage, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (incident_id, stage)
		DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		uuid.New(), incidentID, string(stage), payload, time.Now().UTC())
	return err
}

// Load unmarshals the artifact for (incident, stage) into out.
func (s *ArtifactStore) Load(ctx context.Context, incidentID uuid.UUID, stage Stage, out any) error {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM analyses WHERE incident_id = $1 AND stage = $2`,
		incidentID, string(stage))
	if errors.Is(err, sql.ErrNoRows) {
		return fault.New(fault.CodeIncidentNotFound,
			"no %s artifact for incident %s", stage, incidentID)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

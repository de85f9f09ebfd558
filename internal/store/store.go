// Package store is the persistence layer: PostgreSQL via sqlx, with
// goose-managed schema migrations. Each aggregate gets its own repository
// type sharing one connection pool.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/neverdownhq/neverdown/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store bundles the repositories over one pool.
type Store struct {
	db *sqlx.DB

	Incidents     *IncidentStore
	Artifacts     *ArtifactStore
	Patches       *PatchStore
	Verifications *VerificationStore
	PullRequests  *PullRequestStore
	Audit         *AuditStore
}

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL.Reveal())
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing pool. Tests use this with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		db:            db,
		Incidents:     &IncidentStore{db: db},
		Artifacts:     &ArtifactStore{db: db},
		Patches:       &PatchStore{db: db},
		Verifications: &VerificationStore{db: db},
		PullRequests:  &PullRequestStore{db: db},
		Audit:         &AuditStore{db: db},
	}
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

package model

import (
	"time"

	"github.com/google/uuid"
)

// FileAction classifies what a patch does to one file.
type FileAction string

const (
	ActionModified FileAction = "modified"
	ActionAdded    FileAction = "added"
	ActionDeleted  FileAction = "deleted"
	ActionRenamed  FileAction = "renamed"
)

// FileChange is the per-file manifest of a patch.
type FileChange struct {
	Path      string     `json:"path"`
	Action    FileAction `json:"action"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

// TokenUsage records language-model token consumption for one patch.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Patch is the reasoner stage's artifact: a validated unified diff plus the
// model's structured explanation.
type Patch struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`

	Diff        string       `json:"diff"`
	RootCause   string       `json:"root_cause"`
	Reasoning   string       `json:"reasoning"`
	Confidence  float64      `json:"confidence"`
	Assumptions []string     `json:"assumptions,omitempty"`
	Risks       string       `json:"risks,omitempty"`
	Files       []FileChange `json:"files"`

	Verified   bool       `json:"verified"`
	TokenUsage TokenUsage `json:"token_usage"`
	Retries    int        `json:"retries"`
	CreatedAt  time.Time  `json:"created_at"`
}

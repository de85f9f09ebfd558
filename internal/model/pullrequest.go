package model

import (
	"time"

	"github.com/google/uuid"
)

// PRStatus is the lifecycle state of a published pull request.
type PRStatus string

const (
	PRPending PRStatus = "pending"
	PRDraft   PRStatus = "draft"
	PROpen    PRStatus = "open"
	PRMerged  PRStatus = "merged"
	PRClosed  PRStatus = "closed"
)

// PullRequest is the publisher stage's artifact.
type PullRequest struct {
	ID             uuid.UUID `json:"id"`
	IncidentID     uuid.UUID `json:"incident_id"`
	PatchID        uuid.UUID `json:"patch_id"`
	VerificationID uuid.UUID `json:"verification_id"`

	Number     int      `json:"number"`
	URL        string   `json:"url"`
	HeadBranch string   `json:"head_branch"`
	BaseBranch string   `json:"base_branch"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Labels     []string `json:"labels,omitempty"`
	Status     PRStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

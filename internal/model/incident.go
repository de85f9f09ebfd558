// Package model defines the persisted data model shared by the pipeline,
// storage, and API layers: incidents, per-stage reports, patches,
// verification results, pull requests, and audit events.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades an incident or a detected secret.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var validSeverities = map[Severity]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool { return validSeverities[s] }

// Source identifies where an incident came from.
type Source string

const (
	SourceCI         Source = "ci"
	SourceLogs       Source = "logs"
	SourceMonitoring Source = "monitoring"
	SourceWebhook    Source = "webhook"
	SourceManual     Source = "manual"
)

var validSources = map[Source]bool{
	SourceCI:         true,
	SourceLogs:       true,
	SourceMonitoring: true,
	SourceWebhook:    true,
	SourceManual:     true,
}

// Valid reports whether s is a recognized source.
func (s Source) Valid() bool { return validSources[s] }

// Status is an incident's position in the remediation state machine.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusMonitoring     Status = "MONITORING"
	StatusProcessing     Status = "PROCESSING"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusPRCreated      Status = "PR_CREATED"
	StatusResolved       Status = "RESOLVED"
	StatusFailed         Status = "FAILED"
	StatusRetrying       Status = "RETRYING"
)

var validStatuses = map[Status]bool{
	StatusPending:        true,
	StatusMonitoring:     true,
	StatusProcessing:     true,
	StatusAwaitingReview: true,
	StatusPRCreated:      true,
	StatusResolved:       true,
	StatusFailed:         true,
	StatusRetrying:       true,
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether the status permits a retry reset.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusResolved
}

// Repository describes the target repository of an incident.
type Repository struct {
	URL       string `json:"url"`
	Owner     string `json:"owner,omitempty"`
	Name      string `json:"name,omitempty"`
	Branch    string `json:"branch,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// TimelineEvent is one append-only entry in an incident's state history.
type TimelineEvent struct {
	State     Status    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Incident is the root aggregate of the pipeline. It is created on ingress
// and mutated only through the orchestrator's state machine.
type Incident struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Severity    Severity   `json:"severity" db:"severity"`
	Source      Source     `json:"source" db:"source"`
	Status      Status     `json:"status" db:"status"`
	Repository  Repository `json:"repository" db:"-"`

	// Logs is the raw log text supplied at ingress. May be empty for
	// dormant sentinels.
	Logs string `json:"logs,omitempty" db:"logs"`

	// Metadata carries ingress context: triggering user, workflow name,
	// job URL, alert id, tags.
	Metadata map[string]any `json:"metadata,omitempty" db:"-"`

	Timeline []TimelineEvent `json:"timeline" db:"-"`

	// ErrorMessage is the last terminal failure reason.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// PRURL and BranchName point at the latest published fix.
	PRURL      string `json:"pr_url,omitempty" db:"pr_url"`
	BranchName string `json:"branch_name,omitempty" db:"branch_name"`

	RetryCount        int `json:"retry_count" db:"retry_count"`
	FeedbackIteration int `json:"feedback_iteration" db:"feedback_iteration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AppendTimeline records a transition on the in-memory incident.
func (in *Incident) AppendTimeline(state Status, details string) {
	in.Timeline = append(in.Timeline, TimelineEvent{
		State:     state,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
}

package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/pipeline"
)

// createIncidentRequest is the POST /incidents body.
type createIncidentRequest struct {
	Title       string         `json:"title" validate:"required,max=500"`
	Description string         `json:"description" validate:"max=5000"`
	Severity    string         `json:"severity" validate:"required,oneof=critical high medium low"`
	Source      string         `json:"source" validate:"required,oneof=ci logs monitoring webhook manual"`
	Logs        string         `json:"logs"`
	Repository  repositoryDTO  `json:"repository" validate:"required"`
	Metadata    map[string]any `json:"metadata"`
}

type repositoryDTO struct {
	URL       string `json:"url" validate:"required"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`
}

// toIncident materialises the aggregate, deciding between PENDING and the
// dormant MONITORING state from the supplied logs.
func (r *createIncidentRequest) toIncident(now time.Time) *model.Incident {
	status := model.StatusPending
	details := "incident created"
	if pipeline.IsDormantSentinel(r.Logs) {
		status = model.StatusMonitoring
		details = "logs too sparse to analyse, waiting for failure output"
	}
	in := &model.Incident{
		ID:          uuid.New(),
		Title:       r.Title,
		Description: r.Description,
		Severity:    model.Severity(r.Severity),
		Source:      model.Source(r.Source),
		Status:      status,
		Repository: model.Repository{
			URL:       r.Repository.URL,
			Branch:    r.Repository.Branch,
			CommitSHA: r.Repository.CommitSHA,
		},
		Logs:      r.Logs,
		Metadata:  r.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.AppendTimeline(status, details)
	return in
}

// feedbackRequest is the POST /incidents/{id}/feedback body.
type feedbackRequest struct {
	Decision     string `json:"decision" validate:"required,oneof=approve request_changes"`
	FeedbackText string `json:"feedback_text" validate:"max=5000"`
}

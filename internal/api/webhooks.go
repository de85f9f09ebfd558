package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

const deliveryLogSize = 512

// githubEvent is the subset of GitHub webhook payloads the receiver reads.
type githubEvent struct {
	Action     string `json:"action"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
	WorkflowRun *struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
	} `json:"workflow_run"`
	CheckRun *struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
		HeadSHA    string `json:"head_sha"`
		Output     struct {
			Summary string `json:"summary"`
			Text    string `json:"text"`
		} `json:"output"`
		CheckSuite struct {
			HeadBranch string `json:"head_branch"`
		} `json:"check_suite"`
	} `json:"check_run"`
	CheckSuite *struct {
		Conclusion string `json:"conclusion"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
	} `json:"check_suite"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid_payload", "could not read request body")
		return
	}
	if s.gh.WebhookSecret.Set() {
		if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.gh.WebhookSecret.Reveal()) {
			s.warnf("webhook signature rejected", "event", r.Header.Get("X-GitHub-Event"))
			writeErrorMsg(w, http.StatusUnauthorized, "invalid_signature", "webhook signature did not verify")
			return
		}
	}
	if delivery := r.Header.Get("X-GitHub-Delivery"); delivery != "" && !s.deliveries.record(delivery) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "delivery": delivery})
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	case "workflow_run", "check_run", "check_suite":
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "event": event})
		return
	}

	var payload githubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid_payload", "payload is not valid JSON")
		return
	}

	fail, ok := failureFrom(event, &payload)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "not a failure"})
		return
	}
	s.ingestFailure(w, r, fail)
}

// ciFailure is a normalised failing CI event.
type ciFailure struct {
	Title       string
	Description string
	Severity    model.Severity
	Source      model.Source
	Logs        string
	RepoURL     string
	Branch      string
	CommitSHA   string
	Metadata    map[string]any
}

// failureFrom reduces a webhook payload to a failure to ingest. Completed
// runs with any conclusion other than "failure" are ignored.
func failureFrom(event string, p *githubEvent) (*ciFailure, bool) {
	switch event {
	case "workflow_run":
		wr := p.WorkflowRun
		if wr == nil || p.Action != "completed" || wr.Conclusion != "failure" {
			return nil, false
		}
		return &ciFailure{
			Title:       "CI Failure: " + orUnknown(wr.Name, "Unknown workflow"),
			Description: "GitHub Actions workflow failed on branch " + wr.HeadBranch,
			Severity:    model.SeverityHigh,
			Source:      model.SourceCI,
			Logs:        fmt.Sprintf("workflow %q concluded failure on branch %s\nrun: %s", wr.Name, wr.HeadBranch, wr.HTMLURL),
			RepoURL:     p.Repository.HTMLURL,
			Branch:      wr.HeadBranch,
			CommitSHA:   wr.HeadSHA,
			Metadata: map[string]any{
				"workflow_name": wr.Name,
				"job_url":       wr.HTMLURL,
			},
		}, true

	case "check_run":
		cr := p.CheckRun
		if cr == nil || p.Action != "completed" || cr.Conclusion != "failure" {
			return nil, false
		}
		logs := cr.Output.Text
		if logs == "" {
			logs = fmt.Sprintf("check %q concluded failure\nrun: %s", cr.Name, cr.HTMLURL)
		}
		return &ciFailure{
			Title:       "Check Failed: " + orUnknown(cr.Name, "Unknown check"),
			Description: orUnknown(cr.Output.Summary, "Check run failed"),
			Severity:    model.SeverityMedium,
			Source:      model.SourceCI,
			Logs:        logs,
			RepoURL:     p.Repository.HTMLURL,
			Branch:      cr.CheckSuite.HeadBranch,
			CommitSHA:   cr.HeadSHA,
			Metadata:    map[string]any{"job_url": cr.HTMLURL},
		}, true

	case "check_suite":
		cs := p.CheckSuite
		if cs == nil || p.Action != "completed" || cs.Conclusion != "failure" {
			return nil, false
		}
		return &ciFailure{
			Title:       "Check Suite Failed",
			Description: "Check suite concluded failure on branch " + cs.HeadBranch,
			Severity:    model.SeverityMedium,
			Source:      model.SourceCI,
			Logs:        fmt.Sprintf("check suite concluded failure on branch %s at %s", cs.HeadBranch, cs.HeadSHA),
			RepoURL:     p.Repository.HTMLURL,
			Branch:      cs.HeadBranch,
			CommitSHA:   cs.HeadSHA,
			Metadata:    map[string]any{},
		}, true
	}
	return nil, false
}

// ingestFailure either wakes a dormant incident watching the repository or
// creates a fresh one.
func (s *Server) ingestFailure(w http.ResponseWriter, r *http.Request, fail *ciFailure) {
	if !s.repoAllowed(fail.RepoURL) {
		writeError(w, fault.New(fault.CodeUnauthorizedRepo,
			"repository %s is not on the allow-list", fail.RepoURL))
		return
	}

	if id, err := s.deps.Pipeline.ActivateFromWebhook(r.Context(), fail.RepoURL, fail.Logs); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "incident_id": id})
		return
	} else if !errors.Is(err, fault.New(fault.CodeIncidentNotFound, "")) {
		writeError(w, err)
		return
	}

	in := &model.Incident{
		ID:          uuid.New(),
		Title:       fail.Title,
		Description: fail.Description,
		Severity:    fail.Severity,
		Source:      fail.Source,
		Status:      model.StatusPending,
		Repository: model.Repository{
			URL:       fail.RepoURL,
			Branch:    fail.Branch,
			CommitSHA: fail.CommitSHA,
		},
		Logs:      fail.Logs,
		Metadata:  fail.Metadata,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	in.AppendTimeline(model.StatusPending, "incident created from webhook")

	if err := s.deps.Incidents.Create(r.Context(), in); err != nil {
		s.warnf("incident insert failed", "err", err)
		writeError(w, err)
		return
	}
	if err := s.deps.Pipeline.Enqueue(in.ID); err != nil {
		s.warnf("enqueue failed", "incident", in.ID, "err", err)
	}
	s.logf("incident created from webhook", "incident", in.ID, "title", in.Title)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "incident_id": in.ID})
}

// datadogAlert is the subset of a Datadog webhook body the receiver reads.
type datadogAlert struct {
	ID        json.Number `json:"id"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	EventType string      `json:"event_type"`
	EventMsg  string      `json:"event_msg"`
	Priority  string      `json:"priority"`
	Tags      any         `json:"tags"`
}

func (s *Server) handleDatadogWebhook(w http.ResponseWriter, r *http.Request) {
	var alert datadogAlert
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&alert); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid_payload", "payload is not valid JSON")
		return
	}
	if !strings.Contains(strings.ToLower(alert.EventType), "alert") {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "not an alert"})
		return
	}

	severity := model.SeverityMedium
	if alert.Priority == "P1" {
		severity = model.SeverityHigh
	}
	repoURL, branch, tags := datadogTags(alert.Tags)

	s.ingestFailure(w, r, &ciFailure{
		Title:       orUnknown(alert.Title, "Datadog Alert"),
		Description: alert.Body,
		Severity:    severity,
		Source:      model.SourceMonitoring,
		Logs:        alert.EventMsg,
		RepoURL:     repoURL,
		Branch:      branch,
		Metadata: map[string]any{
			"alert_id": alert.ID.String(),
			"tags":     tags,
		},
	})
}

// datadogTags extracts repository and branch hints. Datadog sends tags either
// as a "key:value" string list or, from some integrations, as an object.
func datadogTags(raw any) (repoURL, branch string, tags []string) {
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			tag, ok := item.(string)
			if !ok {
				continue
			}
			tags = append(tags, tag)
			if rest, found := strings.CutPrefix(tag, "repository:"); found {
				repoURL = rest
			}
			if rest, found := strings.CutPrefix(tag, "branch:"); found {
				branch = rest
			}
		}
	case map[string]any:
		if s, ok := v["repository"].(string); ok {
			repoURL = s
		}
		if s, ok := v["branch"].(string); ok {
			branch = s
		}
	}
	return repoURL, branch, tags
}

// verifySignature checks the GitHub HMAC-SHA256 header over the raw body.
func verifySignature(body []byte, header, secret string) bool {
	rest, found := strings.CutPrefix(header, "sha256=")
	if !found {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(rest))
}

// deliveryLog remembers recent webhook delivery ids so a replayed delivery
// does not create a duplicate incident.
type deliveryLog struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	cap   int
}

func newDeliveryLog(capacity int) *deliveryLog {
	return &deliveryLog{seen: make(map[string]bool, capacity), cap: capacity}
}

// record reports whether the delivery id is new and remembers it.
func (d *deliveryLog) record(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	d.order = append(d.order, id)
	if len(d.order) > d.cap {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}

func orUnknown(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

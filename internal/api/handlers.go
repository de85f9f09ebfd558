package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.repoAllowed(req.Repository.URL) {
		writeError(w, fault.New(fault.CodeUnauthorizedRepo,
			"repository %s is not on the allow-list", req.Repository.URL))
		return
	}

	in := req.toIncident(time.Now().UTC())
	if err := s.deps.Incidents.Create(r.Context(), in); err != nil {
		s.warnf("incident insert failed", "err", err)
		writeError(w, err)
		return
	}
	if in.Status == model.StatusPending {
		if err := s.deps.Pipeline.Enqueue(in.ID); err != nil {
			// The incident is persisted; a retry request can pick it up.
			s.warnf("enqueue failed", "incident", in.ID, "err", err)
		}
	}
	s.logf("incident created", "incident", in.ID, "status", in.Status, "source", in.Source)
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := model.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		writeErrorMsg(w, http.StatusBadRequest, "validation_error", "unknown status "+string(status))
		return
	}
	severity := model.Severity(q.Get("severity"))
	if severity != "" && !severity.Valid() {
		writeErrorMsg(w, http.StatusBadRequest, "validation_error", "unknown severity "+string(severity))
		return
	}
	limit := intQuery(q.Get("limit"), 50)
	offset := intQuery(q.Get("offset"), 0)

	incidents, err := s.deps.Incidents.List(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if severity != "" {
		filtered := incidents[:0]
		for _, in := range incidents {
			if in.Severity == severity {
				filtered = append(filtered, in)
			}
		}
		incidents = filtered
	}
	if incidents == nil {
		incidents = []*model.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := s.incidentID(w, r)
	if !ok {
		return
	}
	in, err := s.deps.Incidents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleDeleteIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := s.incidentID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Incidents.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.incidentID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Pipeline.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"incident_id": id,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.incidentID(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	switch req.Decision {
	case "approve":
		if err := s.deps.Pipeline.Approve(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		in, err := s.deps.Incidents.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, in)

	case "request_changes":
		in, err := s.deps.Incidents.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if in.Status != model.StatusAwaitingReview {
			writeError(w, fault.New(fault.CodeInvalidStateTransition,
				"feedback requires an incident awaiting review, got %s", in.Status))
			return
		}
		text := req.FeedbackText
		if text == "" {
			text = "reviewer requested changes"
		}
		// Refinement re-runs reasoning, sandboxed tests, and the publish,
		// which can take minutes. The request only queues it.
		go func() {
			if err := s.deps.Pipeline.RequestChanges(context.Background(), id, text); err != nil {
				s.warnf("refinement failed", "incident", id, "err", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":      "refining",
			"incident_id": id,
		})
	}
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.incidentID(w, r)
	if !ok {
		return
	}
	stage := store.Stage(chi.URLParam(r, "stage"))

	var raw json.RawMessage
	if err := s.deps.Artifacts.Load(r.Context(), id, stage, &raw); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// decode reads, parses, and validates a JSON request body. It writes the
// error response itself and reports success.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

func (s *Server) incidentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "validation_error", "malformed incident id")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

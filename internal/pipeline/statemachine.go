package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/audit"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// allowedTransitions is the closed state-machine edge set. RETRYING is the
// holding state a terminal incident enters when a retry is requested, before
// a worker resets it to PENDING.
var allowedTransitions = map[model.Status][]model.Status{
	model.StatusPending:        {model.StatusMonitoring, model.StatusProcessing},
	model.StatusMonitoring:     {model.StatusProcessing},
	model.StatusProcessing:     {model.StatusAwaitingReview, model.StatusPRCreated, model.StatusFailed, model.StatusPending},
	model.StatusPRCreated:      {model.StatusAwaitingReview, model.StatusResolved},
	model.StatusAwaitingReview: {model.StatusResolved, model.StatusProcessing},
	model.StatusFailed:         {model.StatusPending, model.StatusRetrying},
	model.StatusResolved:       {model.StatusPending, model.StatusRetrying},
	model.StatusRetrying:       {model.StatusPending, model.StatusProcessing},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to model.Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusWriter persists a validated status change.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, details string) error
}

// Machine applies state transitions: validate, persist, timeline, audit.
// The persistence call goes through the shared pool on its own connection,
// so a failing pipeline task cannot take the terminal status write down
// with it.
type Machine struct {
	incidents StatusWriter
	audit     *audit.Logger
}

// NewMachine builds a state machine over the incident store.
func NewMachine(incidents StatusWriter, auditor *audit.Logger) *Machine {
	return &Machine{incidents: incidents, audit: auditor}
}

// Transition moves the incident to the new state. An illegal edge is a typed
// error and mutates nothing; the in-memory incident is updated only after
// the database write succeeds.
func (m *Machine) Transition(ctx context.Context, in *model.Incident, to model.Status, details string) error {
	if !CanTransition(in.Status, to) {
		return fault.New(fault.CodeInvalidStateTransition,
			"cannot move incident from %s to %s", in.Status, to).
			WithDetail("from", string(in.Status)).
			WithDetail("to", string(to))
	}
	if err := m.incidents.UpdateStatus(ctx, in.ID, to, details); err != nil {
		return err
	}

	from := in.Status
	in.Status = to
	in.AppendTimeline(to, details)

	if m.audit != nil {
		m.audit.StateTransition(ctx, in.ID, from, to, details)
	}
	return nil
}

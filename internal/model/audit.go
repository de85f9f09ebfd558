package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind classifies an audit event.
type AuditKind string

const (
	AuditStateTransition AuditKind = "state_transition"
	AuditAgentExecution  AuditKind = "agent_execution"
	AuditAPICall         AuditKind = "api_call"
	AuditSecurityEvent   AuditKind = "security_event"
)

// AuditEvent is one append-only record in the audit log. The payload is
// redacted against the sensitive-key denylist before it ever reaches here.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	IncidentID *uuid.UUID     `json:"incident_id,omitempty"`
	Kind       AuditKind      `json:"kind"`
	Severity   Severity       `json:"severity"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Package audit appends security-relevant events to the audit_log table and
// mirrors them to the structured log. Every payload is recursively redacted
// against a sensitive-key denylist before it is persisted or printed.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/store"
)

// redactedValue replaces any value under a sensitive key.
const redactedValue = "<redacted>"

// sensitiveKeyParts flag a payload key as secret-bearing when any of them
// appears in the lowercased key.
var sensitiveKeyParts = []string{
	"password", "passwd", "pwd", "token", "secret", "key",
	"auth", "credential", "private", "cert", "signature", "salt",
}

// Logger records audit events. A nil store drops persistence but keeps the
// log mirror, so early-startup events are never lost silently.
type Logger struct {
	store  *store.AuditStore
	logger *log.Logger
}

// New builds an audit logger.
func New(s *store.AuditStore, l *log.Logger) *Logger {
	return &Logger{store: s, logger: l}
}

// Record appends one event. The payload is redacted first; persistence
// failures are logged and swallowed because auditing must never take the
// pipeline down.
func (a *Logger) Record(ctx context.Context, kind model.AuditKind, severity model.Severity, incidentID *uuid.UUID, payload map[string]any) {
	redacted, _ := RedactValue(payload).(map[string]any)

	event := &model.AuditEvent{
		ID:         uuid.New(),
		IncidentID: incidentID,
		Kind:       kind,
		Severity:   severity,
		Payload:    redacted,
		Timestamp:  time.Now().UTC(),
	}

	if a.logger != nil {
		kv := []any{"kind", kind, "severity", severity}
		if incidentID != nil {
			kv = append(kv, "incident", *incidentID)
		}
		for k, v := range redacted {
			kv = append(kv, k, v)
		}
		if severity == model.SeverityCritical || severity == model.SeverityHigh {
			a.logger.Warn("audit", kv...)
		} else {
			a.logger.Info("audit", kv...)
		}
	}

	if a.store == nil {
		return
	}
	if err := a.store.Append(ctx, event); err != nil && a.logger != nil {
		a.logger.Error("audit event not persisted", "kind", kind, "error", err)
	}
}

// StateTransition records one state-machine move.
func (a *Logger) StateTransition(ctx context.Context, incidentID uuid.UUID, from, to model.Status, details string) {
	a.Record(ctx, model.AuditStateTransition, model.SeverityLow, &incidentID, map[string]any{
		"from":    string(from),
		"to":      string(to),
		"details": details,
	})
}

// AgentExecution records one pipeline-stage run.
func (a *Logger) AgentExecution(ctx context.Context, incidentID uuid.UUID, stage string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["stage"] = stage
	a.Record(ctx, model.AuditAgentExecution, model.SeverityLow, &incidentID, payload)
}

// SecurityEvent records a critical security finding, such as a sanitizer
// halt.
func (a *Logger) SecurityEvent(ctx context.Context, incidentID *uuid.UUID, payload map[string]any) {
	a.Record(ctx, model.AuditSecurityEvent, model.SeverityCritical, incidentID, payload)
}

// RedactValue walks maps and slices, replacing values under sensitive keys.
// Scalars pass through untouched; only key names trigger redaction.
func RedactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = RedactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = RedactValue(inner)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

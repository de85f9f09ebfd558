package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactValue(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"user":         "alice",
		"api_key":      "sk-123",
		"GITHUB_TOKEN": "ghp_abc",
		"nested": map[string]any{
			"db_password": "hunter2",
			"host":        "db.internal",
		},
		"attempts": []any{
			map[string]any{"authToken": "xyz", "status": "failed"},
		},
		"count": 3,
	}

	got := RedactValue(payload).(map[string]any)

	assert.Equal(t, "alice", got["user"])
	assert.Equal(t, "<redacted>", got["api_key"])
	assert.Equal(t, "<redacted>", got["GITHUB_TOKEN"])
	assert.Equal(t, 3, got["count"])

	nested := got["nested"].(map[string]any)
	assert.Equal(t, "<redacted>", nested["db_password"])
	assert.Equal(t, "db.internal", nested["host"])

	attempt := got["attempts"].([]any)[0].(map[string]any)
	assert.Equal(t, "<redacted>", attempt["authToken"])
	assert.Equal(t, "failed", attempt["status"])

	// The input is never mutated.
	assert.Equal(t, "sk-123", payload["api_key"])
}

func TestSensitiveKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"DB_PASSWORD", true},
		{"webhook_secret", true},
		{"privateKey", true},
		{"username", false},
		{"repo_url", false},
		{"monkey", true}, // contains "key"; the denylist is deliberately coarse
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sensitiveKey(tt.key), tt.key)
	}
}

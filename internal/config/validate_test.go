package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findIssue returns the first issue for the given field, or nil.
func findIssue(vr *ValidationResult, field string) *ValidationIssue {
	for i := range vr.Issues {
		if vr.Issues[i].Field == field {
			return &vr.Issues[i]
		}
	}
	return nil
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	vr := Validate(NewDefaults(), nil)
	assert.False(t, vr.HasErrors(), "defaults must validate: %+v", vr.Errors())
	// Missing credentials surface as warnings only.
	assert.True(t, vr.HasWarnings())
}

func TestValidateRejectsZeroSandboxTimeout(t *testing.T) {
	t.Parallel()

	s := NewDefaults()
	s.Sandbox.Timeout = 0

	vr := Validate(s, nil)
	require.True(t, vr.HasErrors())
	issue := findIssue(vr, "sandbox.timeout")
	require.NotNil(t, issue)
	assert.Equal(t, SeverityError, issue.Severity)
}

func TestValidateLLM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{
			name:   "unknown provider",
			mutate: func(s *Settings) { s.LLM.Provider = "bard" },
			field:  "llm.provider",
		},
		{
			name:   "empty model",
			mutate: func(s *Settings) { s.LLM.Model = "" },
			field:  "llm.model",
		},
		{
			name:   "temperature out of range",
			mutate: func(s *Settings) { s.LLM.Temperature = 3.5 },
			field:  "llm.temperature",
		},
		{
			name:   "zero max tokens",
			mutate: func(s *Settings) { s.LLM.MaxTokens = 0 },
			field:  "llm.max_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewDefaults()
			tt.mutate(s)
			vr := Validate(s, nil)
			require.True(t, vr.HasErrors())
			assert.NotNil(t, findIssue(vr, tt.field))
		})
	}
}

func TestValidateConfidenceThresholdRange(t *testing.T) {
	t.Parallel()

	s := NewDefaults()
	s.Reasoner.ConfidenceThreshold = 1.5

	vr := Validate(s, nil)
	require.True(t, vr.HasErrors())
	assert.NotNil(t, findIssue(vr, "reasoner.confidence_threshold"))
}

func TestValidateMemoryLimitFormat(t *testing.T) {
	t.Parallel()

	s := NewDefaults()
	s.Sandbox.MemoryLimit = "lots"

	vr := Validate(s, nil)
	require.True(t, vr.HasErrors())
	assert.NotNil(t, findIssue(vr, "sandbox.memory_limit"))
}

func TestValidateWorkspaceRootsMustDiffer(t *testing.T) {
	t.Parallel()

	s := NewDefaults()
	s.Workspace.SanitizedRoot = s.Workspace.CloneRoot

	vr := Validate(s, nil)
	assert.True(t, vr.HasErrors())
}

func TestValidateInvalidExtraPatternIsWarningOnly(t *testing.T) {
	t.Parallel()

	s := NewDefaults()
	s.Sanitizer.ExtraPatterns = []PatternConfig{
		{Name: "broken", Regex: "([unclosed", Severity: "high"},
	}

	vr := Validate(s, nil)
	assert.False(t, vr.HasErrors())
	assert.True(t, vr.HasWarnings())
}

func TestValidateNil(t *testing.T) {
	t.Parallel()

	vr := Validate(nil, nil)
	assert.True(t, vr.HasErrors())
}

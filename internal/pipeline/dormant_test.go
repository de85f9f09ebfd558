package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDormantSentinel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		logs string
		want bool
	}{
		{"empty", "", true},
		{"whitespace only", "   \n\t\n  ", true},
		{"short placeholder", "pending", true},
		{"short but names an error", "error!", false},
		{"uppercase error token", "ERROR", false},
		{"long output", "the deploy finished without incident at 14:02 UTC", false},
		{"at the cap", "monitor this repo please", false}, // 21 non-blank chars
		{"just under the cap", "monitor this repo pls", true}, // 18 non-blank chars
		{"short with embedded error word", "Error: x", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsDormantSentinel(tt.logs))
		})
	}
}

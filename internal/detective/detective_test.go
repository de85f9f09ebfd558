package detective

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

func TestAnalyzeNameErrorScenario(t *testing.T) {
	t.Parallel()

	logs := `Traceback (most recent call last):
  File "backend/index.js", line 15, in start
    server.listen(PORT)
NameError: name 'PORT' is not defined
`
	d := New()
	report, err := d.Analyze(context.Background(), uuid.New(), logs, nil)
	require.NoError(t, err)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "NameError", report.Errors[0].Kind)
	assert.Equal(t, model.CategoryName, report.Category)

	require.Len(t, report.Suspects, 1)
	suspect := report.Suspects[0]
	assert.Equal(t, "backend/index.js", suspect.Path)
	assert.GreaterOrEqual(t, suspect.Confidence, 0.7)
	assert.Contains(t, suspect.Lines, 15)

	assert.Equal(t, suspect.Confidence, report.Confidence)
}

func TestAnalyzeEmptyLogs(t *testing.T) {
	t.Parallel()

	d := New()
	report, err := d.Analyze(context.Background(), uuid.New(), "nothing to see here", nil)

	require.Error(t, err)
	assert.Equal(t, fault.CodeDetectiveError, fault.CodeOf(err, ""))
	require.NotNil(t, report, "an empty report still comes back for context decisions")
	assert.Empty(t, report.Errors)
	assert.Equal(t, model.CategoryUnknown, report.Category)
	assert.Zero(t, report.Confidence)
}

func TestAnalyzeGenericErrorLine(t *testing.T) {
	t.Parallel()

	logs := `ERROR: division by zero in calc/ratio.py:7`
	report, err := New().Analyze(context.Background(), uuid.New(), logs, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Suspects)
}

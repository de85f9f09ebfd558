package verifier

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/model"
)

// --- parsePytest ---

func TestParsePytest(t *testing.T) {
	t.Parallel()

	output := `============================= test session starts ==============================
collected 4 items

tests/test_app.py::test_avg_empty PASSED                                 [ 25%]
tests/test_app.py::test_avg_values PASSED                                [ 50%]
tests/test_app.py::test_avg_negative FAILED                              [ 75%]
tests/test_db.py::test_connect SKIPPED                                   [100%]

=========================== short test summary info ============================
FAILED tests/test_app.py::test_avg_negative - assert -1 == 1
`
	results := parsePytest(output)
	require.Len(t, results, 4)
	assert.Equal(t, "tests/test_app.py::test_avg_empty", results[0].Name)
	assert.Equal(t, model.TestPassed, results[0].Outcome)
	assert.Equal(t, model.TestFailed, results[2].Outcome)
	assert.Equal(t, model.TestSkipped, results[3].Outcome)
}

// --- parseJest ---

func TestParseJest(t *testing.T) {
	t.Parallel()

	output := `PASS src/avg.test.js
  avg
    ✓ returns zero for empty input (3 ms)
    ✓ averages values (1 ms)
    ✕ handles negatives (7 ms)
    ○ skipped flaky case
`
	results := parseJest(output)
	require.Len(t, results, 4)
	assert.Equal(t, "returns zero for empty input", results[0].Name)
	assert.Equal(t, model.TestPassed, results[0].Outcome)
	assert.Equal(t, 3*time.Millisecond, results[0].Duration)
	assert.Equal(t, model.TestFailed, results[2].Outcome)
	assert.Equal(t, model.TestSkipped, results[3].Outcome)
	assert.Equal(t, "skipped flaky case", results[3].Name)
}

// --- parseUnittest ---

func TestParseUnittest(t *testing.T) {
	t.Parallel()

	output := `test_avg_empty (tests.test_app.AvgTests) ... ok
test_avg_values (tests.test_app.AvgTests) ... ok
test_avg_negative (tests.test_app.AvgTests) ... FAIL
test_connect (tests.test_db.DBTests) ... ERROR
test_flaky (tests.test_db.DBTests) ... skipped 'known flake'

======================================================================
FAIL: test_avg_negative (tests.test_app.AvgTests)
`
	results := parseUnittest(output)
	require.Len(t, results, 5)
	assert.Equal(t, "tests.test_app.AvgTests.test_avg_empty", results[0].Name)
	assert.Equal(t, model.TestPassed, results[0].Outcome)
	assert.Equal(t, model.TestFailed, results[2].Outcome)
	assert.Equal(t, model.TestError, results[3].Outcome)
	assert.Equal(t, model.TestSkipped, results[4].Outcome)
}

func TestParseCapsResultCount(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "tests/test_big.py::test_case_%d PASSED\n", i)
	}
	assert.Len(t, parsePytest(sb.String()), maxTestResults)
}

// --- aggregate ---

func TestAggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outcomes []model.TestOutcome
		want     model.VerificationStatus
	}{
		{"any failure fails", []model.TestOutcome{model.TestPassed, model.TestFailed}, model.VerificationFailed},
		{"errors fail", []model.TestOutcome{model.TestPassed, model.TestError}, model.VerificationFailed},
		{"only errors fail", []model.TestOutcome{model.TestError}, model.VerificationFailed},
		{"all passing passes", []model.TestOutcome{model.TestPassed, model.TestSkipped}, model.VerificationPassed},
		{"only skips is no tests", []model.TestOutcome{model.TestSkipped}, model.VerificationNoTests},
		{"empty is no tests", nil, model.VerificationNoTests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := &model.VerificationResult{}
			for i, o := range tt.outcomes {
				result.Tests = append(result.Tests, model.TestResult{
					Name:    fmt.Sprintf("t%d", i),
					Outcome: o,
				})
			}
			aggregate(result)
			assert.Equal(t, tt.want, result.Status)
		})
	}
}

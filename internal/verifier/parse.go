package verifier

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/neverdownhq/neverdown/internal/model"
)

// maxTestResults caps the per-run record list persisted and published.
const maxTestResults = 50

var (
	pytestResultRe = regexp.MustCompile(`(?m)^(\S+::\S+)\s+(PASSED|FAILED|SKIPPED|ERROR)`)

	jestResultRe = regexp.MustCompile(`(?m)^\s*(✓|✕|○)\s+(.+?)(?:\s+\((\d+)\s*ms\))?\s*$`)

	unittestResultRe = regexp.MustCompile(`(?m)^(\w+)\s+\(([\w.]+)\)\s+\.\.\.\s+(ok|FAIL|ERROR|skipped.*)$`)
)

// parseOutput normalises framework stdout into test records.
func parseOutput(framework Framework, output string) []model.TestResult {
	switch framework {
	case FrameworkPytest:
		return parsePytest(output)
	case FrameworkJest:
		return parseJest(output)
	case FrameworkUnittest:
		return parseUnittest(output)
	default:
		return nil
	}
}

func parsePytest(output string) []model.TestResult {
	var results []model.TestResult
	for _, m := range pytestResultRe.FindAllStringSubmatch(output, -1) {
		outcome := model.TestError
		switch m[2] {
		case "PASSED":
			outcome = model.TestPassed
		case "FAILED":
			outcome = model.TestFailed
		case "SKIPPED":
			outcome = model.TestSkipped
		}
		results = append(results, model.TestResult{Name: m[1], Outcome: outcome})
	}
	return capResults(results)
}

func parseJest(output string) []model.TestResult {
	var results []model.TestResult
	for _, m := range jestResultRe.FindAllStringSubmatch(output, -1) {
		r := model.TestResult{Name: strings.TrimSpace(m[2])}
		switch m[1] {
		case "✓":
			r.Outcome = model.TestPassed
		case "✕":
			r.Outcome = model.TestFailed
		case "○":
			r.Outcome = model.TestSkipped
		}
		if m[3] != "" {
			if ms, err := strconv.Atoi(m[3]); err == nil {
				r.Duration = time.Duration(ms) * time.Millisecond
			}
		}
		results = append(results, r)
	}
	return capResults(results)
}

func parseUnittest(output string) []model.TestResult {
	var results []model.TestResult
	for _, m := range unittestResultRe.FindAllStringSubmatch(output, -1) {
		r := model.TestResult{Name: m[2] + "." + m[1]}
		switch {
		case m[3] == "ok":
			r.Outcome = model.TestPassed
		case m[3] == "FAIL":
			r.Outcome = model.TestFailed
		case m[3] == "ERROR":
			r.Outcome = model.TestError
		case strings.HasPrefix(m[3], "skipped"):
			r.Outcome = model.TestSkipped
		}
		results = append(results, r)
	}
	return capResults(results)
}

func capResults(results []model.TestResult) []model.TestResult {
	if len(results) > maxTestResults {
		return results[:maxTestResults]
	}
	return results
}

// aggregate fills the counters and elects the overall status: any failure
// fails the run, otherwise at least one pass passes it, otherwise there was
// nothing to run.
func aggregate(result *model.VerificationResult) {
	for _, t := range result.Tests {
		switch t.Outcome {
		case model.TestPassed:
			result.Passed++
		case model.TestFailed:
			result.Failed++
		case model.TestSkipped:
			result.Skipped++
		case model.TestError:
			result.Errors++
		}
	}
	switch {
	case result.Failed > 0 || result.Errors > 0:
		// A run with only errored tests (collection or setup broke before any
		// assertion ran) still counts as failed, not no_tests.
		result.Status = model.VerificationFailed
	case result.Passed > 0:
		result.Status = model.VerificationPassed
	default:
		result.Status = model.VerificationNoTests
	}
}

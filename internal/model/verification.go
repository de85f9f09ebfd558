package model

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is the aggregate outcome of a verification run.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationRunning VerificationStatus = "running"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
	VerificationPartial VerificationStatus = "partial"
	VerificationError   VerificationStatus = "error"
	VerificationNoTests VerificationStatus = "no_tests"
)

var validVerificationStatuses = map[VerificationStatus]bool{
	VerificationPending: true,
	VerificationRunning: true,
	VerificationPassed:  true,
	VerificationFailed:  true,
	VerificationPartial: true,
	VerificationError:   true,
	VerificationNoTests: true,
}

// Valid reports whether s is a recognized verification status.
func (s VerificationStatus) Valid() bool { return validVerificationStatuses[s] }

// TestOutcome is the result of one test case.
type TestOutcome string

const (
	TestPassed  TestOutcome = "passed"
	TestFailed  TestOutcome = "failed"
	TestSkipped TestOutcome = "skipped"
	TestError   TestOutcome = "error"
)

// TestResult is one normalised test record parsed from framework output.
type TestResult struct {
	Name     string        `json:"name"`
	Outcome  TestOutcome   `json:"outcome"`
	Duration time.Duration `json:"duration,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// SandboxMeta describes the container the tests ran in.
type SandboxMeta struct {
	Image     string        `json:"image"`
	Container string        `json:"container"`
	Framework string        `json:"framework,omitempty"`
	Command   string        `json:"command,omitempty"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
}

// VerificationResult is the verifier stage's artifact.
type VerificationResult struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	PatchID    uuid.UUID `json:"patch_id"`

	Status  VerificationStatus `json:"status"`
	Tests   []TestResult       `json:"tests,omitempty"`
	Passed  int                `json:"passed"`
	Failed  int                `json:"failed"`
	Skipped int                `json:"skipped"`
	Errors  int                `json:"errors"`

	Sandbox *SandboxMeta `json:"sandbox,omitempty"`
	Reason  string       `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Halting reports whether the result stops the default pipeline.
// no_tests proceeds with a needs-tests label; failed halts.
func (v *VerificationResult) Halting() bool {
	return v.Status == VerificationFailed
}

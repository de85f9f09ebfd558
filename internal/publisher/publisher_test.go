package publisher

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v75/github"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/ghost"
	"github.com/neverdownhq/neverdown/internal/model"
)

// fakeHost records git-host RPCs in order.
type fakeHost struct {
	defaultBranch string
	prNumber      int

	branches []string
	pushes   []string
	deletes  []string
	prSpecs  []ghost.PRSpec
	fetched  []int
}

func (f *fakeHost) DefaultBranch(context.Context, string, string) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeHost) RefSHA(context.Context, string, string, string) (string, error) {
	return "deadbeefcafe", nil
}

func (f *fakeHost) CreateBranch(_ context.Context, _, _, branch, _ string) error {
	f.branches = append(f.branches, branch)
	return nil
}

func (f *fakeHost) PushFile(_ context.Context, _, _, branch, path, message string, _ []byte) error {
	f.pushes = append(f.pushes, branch+":"+path+":"+message)
	return nil
}

func (f *fakeHost) DeleteFile(_ context.Context, _, _, branch, path, _ string) error {
	f.deletes = append(f.deletes, branch+":"+path)
	return nil
}

func (f *fakeHost) CreatePR(_ context.Context, owner, repo string, spec ghost.PRSpec) (*github.PullRequest, error) {
	f.prSpecs = append(f.prSpecs, spec)
	return &github.PullRequest{
		Number:  github.Ptr(f.prNumber),
		HTMLURL: github.Ptr(fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, f.prNumber)),
	}, nil
}

func (f *fakeHost) GetPR(_ context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	f.fetched = append(f.fetched, number)
	return &github.PullRequest{
		Number:  github.Ptr(number),
		HTMLURL: github.Ptr(fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number)),
	}, nil
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

const testDiff = "--- a/app.py\n" +
	"+++ b/app.py\n" +
	"@@ -1,2 +1,2 @@\n" +
	" def avg(xs):\n" +
	"-    return sum(xs) / len(xs)\n" +
	"+    return sum(xs) / len(xs) if xs else 0\n"

func testRequest(t *testing.T) Request {
	t.Helper()
	incident := &model.Incident{
		ID:     uuid.New(),
		Title:  "Payment worker crash",
		Status: model.StatusProcessing,
		Repository: model.Repository{
			URL:    "https://github.com/acme/billing",
			Branch: "main",
		},
	}
	patch := &model.Patch{
		ID:         uuid.New(),
		IncidentID: incident.ID,
		Diff:       testDiff,
		RootCause:  "Average helper divides by zero on empty input batches.",
		Reasoning:  "len(xs) is zero when the batch is empty.",
		Confidence: 0.85,
		Files: []model.FileChange{
			{Path: "app.py", Action: model.ActionModified, Additions: 1, Deletions: 1},
		},
	}
	verification := &model.VerificationResult{
		ID:         uuid.New(),
		IncidentID: incident.ID,
		PatchID:    patch.ID,
		Status:     model.VerificationPassed,
		Passed:     3,
		Tests:      []model.TestResult{{Name: "t", Outcome: model.TestPassed}},
	}
	tree := writeTree(t, map[string]string{
		"app.py": "def avg(xs):\n    return sum(xs) / len(xs)\n",
	})
	return Request{
		Incident:     incident,
		Patch:        patch,
		Verification: verification,
		OriginalTree: tree,
	}
}

// --- Publish ---

func TestPublishHappyPath(t *testing.T) {
	t.Parallel()
	requireGit(t)

	host := &fakeHost{defaultBranch: "main", prNumber: 42}
	p := New(host, config.PublisherConfig{ManualApply: true})
	req := testRequest(t)

	record, err := p.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 42, record.Number)
	assert.Equal(t, "main", record.BaseBranch)
	assert.Equal(t, model.PROpen, record.Status)
	assert.Contains(t, record.URL, "/pull/42")

	require.Len(t, host.branches, 1)
	assert.Regexp(t, `^neverdown/fix-[0-9a-f]{8}-\d{14}$`, host.branches[0])

	// One content commit per patched file, carrying the patched bytes.
	require.Len(t, host.pushes, 1)
	assert.Contains(t, host.pushes[0], "app.py")

	require.Len(t, host.prSpecs, 1)
	spec := host.prSpecs[0]
	assert.Contains(t, spec.Title, "[NeverDown] Fix:")
	assert.Contains(t, spec.Labels, "high-confidence")
	assert.Contains(t, spec.Labels, "tests-passing")
	assert.Contains(t, spec.Body, "human")
}

func TestPublishRefusesFailedVerification(t *testing.T) {
	t.Parallel()

	host := &fakeHost{defaultBranch: "main"}
	p := New(host, config.PublisherConfig{ManualApply: true})
	req := testRequest(t)
	req.Verification.Status = model.VerificationFailed

	_, err := p.Publish(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.CodeVerificationFailed, fault.CodeOf(err, ""))
	assert.Empty(t, host.branches)
}

func TestPublishRefinementReusesBranchAndPR(t *testing.T) {
	t.Parallel()
	requireGit(t)

	host := &fakeHost{defaultBranch: "main", prNumber: 99}
	p := New(host, config.PublisherConfig{ManualApply: true})
	req := testRequest(t)
	req.Branch = "neverdown/fix-12345678-20260101000000"
	req.ExistingPRNumber = 17

	record, err := p.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 17, record.Number)
	assert.Equal(t, "https://github.com/acme/billing/pull/17", record.URL)
	assert.Equal(t, req.Branch, record.HeadBranch)
	assert.Equal(t, []int{17}, host.fetched)
	assert.Empty(t, host.prSpecs, "refinement must not open a second pull request")
	require.Len(t, host.pushes, 1)
	assert.True(t, strings.HasPrefix(host.pushes[0], req.Branch+":"))
}

// --- naming and labelling ---

func TestBranchName(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("abcdef12-3456-7890-abcd-ef1234567890")
	at := time.Date(2026, 8, 24, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "neverdown/fix-abcdef12-20260824130509", BranchName(id, at))
}

func TestTitleTruncates(t *testing.T) {
	t.Parallel()

	patch := &model.Patch{RootCause: strings.Repeat("long root cause ", 10)}
	title := Title(patch)
	assert.True(t, strings.HasPrefix(title, "[NeverDown] Fix: "))
	assert.LessOrEqual(t, len(title), len("[NeverDown] Fix: ")+maxTitleRootCause+3)
}

func TestLabels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		confidence   float64
		verification *model.VerificationResult
		want         []string
	}{
		{
			name:         "high confidence passing",
			confidence:   0.9,
			verification: &model.VerificationResult{Status: model.VerificationPassed},
			want:         []string{"neverdown", "automated-fix", "high-confidence", "tests-passing"},
		},
		{
			name:         "medium confidence no tests",
			confidence:   0.7,
			verification: &model.VerificationResult{Status: model.VerificationNoTests},
			want:         []string{"neverdown", "automated-fix", "medium-confidence", "needs-tests"},
		},
		{
			name:       "low confidence without verification",
			confidence: 0.3,
			want:       []string{"neverdown", "automated-fix", "low-confidence", "needs-tests"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			patch := &model.Patch{Confidence: tt.confidence}
			assert.Equal(t, tt.want, Labels(patch, tt.verification))
		})
	}
}

// --- Body ---

func TestBodyContents(t *testing.T) {
	t.Parallel()

	req := testRequest(t)
	req.Patch.Assumptions = []string{"Batches can be empty."}

	body, err := Body(req.Incident, req.Patch, req.Verification)
	require.NoError(t, err)

	assert.Contains(t, body, req.Incident.ID.String())
	assert.Contains(t, body, "85%")
	assert.Contains(t, body, "divides by zero")
	assert.Contains(t, body, "Batches can be empty.")
	assert.Contains(t, body, "3 passed")
	assert.Contains(t, body, "`app.py` (modified, +1/-1)")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body),
		"requires human review before merging."))
}

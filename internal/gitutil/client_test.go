package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway repository with one commit.
func initRepo(t *testing.T) *Client {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	g := New(dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o644))
	require.NoError(t, g.Init(ctx))
	return g
}

func TestParseCommitLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		ok   bool
		want Commit
	}{
		{
			name: "well formed",
			line: "abc123|Ada Lovelace|ada@example.com|1700000000|fix: handle nil config",
			ok:   true,
			want: Commit{
				SHA:       "abc123",
				Author:    "Ada Lovelace",
				Email:     "ada@example.com",
				Timestamp: time.Unix(1700000000, 0).UTC(),
				Message:   "fix: handle nil config",
			},
		},
		{
			name: "message containing pipes",
			line: "def456|Bob|b@e.com|1700000001|feat: a|b|c",
			ok:   true,
			want: Commit{
				SHA:       "def456",
				Author:    "Bob",
				Email:     "b@e.com",
				Timestamp: time.Unix(1700000001, 0).UTC(),
				Message:   "feat: a|b|c",
			},
		},
		{
			name: "too few fields",
			line: "abc|x|y",
			ok:   false,
		},
		{
			name: "bad epoch",
			line: "abc|x|y|yesterday|msg",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseCommitLine(tt.line)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestInitAndRecentCommits(t *testing.T) {
	t.Parallel()
	g := initRepo(t)
	ctx := context.Background()

	assert.True(t, g.IsRepo(ctx))

	commits, err := g.RecentCommits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "Initial state", commits[0].Message)
	assert.Contains(t, commits[0].Files, "main.py")
}

func TestBranchLifecycle(t *testing.T) {
	t.Parallel()
	g := initRepo(t)
	ctx := context.Background()

	exists, err := g.BranchExists(ctx, "neverdown/fix-abc")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, g.CreateBranch(ctx, "neverdown/fix-abc", ""))

	exists, err = g.BranchExists(ctx, "neverdown/fix-abc")
	require.NoError(t, err)
	assert.True(t, exists)

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "neverdown/fix-abc", branch)
}

func TestApplyTwoPhase(t *testing.T) {
	t.Parallel()
	g := initRepo(t)
	ctx := context.Background()

	patch := `--- a/main.py
+++ b/main.py
@@ -1 +1 @@
-print('hi')
+print('hello')
`
	patchFile := filepath.Join(t.TempDir(), "fix.patch")
	require.NoError(t, os.WriteFile(patchFile, []byte(patch), 0o644))

	require.NoError(t, g.ApplyCheck(ctx, patchFile))
	require.NoError(t, g.Apply(ctx, patchFile))

	content, err := os.ReadFile(filepath.Join(g.WorkDir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", string(content))

	// Re-applying the same patch no longer matches.
	assert.Error(t, g.ApplyCheck(ctx, patchFile))
}

func TestRecentCommitsEmptyRepo(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	g := New(dir)
	ctx := context.Background()
	_, err := g.run(ctx, "init")
	require.NoError(t, err)

	commits, err := g.RecentCommits(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

package reasoner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// --- validateDiff ---

func TestValidateDiffModifiedFile(t *testing.T) {
	t.Parallel()

	tree := writeTree(t, map[string]string{
		"app.py": "def avg(xs):\n    return sum(xs) / len(xs)\n",
	})
	diffText := "--- a/app.py\n" +
		"+++ b/app.py\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def avg(xs):\n" +
		"-    return sum(xs) / len(xs)\n" +
		"+    return sum(xs) / len(xs) if xs else 0\n"

	changes, err := validateDiff(diffText, tree)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "app.py", changes[0].Path)
	assert.Equal(t, model.ActionModified, changes[0].Action)
	assert.Equal(t, 1, changes[0].Additions)
	assert.Equal(t, 1, changes[0].Deletions)
}

func TestValidateDiffAddedFileSkipsExistenceCheck(t *testing.T) {
	t.Parallel()

	tree := writeTree(t, nil)
	diffText := "--- /dev/null\n" +
		"+++ b/newfile.py\n" +
		"@@ -0,0 +1,2 @@\n" +
		"+import json\n" +
		"+print(json.dumps({}))\n"

	changes, err := validateDiff(diffText, tree)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "newfile.py", changes[0].Path)
	assert.Equal(t, model.ActionAdded, changes[0].Action)
	assert.Equal(t, 2, changes[0].Additions)
}

func TestValidateDiffRejectsMissingFile(t *testing.T) {
	t.Parallel()

	tree := writeTree(t, map[string]string{"real.py": "x = 1\n"})
	diffText := "--- a/imaginary.py\n" +
		"+++ b/imaginary.py\n" +
		"@@ -1 +1 @@\n" +
		"-x = 1\n" +
		"+x = 2\n"

	_, err := validateDiff(diffText, tree)
	require.Error(t, err)
	assert.Equal(t, fault.CodeInvalidPatch, fault.CodeOf(err, ""))
	assert.Equal(t, "imaginary.py", fault.DetailsOf(err)["file"])
}

func TestValidateDiffRejectsGarbage(t *testing.T) {
	t.Parallel()

	tree := writeTree(t, nil)
	_, err := validateDiff("this is not a diff at all\n", tree)
	require.Error(t, err)
	assert.Equal(t, fault.CodeInvalidPatch, fault.CodeOf(err, ""))
}

func TestValidateDiffDeletedFile(t *testing.T) {
	t.Parallel()

	tree := writeTree(t, map[string]string{"old.py": "legacy = True\n"})
	diffText := "--- a/old.py\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-legacy = True\n"

	changes, err := validateDiff(diffText, tree)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "old.py", changes[0].Path)
	assert.Equal(t, model.ActionDeleted, changes[0].Action)
	assert.Equal(t, 1, changes[0].Deletions)
}

package reasoner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// validateDiff parses the unified diff, derives the per-file change manifest,
// and rejects diffs that are structurally broken or reference files missing
// from the sanitized tree.
func validateDiff(diffText, treePath string) ([]model.FileChange, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(diffText))
	if err != nil {
		return nil, fault.Wrap(fault.CodeInvalidPatch, err, "diff does not parse")
	}
	if len(fileDiffs) == 0 {
		return nil, fault.New(fault.CodeInvalidPatch, "diff contains no file changes")
	}

	changes := make([]model.FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		if len(fd.Hunks) == 0 {
			return nil, fault.New(fault.CodeInvalidPatch, "diff for %q has no hunks", diffPath(fd))
		}

		change := model.FileChange{
			Path:   diffPath(fd),
			Action: diffAction(fd),
		}
		if change.Path == "" {
			return nil, fault.New(fault.CodeInvalidPatch, "diff entry has no usable file path")
		}

		var declared, observed int
		for _, h := range fd.Hunks {
			declared += int(h.OrigLines + h.NewLines)
			for _, line := range strings.Split(string(h.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					change.Additions++
					observed++
				case strings.HasPrefix(line, "-"):
					change.Deletions++
					observed++
				case line != "" && !strings.HasPrefix(line, "\\"):
					observed++
				}
			}
		}
		// A hunk whose body is wildly off its declared line counts means the
		// model hallucinated the headers; such a diff will never apply.
		if observed > 2*declared || (declared > 0 && observed == 0) {
			return nil, fault.New(fault.CodeInvalidPatch,
				"diff for %q declares %d lines but contains %d", change.Path, declared, observed).
				WithDetail("file", change.Path)
		}

		if change.Action != model.ActionAdded {
			abs := filepath.Join(treePath, filepath.FromSlash(change.Path))
			if _, statErr := os.Stat(abs); statErr != nil {
				return nil, fault.New(fault.CodeInvalidPatch,
					"diff modifies %q which does not exist in the analyzed tree", change.Path).
					WithDetail("file", change.Path)
			}
		}

		changes = append(changes, change)
	}
	return changes, nil
}

// diffPath returns the repo-relative path for one file diff, preferring the
// post-image name and stripping the conventional a/ b/ prefixes.
func diffPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	if name == "/dev/null" {
		return ""
	}
	return name
}

func diffAction(fd *diff.FileDiff) model.FileAction {
	switch {
	case fd.OrigName == "/dev/null":
		return model.ActionAdded
	case fd.NewName == "/dev/null":
		return model.ActionDeleted
	default:
		return model.ActionModified
	}
}

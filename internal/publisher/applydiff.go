package publisher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// manualApply is the structural fallback used when git apply rejects the
// patch against the original tree (the sanitized and original trees can
// drift where placeholders replaced secrets). Per file, the removed block is
// substituted by the added block; when the joined block is not found, each
// removed line is dropped and the added lines are inserted at the first
// removal point.
func manualApply(treePath, diffText string) error {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(diffText))
	if err != nil {
		return fault.Wrap(fault.CodeInvalidPatch, err, "diff does not parse")
	}

	for _, fd := range fileDiffs {
		path := strings.TrimPrefix(fd.NewName, "b/")
		if fd.NewName == "/dev/null" {
			abs := filepath.Join(treePath, filepath.FromSlash(strings.TrimPrefix(fd.OrigName, "a/")))
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fault.Wrap(fault.CodeInvalidPatch, err, "removing %s", path)
			}
			continue
		}

		removed, added := hunkLines(fd)
		abs := filepath.Join(treePath, filepath.FromSlash(path))

		if fd.OrigName == "/dev/null" {
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return fault.Wrap(fault.CodeInvalidPatch, err, "creating parent for %s", path)
			}
			content := strings.Join(added, "\n") + "\n"
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return fault.Wrap(fault.CodeInvalidPatch, err, "writing %s", path)
			}
			continue
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return fault.Wrap(fault.CodeInvalidPatch, err, "reading %s", path)
		}
		patched, ok := substitute(string(data), removed, added)
		if !ok {
			return fault.New(fault.CodeInvalidPatch, "no anchor for the change in %s", path)
		}
		if err := os.WriteFile(abs, []byte(patched), 0o644); err != nil {
			return fault.Wrap(fault.CodeInvalidPatch, err, "writing %s", path)
		}
	}
	return nil
}

// hunkLines collects the removed and added line bags across all hunks.
func hunkLines(fd *diff.FileDiff) (removed, added []string) {
	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "-"):
				removed = append(removed, line[1:])
			case strings.HasPrefix(line, "+"):
				added = append(added, line[1:])
			}
		}
	}
	return removed, added
}

// substitute replaces the removed block with the added block. Block
// substitution is tried first; the line-by-line fallback drops each removed
// line and inserts the added lines where the first removed line was.
func substitute(content string, removed, added []string) (string, bool) {
	addedBlock := strings.Join(added, "\n")

	if len(removed) == 0 {
		// Pure addition: append to the end of the file.
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + addedBlock + "\n", true
	}

	removedBlock := strings.Join(removed, "\n")
	if strings.Contains(content, removedBlock) {
		return strings.Replace(content, removedBlock, addedBlock, 1), true
	}

	lines := strings.Split(content, "\n")
	insertAt := -1
	for _, rm := range removed {
		for i, line := range lines {
			if line == rm {
				lines = append(lines[:i], lines[i+1:]...)
				if insertAt == -1 || i < insertAt {
					insertAt = i
				}
				break
			}
		}
	}
	if insertAt == -1 {
		return "", false
	}
	patched := make([]string, 0, len(lines)+len(added))
	patched = append(patched, lines[:insertAt]...)
	patched = append(patched, added...)
	patched = append(patched, lines[insertAt:]...)
	return strings.Join(patched, "\n"), true
}

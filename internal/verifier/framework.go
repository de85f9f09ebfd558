package verifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Framework is the elected test driver.
type Framework string

const (
	FrameworkPytest   Framework = "pytest"
	FrameworkJest     Framework = "jest"
	FrameworkUnittest Framework = "unittest"
	FrameworkNone     Framework = "none"
)

// Command returns the shell command that runs the framework with the
// verbose, parseable output the normalisers expect.
func (f Framework) Command() string {
	switch f {
	case FrameworkPytest:
		return "python -m pytest -v --tb=short --color=no"
	case FrameworkJest:
		return "npx jest --ci --verbose 2>&1"
	case FrameworkUnittest:
		return "python -m unittest discover -v 2>&1"
	default:
		return ""
	}
}

// jestConfigNames are the root manifests that elect jest outright.
var jestConfigNames = []string{
	"jest.config.js", "jest.config.ts", "jest.config.mjs",
	"jest.config.cjs", "jest.config.json",
}

// DetectFramework elects a test driver for the tree. Rules apply in order:
// root test-config manifests, package manifests naming a framework as a
// dependency, then conventionally named test files. With no evidence at all
// the election is FrameworkNone.
func DetectFramework(treePath string) Framework {
	// Rule 1: root config manifests.
	if fileExists(treePath, "pytest.ini") {
		return FrameworkPytest
	}
	if fileContains(treePath, "pyproject.toml", "[tool.pytest") {
		return FrameworkPytest
	}
	for _, name := range jestConfigNames {
		if fileExists(treePath, name) {
			return FrameworkJest
		}
	}

	// Rule 2: package manifests naming the framework.
	if packageJSONDependsOn(treePath, "jest") {
		return FrameworkJest
	}
	if fileContains(treePath, "requirements.txt", "pytest") ||
		fileContains(treePath, "requirements-dev.txt", "pytest") ||
		fileContains(treePath, "pyproject.toml", "pytest") ||
		fileExists(treePath, "conftest.py") {
		return FrameworkPytest
	}

	// Rule 3: conventionally named test files.
	py, js := false, false
	_ = filepath.WalkDir(treePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py"):
			py = true
		case strings.HasSuffix(name, "_test.py"):
			py = true
		case strings.HasSuffix(name, ".test.js") || strings.HasSuffix(name, ".spec.js"):
			js = true
		}
		return nil
	})
	switch {
	case py:
		// Plain unittest: test files exist but nothing elected pytest.
		return FrameworkUnittest
	case js:
		return FrameworkJest
	}

	return FrameworkNone
}

func fileExists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, rel))
	return err == nil
}

func fileContains(root, rel, needle string) bool {
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), needle)
}

// packageJSONDependsOn reports whether package.json lists pkg in its
// dependencies or devDependencies.
func packageJSONDependsOn(root, pkg string) bool {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return false
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if json.Unmarshal(data, &manifest) != nil {
		return false
	}
	_, dep := manifest.Dependencies[pkg]
	_, dev := manifest.DevDependencies[pkg]
	return dep || dev
}

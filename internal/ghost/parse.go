package ghost

import (
	"strings"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// ParseRepoURL extracts (owner, repo) from any of the common repository
// spellings: HTTPS URLs with or without .git, ssh scp-style URLs, and the
// bare "owner/repo" form.
func ParseRepoURL(url string) (owner, repo string, err error) {
	s := strings.TrimSpace(url)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	for _, prefix := range []string{
		"https://github.com/", "http://github.com/",
		"git@github.com:", "ssh://git@github.com/",
		"github.com/",
	} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fault.New(fault.CodeGitHubAPIError, "unparseable repository url %q", url)
	}
	return parts[0], parts[1], nil
}

// CanonicalRepoURL normalises a repository spelling to the canonical HTTPS
// form so webhook payloads and configured allow-lists compare equal.
func CanonicalRepoURL(url string) (string, error) {
	owner, repo, err := ParseRepoURL(url)
	if err != nil {
		return "", err
	}
	return "https://github.com/" + owner + "/" + repo, nil
}

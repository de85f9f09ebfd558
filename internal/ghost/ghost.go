// Package ghost is the git-host client: branch, file-content, and
// pull-request RPCs against the GitHub API, authenticated with the
// configured token. The publisher is its only pipeline consumer; the API
// layer uses it for the OAuth callback exchange.
package ghost

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
)

// defaultRPCTimeout bounds each host call.
const defaultRPCTimeout = 30 * time.Second

// Client wraps the GitHub API for the pipeline's needs.
type Client struct {
	gh      *github.Client
	timeout time.Duration
}

// New builds an authenticated client from configuration.
func New(cfg config.GitHubConfig) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Reveal()})
	httpClient := oauth2.NewClient(context.Background(), src)

	timeout := defaultRPCTimeout
	if cfg.APITimeout > 0 {
		timeout = time.Duration(cfg.APITimeout) * time.Second
	}
	return &Client{gh: github.NewClient(httpClient), timeout: timeout}
}

// NewWithBaseURL is New pointed at a different API root. Used by tests and
// GitHub Enterprise deployments.
func NewWithBaseURL(cfg config.GitHubConfig, baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	c := New(cfg)
	c.gh.BaseURL = u
	c.gh.UploadURL = u
	return c, nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// DefaultBranch resolves the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", wrapAPIError(err, "resolving default branch")
	}
	return r.GetDefaultBranch(), nil
}

// RefSHA resolves the commit SHA a branch points at.
func (c *Client) RefSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	ref, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return "", wrapAPIError(err, "resolving ref")
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates branch at sha. A branch that already exists is not an
// error; refinement iterations reuse the original branch.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, _, err := c.gh.Git.CreateRef(ctx, owner, repo, github.CreateRef{
		Ref: "refs/heads/" + branch,
		SHA: sha,
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil &&
			ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
			return nil
		}
		return wrapAPIError(err, "creating branch")
	}
	return nil
}

// PushFile creates or updates one file on branch via the content RPC. For an
// update the prior blob SHA is looked up first, as the API requires it.
func (c *Client) PushFile(ctx context.Context, owner, repo, branch, path, message string, content []byte) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
		Branch:  github.Ptr(branch),
	}

	existing, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = github.Ptr(existing.GetSHA())
		_, _, err = c.gh.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		_, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, path, opts)
	default:
		return wrapAPIError(err, "reading file content")
	}
	if err != nil {
		return wrapAPIError(err, "pushing file")
	}
	return nil
}

// DeleteFile removes one file from branch.
func (c *Client) DeleteFile(ctx context.Context, owner, repo, branch, path, message string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	existing, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return wrapAPIError(err, "reading file content")
	}
	_, _, err = c.gh.Repositories.DeleteFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Branch:  github.Ptr(branch),
		SHA:     github.Ptr(existing.GetSHA()),
	})
	if err != nil {
		return wrapAPIError(err, "deleting file")
	}
	return nil
}

// PRSpec is the create-pull-request payload.
type PRSpec struct {
	Title  string
	Body   string
	Head   string
	Base   string
	Labels []string
}

// CreatePR opens the pull request and applies its labels. The label call is
// best effort; a missing label permission must not lose the PR.
func (c *Client) CreatePR(ctx context.Context, owner, repo string, spec PRSpec) (*github.PullRequest, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(spec.Title),
		Body:  github.Ptr(spec.Body),
		Head:  github.Ptr(spec.Head),
		Base:  github.Ptr(spec.Base),
	})
	if err != nil {
		return nil, wrapAPIError(err, "creating pull request")
	}
	if len(spec.Labels) > 0 {
		if _, _, lblErr := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, pr.GetNumber(), spec.Labels); lblErr != nil {
			return pr, nil
		}
	}
	return pr, nil
}

// AddLabels attaches labels to an existing pull request.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels); err != nil {
		return wrapAPIError(err, "adding labels")
	}
	return nil
}

// GetPR fetches one pull request.
func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapAPIError(err, "fetching pull request")
	}
	return pr, nil
}

func wrapAPIError(err error, action string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.CodeTimeout, err, "%s timed out", action)
	}
	return fault.Wrap(fault.CodeGitHubAPIError, err, "%s failed", action)
}

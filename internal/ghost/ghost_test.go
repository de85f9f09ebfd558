package ghost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var cfg config.GitHubConfig
	require.NoError(t, cfg.Token.UnmarshalText([]byte("ghp_test")))
	cfg.APITimeout = 5

	c, err := NewWithBaseURL(cfg, srv.URL)
	require.NoError(t, err)
	return c
}

func TestDefaultBranch(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/billing", r.URL.Path)
		fmt.Fprint(w, `{"default_branch":"main"}`)
	}))

	branch, err := c.DefaultBranch(context.Background(), "acme", "billing")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCreateBranchSendsRefAndSHA(t *testing.T) {
	t.Parallel()

	var body map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/billing/git/refs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ref":"refs/heads/neverdown/fix-abc"}`)
	}))

	err := c.CreateBranch(context.Background(), "acme", "billing", "neverdown/fix-abc", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/neverdown/fix-abc", body["ref"])
	assert.Equal(t, "deadbeef", body["sha"])
}

func TestCreateBranchTreatsExistingAsSuccess(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Reference already exists"}`)
	}))

	err := c.CreateBranch(context.Background(), "acme", "billing", "neverdown/fix-abc", "deadbeef")
	assert.NoError(t, err)
}

func TestCreateBranchPropagatesOtherFailures(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"insufficient scope"}`)
	}))

	err := c.CreateBranch(context.Background(), "acme", "billing", "b", "deadbeef")
	require.Error(t, err)
	assert.Equal(t, fault.CodeGitHubAPIError, fault.CodeOf(err, ""))
}

func TestPushFileCreatesWhenAbsent(t *testing.T) {
	t.Parallel()

	var createBody map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			fmt.Fprint(w, `{"content":{"sha":"newsha"}}`)
		}
	}))

	err := c.PushFile(context.Background(), "acme", "billing", "fix-branch", "app.py",
		"Fix divide by zero", []byte("print('ok')\n"))
	require.NoError(t, err)

	assert.Equal(t, "Fix divide by zero", createBody["message"])
	assert.Equal(t, "fix-branch", createBody["branch"])
	assert.NotContains(t, createBody, "sha")
}

func TestPushFileUpdatesWithPriorBlobSHA(t *testing.T) {
	t.Parallel()

	var updateBody map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"type":"file","sha":"oldsha","path":"app.py"}`)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updateBody))
			fmt.Fprint(w, `{"content":{"sha":"newsha"}}`)
		}
	}))

	err := c.PushFile(context.Background(), "acme", "billing", "fix-branch", "app.py",
		"Fix divide by zero", []byte("print('ok')\n"))
	require.NoError(t, err)
	assert.Equal(t, "oldsha", updateBody["sha"])
}

func TestCreatePRAddsLabels(t *testing.T) {
	t.Parallel()

	var labels []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/billing/pulls":
			fmt.Fprint(w, `{"number":7,"html_url":"https://github.com/acme/billing/pull/7"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/billing/issues/7/labels":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&labels))
			fmt.Fprint(w, `[]`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	pr, err := c.CreatePR(context.Background(), "acme", "billing", PRSpec{
		Title:  "[NeverDown] Fix: divide by zero",
		Body:   "body",
		Head:   "neverdown/fix-abc",
		Base:   "main",
		Labels: []string{"neverdown", "high-confidence", "tests-passing"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, pr.GetNumber())
	assert.Equal(t, []string{"neverdown", "high-confidence", "tests-passing"}, labels)
}

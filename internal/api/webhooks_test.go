package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/model"
)

func workflowRunFailure() map[string]any {
	return map[string]any{
		"action": "completed",
		"repository": map[string]any{
			"html_url": "https://github.com/acme/shop",
		},
		"workflow_run": map[string]any{
			"name":        "ci",
			"conclusion":  "failure",
			"html_url":    "https://github.com/acme/shop/actions/runs/99",
			"head_branch": "main",
			"head_sha":    "abc123",
		},
	}
}

func (f *testServer) postWebhook(t *testing.T, event, delivery string, payload any, sign string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/webhooks/github", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", event)
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	if sign != "" {
		mac := hmac.New(sha256.New, []byte(sign))
		mac.Write(raw)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGitHubWebhookWorkflowFailureCreatesIncident(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	resp := f.postWebhook(t, "workflow_run", "d-1", workflowRunFailure(), "")

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "created", body["status"])

	id := uuid.MustParse(body["incident_id"].(string))
	in, err := f.incidents.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, in.Severity)
	assert.Equal(t, model.SourceCI, in.Source)
	assert.Equal(t, model.StatusPending, in.Status)
	assert.Contains(t, in.Title, "CI Failure: ci")
	assert.Equal(t, []uuid.UUID{id}, f.pipeline.enqueued)
}

func TestGitHubWebhookIgnoresSuccess(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	payload := workflowRunFailure()
	payload["workflow_run"].(map[string]any)["conclusion"] = "success"

	resp := f.postWebhook(t, "workflow_run", "d-2", payload, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ignored", body["status"])
	assert.Empty(t, f.pipeline.enqueued)
}

func TestGitHubWebhookActivatesDormantIncident(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	dormantID := uuid.New()
	f.pipeline.activated = dormantID
	f.pipeline.actErr = nil

	resp := f.postWebhook(t, "workflow_run", "d-3", workflowRunFailure(), "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "activated", body["status"])
	assert.Equal(t, dormantID.String(), body["incident_id"])
	assert.Contains(t, f.pipeline.actLogs, "concluded failure")
}

func TestGitHubWebhookSignature(t *testing.T) {
	t.Parallel()

	f := &testServer{
		pipeline:  newFakePipeline(),
		incidents: newMemIncidents(),
	}
	f.srv = New(config.ServerConfig{}, config.GitHubConfig{WebhookSecret: "hunter2"}, Deps{
		Pipeline:  f.pipeline,
		Incidents: f.incidents,
	})
	f.ts = httptest.NewServer(f.srv.Router())
	t.Cleanup(f.ts.Close)

	// ---
	// Missing signature.
	resp := f.postWebhook(t, "ping", "d-4", map[string]any{}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// ---
	// Wrong secret.
	resp = f.postWebhook(t, "ping", "d-5", map[string]any{}, "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// ---
	// Correct secret.
	resp = f.postWebhook(t, "ping", "d-6", map[string]any{}, "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGitHubWebhookDuplicateDelivery(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})

	resp := f.postWebhook(t, "workflow_run", "same-id", workflowRunFailure(), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.postWebhook(t, "workflow_run", "same-id", workflowRunFailure(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "duplicate", body["status"])

	assert.Len(t, f.pipeline.enqueued, 1, "a replayed delivery creates nothing")
}

func TestDatadogWebhook(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	resp := f.do(t, http.MethodPost, "/webhooks/datadog", map[string]any{
		"id":         12345,
		"title":      "checkout latency",
		"body":       "p99 above threshold",
		"event_type": "query_alert_monitor",
		"event_msg":  "ERROR rate spiked on checkout service",
		"priority":   "P1",
		"tags":       []string{"repository:https://github.com/acme/shop", "branch:main", "team:payments"},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	id := uuid.MustParse(body["incident_id"].(string))
	in, err := f.incidents.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, in.Severity, "P1 maps to high")
	assert.Equal(t, model.SourceMonitoring, in.Source)
	assert.Equal(t, "https://github.com/acme/shop", in.Repository.URL)
	assert.Equal(t, "main", in.Repository.Branch)
}

func TestDatadogWebhookIgnoresRecovery(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	resp := f.do(t, http.MethodPost, "/webhooks/datadog", map[string]any{
		"title":      "checkout latency",
		"event_type": "recovery",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ignored", body["status"])
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"zen":"Design for failure."}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, verifySignature(body, good, "s3cret"))
	assert.False(t, verifySignature(body, good, "other"))
	assert.False(t, verifySignature(body, "sha256=deadbeef", "s3cret"))
	assert.False(t, verifySignature(body, "md5=abc", "s3cret"))
	assert.False(t, verifySignature(body, "", "s3cret"))
}

func TestOAuthLoginRedirect(t *testing.T) {
	t.Parallel()

	f := &testServer{pipeline: newFakePipeline(), incidents: newMemIncidents()}
	f.srv = New(config.ServerConfig{}, config.GitHubConfig{ClientID: "cid-123"}, Deps{
		Pipeline:  f.pipeline,
		Incidents: f.incidents,
	})
	f.ts = httptest.NewServer(f.srv.Router())
	t.Cleanup(f.ts.Close)

	client := f.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(f.ts.URL + "/auth/github/login")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)
	assert.Equal(t, "cid-123", loc.Query().Get("client_id"))
	state := loc.Query().Get("state")
	assert.Len(t, state, 32)
	assert.True(t, f.srv.states.redeem(state), "state is redeemable exactly once")
	assert.False(t, f.srv.states.redeem(state))
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.ServerConfig{})
	resp := f.do(t, http.MethodGet, "/auth/github/callback?state=forged&code=abc", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOAuthCallbackExchange(t *testing.T) {
	t.Parallel()

	// Fake token endpoint.
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	}))
	t.Cleanup(tokenSrv.Close)

	f := &testServer{pipeline: newFakePipeline(), incidents: newMemIncidents()}
	f.srv = New(config.ServerConfig{}, config.GitHubConfig{ClientID: "cid", ClientSecret: "cs"}, Deps{
		Pipeline:  f.pipeline,
		Incidents: f.incidents,
	})
	f.srv.oauthEndpoint = oauth2.Endpoint{
		AuthURL:  tokenSrv.URL + "/authorize",
		TokenURL: tokenSrv.URL + "/token",
	}
	f.ts = httptest.NewServer(f.srv.Router())
	t.Cleanup(f.ts.Close)

	f.srv.states.issue("state-1")
	resp := f.do(t, http.MethodGet, "/auth/github/callback?state=state-1&code=good", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "gho_test", body["access_token"])
}

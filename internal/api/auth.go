package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// stateTTL bounds how long an OAuth state token stays redeemable.
const stateTTL = 10 * time.Minute

func (s *Server) oauthConfig(r *http.Request) *oauth2.Config {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return &oauth2.Config{
		ClientID:     s.gh.ClientID,
		ClientSecret: s.gh.ClientSecret.Reveal(),
		Endpoint:     s.oauthEndpoint,
		RedirectURL:  scheme + "://" + r.Host + "/auth/github/callback",
		Scopes:       []string{"repo", "user"},
	}
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.gh.ClientID == "" {
		writeErrorMsg(w, http.StatusInternalServerError, "internal", "GitHub OAuth client is not configured")
		return
	}
	state, err := randomState()
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "internal", "could not generate state")
		return
	}
	s.states.issue(state)
	http.Redirect(w, r, s.oauthConfig(r).AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, code := q.Get("state"), q.Get("code")
	if !s.states.redeem(state) {
		writeErrorMsg(w, http.StatusUnauthorized, "invalid_state", "unknown or expired OAuth state")
		return
	}
	if code == "" {
		writeErrorMsg(w, http.StatusBadRequest, "validation_error", "missing authorization code")
		return
	}
	token, err := s.oauthConfig(r).Exchange(r.Context(), code)
	if err != nil {
		s.warnf("oauth exchange failed", "err", err)
		writeErrorMsg(w, http.StatusBadRequest, "github_api_error", "could not exchange authorization code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token.AccessToken,
		"token_type":   "bearer",
	})
}

func randomState() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// stateJar holds outstanding OAuth state tokens. Each token redeems once.
type stateJar struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func newStateJar() *stateJar {
	return &stateJar{states: make(map[string]time.Time)}
}

func (j *stateJar) issue(state string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for s, exp := range j.states {
		if now.After(exp) {
			delete(j.states, s)
		}
	}
	j.states[state] = now.Add(stateTTL)
}

func (j *stateJar) redeem(state string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	exp, ok := j.states[state]
	if !ok {
		return false
	}
	delete(j.states, state)
	return time.Now().Before(exp)
}

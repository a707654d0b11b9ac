package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/session"
)

func testUser() *session.UserIdentity {
	return &session.UserIdentity{ID: "u-1", Email: "vol@example.org", Role: session.RoleVolunteer, EmailVerified: true}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{BaseURL: srv.URL, Timeout: 5 * time.Second}
	cfg.Breaker = DefaultBreakerConfig("test")
	cfg.Breaker.MinRequests = 2
	return NewClient(cfg, nil)
}

func TestClient_Login(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "Secret#123" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad credentials"})
			return
		}
		writeTestJSON(w, http.StatusOK, AuthResponse{AccessToken: "a-1", RefreshToken: "r-1", ExpiresIn: 900, User: testUser()})
	})
	c := newTestClient(t, mux)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	sess, err := c.Login(context.Background(), "vol@example.org", "Secret#123")
	require.NoError(t, err)
	assert.Equal(t, "a-1", sess.AccessToken.Value)
	assert.Equal(t, now.Add(15*time.Minute), sess.AccessToken.ExpiresAt)
	assert.Equal(t, "r-1", sess.RefreshToken)
	assert.Equal(t, "u-1", sess.CurrentUser.ID)

	_, err = c.Login(context.Background(), "vol@example.org", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestClient_RegisterConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusConflict, map[string]string{"error": "email taken"})
	})
	c := newTestClient(t, mux)
	_, err := c.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "x", Role: session.RoleVolunteer})
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestClient_RefreshRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(w, status, map[string]string{"error": "refresh token revoked"})
		})
		c := newTestClient(t, mux)
		_, err := c.Refresh(context.Background(), "r-1")
		require.ErrorIs(t, err, gate.ErrRefreshRejected, "status %d", status)
	}
}

func TestClient_RefreshServerErrorIsNotRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance"})
	})
	c := newTestClient(t, mux)

	_, err := c.Refresh(context.Background(), "r-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, gate.ErrRefreshRejected)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "maintenance", apiErr.Message)
}

func TestClient_RefreshFetchesMissingUser(t *testing.T) {
	var meCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "r-1", req.RefreshToken)
		writeTestJSON(w, http.StatusOK, AuthResponse{AccessToken: "a-2", ExpiresIn: 900})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls.Add(1)
		assert.Equal(t, "Bearer a-2", r.Header.Get("Authorization"))
		writeTestJSON(w, http.StatusOK, testUser())
	})
	c := newTestClient(t, mux)

	sess, err := c.Refresh(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", sess.AccessToken.Value)
	assert.Empty(t, sess.RefreshToken, "an unrotated refresh token is left for the store to keep")
	require.NotNil(t, sess.CurrentUser)
	assert.Equal(t, "u-1", sess.CurrentUser.ID)
	assert.Equal(t, int32(1), meCalls.Load())
}

func TestClient_CompleteOnboardingAndLogout(t *testing.T) {
	var loggedOut atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/me/onboarding", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a-1" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "no"})
			return
		}
		u := testUser()
		u.QuestionnaireCompleted = true
		writeTestJSON(w, http.StatusOK, u)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		loggedOut.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	u, err := c.CompleteOnboarding(context.Background(), "a-1")
	require.NoError(t, err)
	assert.True(t, u.QuestionnaireCompleted)

	_, err = c.CompleteOnboarding(context.Background(), "other")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, c.Logout(context.Background(), "r-1"))
	assert.True(t, loggedOut.Load())
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)

	for i := 0; i < 2; i++ {
		_, err := c.Refresh(context.Background(), "r-1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.Refresh(context.Background(), "r-1")
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.NotErrorIs(t, err, gate.ErrRefreshRejected)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
	})
	c := newTestClient(t, mux)
	for i := 0; i < 5; i++ {
		_, err := c.Refresh(context.Background(), "r-1")
		require.ErrorIs(t, err, gate.ErrRefreshRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

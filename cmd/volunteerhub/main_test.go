package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/volunteerhub/backend"
	"github.com/Seann-Moser/volunteerhub/config"
	"github.com/Seann-Moser/volunteerhub/devapi"
	"github.com/Seann-Moser/volunteerhub/session"
	"github.com/Seann-Moser/volunteerhub/user"
)

type cliEnv struct {
	stateDir string
	refresh  *devapi.MemoryRefreshStore
}

func setupCLI(t *testing.T, refreshMode string) *cliEnv {
	t.Helper()
	accounts := user.NewMemoryStore()
	_, err := user.Seed(context.Background(), accounts, user.SeedAccounts(), nil)
	require.NoError(t, err)

	refresh := devapi.NewMemoryRefreshStore(time.Hour)
	api := httptest.NewServer(devapi.NewServer(accounts, refresh,
		devapi.NewTokenIssuer("cli-test-secret-cli-test-secret-xx", 15*time.Minute), nil).Routes())
	t.Cleanup(api.Close)

	t.Setenv("DEV", "true")
	t.Setenv("STORAGE_DRIVER", config.DriverMemory)
	t.Setenv("DEVAPI_STORE", config.DriverMemory)
	t.Setenv("BACKEND_BASE_URL", api.URL)
	t.Setenv("BACKEND_TOKEN_URL", "")
	t.Setenv("BACKEND_REFRESH", refreshMode)
	t.Setenv("LOG_LEVEL", "error")
	return &cliEnv{stateDir: t.TempDir(), refresh: refresh}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args,
		"--env-file", filepath.Join(e.stateDir, "missing.env"),
		"--state-dir", e.stateDir,
	))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) store(t *testing.T) *session.Store {
	t.Helper()
	st := session.NewStore(session.NewFileStorage(filepath.Join(e.stateDir, cliNamespace+".json")), nil)
	require.NoError(t, st.Restore(context.Background()))
	return st
}

func TestCLI_LoginNavigateLogout(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)

	out, err := env.run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Not logged in\n", out)

	out, err = env.run(t, "login", "--email", "volunteer@volunteerhub.local", "--password", "Volunteer#2024")
	require.NoError(t, err)
	assert.Equal(t, "Logged in as volunteer@volunteerhub.local (VOLUNTEER)\n", out)

	out, err = env.run(t, "navigate", "/dashboard", "/admin/reports", "/auth/login", "/volunteers/questionnaire")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"/dashboard\tallow",
		"/admin/reports\tredirect /unauthorized (role_mismatch)",
		"/auth/login\tredirect /dashboard (already_authenticated)",
		"/volunteers/questionnaire\tredirect /dashboard (onboarding_complete)",
	}, "\n")+"\n", out)

	out, err = env.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Email:   volunteer@volunteerhub.local")
	assert.Contains(t, out, "Role:    VOLUNTEER")
	assert.Contains(t, out, "Status:  ACTIVE")
	assert.Contains(t, out, "Access:  valid until")

	refreshToken := env.store(t).Snapshot().RefreshToken
	require.NotEmpty(t, refreshToken)

	out, err = env.run(t, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)
	_, _, err = env.refresh.Rotate(context.Background(), refreshToken)
	require.Error(t, err, "logout revokes the refresh token")

	out, err = env.run(t, "navigate", "/events")
	require.NoError(t, err)
	assert.Equal(t, "/events\tredirect /auth/login (not_authenticated)\n", out)

	out, err = env.run(t, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Not logged in\n", out)
}

func TestCLI_LoginReportsOnboarding(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)

	out, err := env.run(t, "login", "--email", "newvolunteer@volunteerhub.local", "--password", "Volunteer#2024")
	require.NoError(t, err)
	assert.Contains(t, out, "Next step: /volunteers/questionnaire (onboarding_required)")

	out, err = env.run(t, "login", "--email", "locked@volunteerhub.local", "--password", "Locked#2024")
	require.NoError(t, err)
	assert.Contains(t, out, "Next step: /auth/account-locked (account_locked)")
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)

	_, err := env.run(t, "login", "--email", "volunteer@volunteerhub.local", "--password", "nope")
	require.ErrorIs(t, err, backend.ErrInvalidCredentials)

	out, err := env.run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Not logged in\n", out)
}

func TestCLI_LoginRequiresFlags(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)
	_, err := env.run(t, "login", "--email", "volunteer@volunteerhub.local")
	require.Error(t, err)
}

func TestCLI_NavigateRefreshesExpiredToken(t *testing.T) {
	for _, mode := range []string{config.RefreshREST, config.RefreshOAuth2} {
		t.Run(mode, func(t *testing.T) {
			env := setupCLI(t, mode)
			_, err := env.run(t, "login", "--email", "org@volunteerhub.local", "--password", "Organization#2024")
			require.NoError(t, err)

			st := env.store(t)
			snap := st.Snapshot()
			now := time.Now()
			stale, err := session.NewToken("stale-access", now.Add(-2*time.Hour), now.Add(-time.Hour))
			require.NoError(t, err)
			require.NoError(t, st.Login(context.Background(), session.Session{
				AccessToken:  stale,
				RefreshToken: snap.RefreshToken,
				CurrentUser:  snap.CurrentUser,
			}))

			out, err := env.run(t, "whoami")
			require.NoError(t, err)
			assert.Contains(t, out, "Access:  expired")

			out, err = env.run(t, "navigate", "/events/new")
			require.NoError(t, err)
			assert.Equal(t, "/events/new\tallow\n", out)

			after := env.store(t).Snapshot()
			assert.False(t, session.IsExpired(after.AccessToken, time.Now()))
			assert.NotEqual(t, snap.RefreshToken, after.RefreshToken, "rotated refresh token is stored")
		})
	}
}

func TestCLI_SeedNeedsMongo(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)
	_, err := env.run(t, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVAPI_STORE=mongo")
}

func TestCLI_InvalidConfig(t *testing.T) {
	env := setupCLI(t, config.RefreshREST)
	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err := env.run(t, "whoami")
	require.Error(t, err)
}

func TestNewRefresher(t *testing.T) {
	client := backend.NewClient(backend.Config{BaseURL: "http://localhost"}, nil)

	rest := newRefresher(config.BackendConfig{Refresh: config.RefreshREST}, client, nil)
	assert.Same(t, client, rest)

	oauth := newRefresher(config.BackendConfig{
		Refresh:  config.RefreshOAuth2,
		TokenURL: "http://localhost/oauth/token",
		ClientID: "portal",
	}, client, nil)
	assert.IsType(t, &backend.OAuth2Refresher{}, oauth)
}

func TestSessionStorage_MemoryDriver(t *testing.T) {
	cfg := config.AppConfig{Storage: config.StorageConfig{Driver: config.DriverMemory}}
	dir := t.TempDir()

	factory, closeFn, err := sessionStorage(context.Background(), cfg, dir, nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &session.FileStorage{}, factory("cli"))

	factory, closeFn, err = sessionStorage(context.Background(), cfg, "", nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &session.MemoryStorage{}, factory("sid"))
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/session"
)

var (
	// ErrInvalidCredentials is returned by Login for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountExists is returned by Register when the email is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnauthorized is returned when the backend refuses an access token.
	ErrUnauthorized = errors.New("access token not accepted")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = gobreaker.ErrOpenState
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// =============================================================================
// Wire types
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Role     session.Role `json:"role"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by login, register and refresh. Refresh answers
// may leave RefreshToken and User empty.
type AuthResponse struct {
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken,omitempty"`
	ExpiresIn    int64                 `json:"expiresIn"`
	User         *session.UserIdentity `json:"user,omitempty"`
}

// =============================================================================
// Client
// =============================================================================

// BreakerConfig holds the circuit breaker settings of a Client.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
	// Registerer receives the breaker state gauge. Nil skips registration.
	Registerer prometheus.Registerer
}

// Client talks to the volunteer platform REST backend. Calls go through a
// circuit breaker that counts transport errors and 5xx answers as failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
	now        func() time.Time
}

var _ gate.Refresher = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultBreakerConfig("backend")
	}
	state := promauto.With(cfg.Registerer).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "volunteerhub_backend_breaker_state",
			Help: "Current state of the backend circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	bc := cfg.Breaker
	settings := gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			state.WithLabelValues(name).Set(stateToFloat(to))
		},
		// A caller giving up is not a backend failure.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}
	state.WithLabelValues(bc.Name).Set(0)

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:     logger,
		now:        time.Now,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (session.Session, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		if statusIs(err, http.StatusUnauthorized, http.StatusForbidden) {
			return session.Session{}, ErrInvalidCredentials
		}
		return session.Session{}, fmt.Errorf("login: %w", err)
	}
	if resp.User == nil {
		return session.Session{}, errors.New("login: response carries no user")
	}
	return c.toSession(resp)
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (session.Session, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", req, &resp); err != nil {
		if statusIs(err, http.StatusConflict) {
			return session.Session{}, ErrAccountExists
		}
		return session.Session{}, fmt.Errorf("register: %w", err)
	}
	if resp.User == nil {
		return session.Session{}, errors.New("register: response carries no user")
	}
	return c.toSession(resp)
}

// Refresh exchanges a refresh token for a new access token. 400, 401 and 403
// answers mean the refresh token is no longer valid and are reported as
// gate.ErrRefreshRejected. When the answer has no user, it is fetched with
// the new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		if statusIs(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			return session.Session{}, fmt.Errorf("%w: %v", gate.ErrRefreshRejected, err)
		}
		return session.Session{}, fmt.Errorf("refresh: %w", err)
	}
	sess, err := c.toSession(resp)
	if err != nil {
		return session.Session{}, err
	}
	if sess.CurrentUser == nil {
		user, err := c.Me(ctx, sess.AccessToken.Value)
		if err != nil {
			c.logger.WarnContext(ctx, "refreshed without user profile", slog.String("error", err.Error()))
			return sess, nil
		}
		sess.CurrentUser = &user
	}
	return sess, nil
}

// Me fetches the profile of the access token's subject, including the
// onboarding flags.
func (c *Client) Me(ctx context.Context, accessToken string) (session.UserIdentity, error) {
	var user session.UserIdentity
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &user); err != nil {
		if statusIs(err, http.StatusUnauthorized) {
			return user, ErrUnauthorized
		}
		return user, fmt.Errorf("fetch profile: %w", err)
	}
	return user, nil
}

// CompleteOnboarding marks the caller's role-specific onboarding as done and
// returns the updated profile.
func (c *Client) CompleteOnboarding(ctx context.Context, accessToken string) (session.UserIdentity, error) {
	var user session.UserIdentity
	if err := c.do(ctx, http.MethodPost, "/auth/me/onboarding", accessToken, struct{}{}, &user); err != nil {
		if statusIs(err, http.StatusUnauthorized) {
			return user, ErrUnauthorized
		}
		return user, fmt.Errorf("complete onboarding: %w", err)
	}
	return user, nil
}

// Logout revokes the refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", "", RefreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) toSession(resp AuthResponse) (session.Session, error) {
	tok, err := accessToken(resp.AccessToken, resp.ExpiresIn, c.now())
	if err != nil {
		return session.Session{}, err
	}
	return session.Session{
		AccessToken:  tok,
		RefreshToken: resp.RefreshToken,
		CurrentUser:  resp.User,
	}, nil
}

// accessToken builds the token from expiresIn, falling back to the JWT exp
// claim when the backend omits it.
func accessToken(raw string, expiresIn int64, now time.Time) (*session.Token, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty access token", session.ErrInvalidToken)
	}
	if expiresIn > 0 {
		return session.TokenFromExpiresIn(raw, now, expiresIn)
	}
	tok, _, err := session.ParseAccessToken(raw)
	return tok, err
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, readAPIError(resp)
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func statusIs(err error, statuses ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, s := range statuses {
		if apiErr.Status == s {
			return true
		}
	}
	return false
}

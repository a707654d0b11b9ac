package portal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Seann-Moser/volunteerhub/backend"
	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/logger"
	"github.com/Seann-Moser/volunteerhub/session"
	"github.com/Seann-Moser/volunteerhub/utils"
)

// Backend is the part of the platform API the portal calls directly.
// Refreshes go through the guard's Refresher.
type Backend interface {
	Login(ctx context.Context, email, password string) (session.Session, error)
	Register(ctx context.Context, req backend.RegisterRequest) (session.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	CompleteOnboarding(ctx context.Context, accessToken string) (session.UserIdentity, error)
}

type Options struct {
	Guard    *gate.Guard
	Registry *session.Registry
	Cookies  session.CookieCodec
	Backend  Backend
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the browser-facing portal. Every page is admitted by the guard;
// pages answer with JSON view models.
type Server struct {
	guard    *gate.Guard
	registry *session.Registry
	cookies  session.CookieCodec
	backend  Backend
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		guard:    opts.Guard,
		registry: opts.Registry,
		cookies:  opts.Cookies,
		backend:  opts.Backend,
		gatherer: opts.Gatherer,
		logger:   opts.Logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(s.logger))
	r.Use(middleware.Recoverer)

	paths := s.guard.Paths()
	for _, p := range Pages() {
		r.With(s.guard.Require(p.Route, s.resolveStore)).Get(p.Pattern, s.pageHandler(p))
	}

	guest := gate.Route{Name: "login-submit", GuestOnly: true}
	r.With(s.guard.Require(guest, s.resolveStore)).Post("/auth/login", s.LoginHandler)
	r.With(s.guard.Require(guest, s.resolveStore)).Post("/auth/register", s.RegisterHandler)
	r.Post("/auth/logout", s.LogoutHandler)
	r.With(s.guard.Require(onboardingRoute, s.resolveStore)).Post("/onboarding/complete", s.OnboardingHandler)

	for _, info := range []string{paths.Unauthorized, paths.AccountLocked, paths.AccountExpired} {
		r.Get(info, s.infoHandler)
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, paths.Dashboard, http.StatusSeeOther)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// RunSweeper evicts idle sessions from the registry until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.Sweep(maxIdle); n > 0 {
				s.logger.DebugContext(ctx, "evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}

// resolveStore maps the session cookie to its store. Requests without a
// valid cookie get an empty throwaway store.
func (s *Server) resolveStore(r *http.Request) (*session.Store, error) {
	sid, err := s.cookies.Read(r)
	if err != nil {
		return s.registry.Anonymous(), nil
	}
	return s.registry.Open(r.Context(), sid)
}

// =============================================================================
// Handlers
// =============================================================================

// PageView is the view model returned by every page.
type PageView struct {
	Page   string                `json:"page"`
	Path   string                `json:"path"`
	Params map[string]string     `json:"params,omitempty"`
	User   *session.UserIdentity `json:"user,omitempty"`
	Status session.UserStatus    `json:"status,omitempty"`
}

func (s *Server) pageHandler(p Page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := s.resolveStore(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session unavailable")
			return
		}
		view := PageView{Page: p.Route.Name, Path: r.URL.Path}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				if view.Params == nil {
					view.Params = map[string]string{}
				}
				view.Params[key] = rctx.URLParams.Values[i]
			}
		}
		if u := store.Snapshot().CurrentUser; u != nil {
			view.User = u
			view.Status = u.Status()
		}
		if p.Route.GuestOnly {
			if ret := r.URL.Query().Get(gate.ReturnURLParam); safeReturnURL(ret) {
				view.Params = map[string]string{gate.ReturnURLParam: ret}
			}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PageView{Page: strings.TrimPrefix(r.URL.Path, "/"), Path: r.URL.Path})
}

type credentials struct {
	Email     string       `json:"email"`
	Password  string       `json:"password"`
	Role      session.Role `json:"role,omitempty"`
	ReturnURL string       `json:"returnUrl,omitempty"`
}

func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return c, err
		}
		c = credentials{
			Email:     r.Form.Get("email"),
			Password:  r.Form.Get("password"),
			Role:      session.Role(strings.ToUpper(r.Form.Get("role"))),
			ReturnURL: r.Form.Get(gate.ReturnURLParam),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, err
	}
	if c.ReturnURL == "" {
		c.ReturnURL = r.URL.Query().Get(gate.ReturnURLParam)
	}
	return c, nil
}

// LoginHandler logs in through the backend, binds the session to a new
// browser session id and sends the user back to returnUrl.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.backend.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		s.writeBackendError(w, r, "login", err)
		return
	}
	s.startSession(w, r, sess, c.ReturnURL)
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.backend.Register(r.Context(), backend.RegisterRequest{Email: c.Email, Password: c.Password, Role: c.Role})
	if err != nil {
		s.writeBackendError(w, r, "register", err)
		return
	}
	s.startSession(w, r, sess, "")
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, sess session.Session, returnURL string) {
	l := logger.FromContext(r.Context())
	// A fresh id on every login so a planted cookie never gains a session.
	if old, err := s.cookies.Read(r); err == nil {
		s.registry.Forget(old)
	}
	sid := session.NewSessionID()
	store, err := s.registry.Open(r.Context(), sid)
	if err != nil {
		l.ErrorContext(r.Context(), "failed to open session store", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	if err := store.Login(r.Context(), sess); err != nil {
		l.ErrorContext(r.Context(), "failed to store session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	s.cookieFor(r).Write(w, sid)
	l.InfoContext(r.Context(), "user logged in",
		slog.String("user_id", sess.CurrentUser.ID),
		slog.String("role", string(sess.CurrentUser.Role)),
	)

	target := s.guard.Paths().Dashboard
	if safeReturnURL(returnURL) {
		target = returnURL
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// LogoutHandler revokes the refresh token at the backend (best effort) and
// clears the session.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	l := logger.FromContext(r.Context())
	sid, err := s.cookies.Read(r)
	if err == nil {
		store, err := s.registry.Open(r.Context(), sid)
		if err != nil {
			l.ErrorContext(r.Context(), "failed to open session store", slog.String("error", err.Error()))
		} else {
			if rt := store.Snapshot().RefreshToken; rt != "" {
				if err := s.backend.Logout(r.Context(), rt); err != nil {
					l.WarnContext(r.Context(), "failed to revoke refresh token", slog.String("error", err.Error()))
				}
			}
			if err := store.Clear(r.Context()); err != nil {
				l.WarnContext(r.Context(), "failed to clear stored session", slog.String("error", err.Error()))
			}
		}
		s.registry.Forget(sid)
	}
	s.cookieFor(r).Clear(w)
	http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
}

// OnboardingHandler completes the caller's onboarding and syncs the stored
// identity.
func (s *Server) OnboardingHandler(w http.ResponseWriter, r *http.Request) {
	store, err := s.resolveStore(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	snap := store.Snapshot()
	if snap.AccessToken == nil {
		http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
		return
	}
	u, err := s.backend.CompleteOnboarding(r.Context(), snap.AccessToken.Value)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
			return
		}
		s.writeBackendError(w, r, "complete onboarding", err)
		return
	}
	if err := store.SyncIdentity(r.Context(), u); err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "session changed during onboarding",
			slog.String("error", err.Error()))
		http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, s.guard.Paths().Dashboard, http.StatusSeeOther)
}

func (s *Server) writeBackendError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, backend.ErrAccountExists):
		writeError(w, http.StatusConflict, "account already exists")
	default:
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			writeError(w, apiErr.Status, apiErr.Message)
			return
		}
		logger.FromContext(r.Context()).ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "authentication service unavailable")
	}
}

func (s *Server) cookieFor(r *http.Request) session.CookieCodec {
	c := s.cookies
	c.Domain = utils.CookieDomain(r, c.Domain)
	return c
}

// safeReturnURL accepts local absolute paths only.
func safeReturnURL(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

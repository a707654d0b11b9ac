package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/volunteerhub/backend"
	"github.com/Seann-Moser/volunteerhub/user"
)

// Server is a development stand-in for the platform backend. It speaks the
// same JSON contract the backend client expects.
type Server struct {
	accounts user.Store
	refresh  RefreshStore
	issuer   *TokenIssuer
	logger   *slog.Logger
}

func NewServer(accounts user.Store, refresh RefreshStore, issuer *TokenIssuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{accounts: accounts, refresh: refresh, issuer: issuer, logger: logger}
}

// Routes mounts the auth endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", s.LoginHandler)
	r.Post("/auth/register", s.RegisterHandler)
	r.Post("/auth/refresh", s.RefreshHandler)
	r.Post("/auth/logout", s.LogoutHandler)
	r.Post("/oauth/token", s.TokenHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Get("/auth/me", s.MeHandler)
		r.Post("/auth/me/onboarding", s.OnboardingHandler)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// =============================================================================
// Middleware
// =============================================================================

// ContextKey is a custom type for context key to avoid collisions.
type ContextKey string

const accountCtxKey ContextKey = "account"

// AuthMiddleware verifies the bearer access token and attaches the account to
// the request context.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.issuer.Verify(parts[1])
		if err != nil {
			s.logger.DebugContext(r.Context(), "rejected access token", slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		account, err := s.accounts.GetAccountByID(r.Context(), claims.Subject)
		if errors.Is(err, user.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to load account", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}
		ctx := context.WithValue(r.Context(), accountCtxKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountFromContext retrieves the authenticated account.
func AccountFromContext(ctx context.Context) (*user.Account, error) {
	account, ok := ctx.Value(accountCtxKey).(*user.Account)
	if !ok || account == nil {
		return nil, errors.New("account not found in context")
	}
	return account, nil
}

// =============================================================================
// Handlers
// =============================================================================

// LoginHandler checks email and password and starts a session. Locked and
// expired accounts still log in; the client decides where they may go.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := s.accounts.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			s.logger.ErrorContext(r.Context(), "login lookup failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to log in")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.Password)); err != nil {
		s.logger.InfoContext(r.Context(), "password mismatch", slog.String("email", account.Email))
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.startSession(w, r, account, http.StatusOK)
}

// RegisterHandler creates a volunteer or organization account.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req backend.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := user.ValidateRegistration(req.Email, req.Password, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to hash password", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	account := &user.Account{
		Email:         req.Email,
		PasswordHash:  hash,
		Role:          req.Role,
		EmailVerified: true,
	}
	if err := s.accounts.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, user.ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		s.logger.ErrorContext(r.Context(), "failed to create account", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	s.logger.InfoContext(r.Context(), "account registered",
		slog.String("email", account.Email),
		slog.String("role", string(account.Role)),
	)
	s.startSession(w, r, account, http.StatusCreated)
}

// RefreshHandler rotates the refresh token and issues a new access token.
// The answer carries no user; clients fetch it from /auth/me.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req backend.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	access, next, expiresIn, err := s.rotate(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeRotateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backend.AuthResponse{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    expiresIn,
	})
}

// LogoutHandler revokes the refresh token.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req backend.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken != "" {
		if err := s.refresh.Revoke(r.Context(), req.RefreshToken); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to revoke refresh token", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to log out")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	account, err := AccountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, account.Identity())
}

// OnboardingHandler completes the role-specific onboarding step.
func (s *Server) OnboardingHandler(w http.ResponseWriter, r *http.Request) {
	account, err := AccountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	updated, err := s.accounts.CompleteOnboarding(r.Context(), account.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to complete onboarding", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to complete onboarding")
		return
	}
	writeJSON(w, http.StatusOK, updated.Identity())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, account *user.Account, status int) {
	access, expiresIn, err := s.issuer.Issue(account)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to issue access token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	refresh, err := s.refresh.Issue(r.Context(), account.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to issue refresh token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	identity := account.Identity()
	writeJSON(w, status, backend.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		User:         &identity,
	})
}

// rotate consumes a refresh token and returns the new access token, the
// replacement refresh token and the access token lifetime in seconds.
func (s *Server) rotate(ctx context.Context, token string) (string, string, int64, error) {
	userID, next, err := s.refresh.Rotate(ctx, token)
	if err != nil {
		return "", "", 0, err
	}
	account, err := s.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return "", "", 0, ErrRefreshTokenInvalid
		}
		return "", "", 0, err
	}
	access, expiresIn, err := s.issuer.Issue(account)
	if err != nil {
		return "", "", 0, err
	}
	return access, next, expiresIn, nil
}

func (s *Server) writeRotateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRefreshTokenReused):
		s.logger.WarnContext(r.Context(), "refresh token reuse detected, family revoked")
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrRefreshTokenInvalid):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to refresh session")
	}
}

// writeJSON helper sends a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.String("error", err.Error()))
	}
}

// writeError helper sends a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/session"
)

// ProfileFetcher loads the profile of an access token's subject.
type ProfileFetcher interface {
	Me(ctx context.Context, accessToken string) (session.UserIdentity, error)
}

// OAuth2Refresher refreshes sessions through a standard OAuth2 token
// endpoint using the refresh_token grant.
type OAuth2Refresher struct {
	config   *oauth2.Config
	profiles ProfileFetcher
	logger   *slog.Logger
	now      func() time.Time
}

var _ gate.Refresher = (*OAuth2Refresher)(nil)

// NewOAuth2Refresher creates a refresher for cfg. profiles may be nil when
// the token endpoint is not backed by a profile API.
func NewOAuth2Refresher(cfg *oauth2.Config, profiles ProfileFetcher, logger *slog.Logger) *OAuth2Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuth2Refresher{config: cfg, profiles: profiles, logger: logger, now: time.Now}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	// An empty access token forces the token source to hit the endpoint.
	ts := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		if rejected(err) {
			return session.Session{}, fmt.Errorf("%w: %v", gate.ErrRefreshRejected, err)
		}
		return session.Session{}, fmt.Errorf("oauth2 refresh: %w", err)
	}

	now := r.now()
	var access *session.Token
	if !tok.Expiry.IsZero() {
		access, err = session.NewToken(tok.AccessToken, now, tok.Expiry)
	} else {
		access, _, err = session.ParseAccessToken(tok.AccessToken)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("oauth2 refresh: %w", err)
	}

	sess := session.Session{AccessToken: access}
	// Rotation is optional; TokenSource copies the old refresh token
	// forward when the endpoint omits a new one.
	if tok.RefreshToken != refreshToken {
		sess.RefreshToken = tok.RefreshToken
	}
	if r.profiles != nil {
		user, err := r.profiles.Me(ctx, tok.AccessToken)
		if err != nil {
			r.logger.WarnContext(ctx, "refreshed without user profile", slog.String("error", err.Error()))
		} else {
			sess.CurrentUser = &user
		}
	}
	return sess, nil
}

func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_token", "unauthorized_client":
		return true
	}
	if re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

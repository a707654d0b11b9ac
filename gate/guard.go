package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Seann-Moser/volunteerhub/session"
)

const (
	refreshOK       = "ok"
	refreshRejected = "rejected"
	refreshFailed   = "error"
	refreshStale    = "stale"

	rotatedSize = 4096
	rotatedTTL  = time.Minute
)

// Guard runs admission checks against a session store, refreshing expired
// access tokens through the Refresher. Concurrent checks that need the same
// refresh share one refresher call.
type Guard struct {
	refresher Refresher
	paths     Paths
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	inflight  singleflight.Group
	// rotated maps recently spent refresh tokens to the session they
	// produced.
	rotated *expirable.LRU[string, session.Session]
}

type Option func(*Guard)

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(refresher Refresher, paths Paths, opts ...Option) *Guard {
	g := &Guard{
		refresher: refresher,
		paths:     paths,
		logger:    slog.Default(),
		now:       time.Now,
		rotated:   expirable.NewLRU[string, session.Session](rotatedSize, nil, rotatedTTL),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Paths returns the redirect targets the guard decides with.
func (g *Guard) Paths() Paths {
	return g.paths
}

// Check decides whether the session held by store may enter route. An
// expired access token is refreshed at most once per check; the check waits
// for the refresh and decides on the refreshed session.
//
// Refresh rejections clear the session and redirect to login. Other refresh
// failures are returned as *CollaboratorError. If ctx ends while a refresh is
// pending, Check returns ctx.Err() and the refresh still completes and
// updates the store.
func (g *Guard) Check(ctx context.Context, store *session.Store, route Route) (Decision, error) {
	sess, rev := store.View()
	v := Evaluate(sess, route, g.paths, g.now())

	if v.Action == ActionRefresh {
		if err := g.refresh(ctx, store, sess.RefreshToken, rev); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Decision{}, ctxErr
			}
			if errors.Is(err, ErrRefreshRejected) {
				d := RedirectTo(g.paths.Login, ReasonRefreshRejected)
				g.record(ctx, route, d)
				return d, nil
			}
			return Decision{}, &CollaboratorError{Err: err}
		}
		sess, rev = store.View()
		v = Evaluate(sess, route, g.paths, g.now())
		if v.Action == ActionRefresh {
			// Still stale after one refresh.
			v = Verdict{Decision: RedirectTo(g.paths.Login, ReasonRefreshRejected), Action: ActionClear}
		}
	}

	if v.Action == ActionClear {
		if _, err := store.ClearAt(ctx, rev); err != nil {
			g.logger.WarnContext(ctx, "failed to clear session storage", slog.String("error", err.Error()))
		}
	}
	g.record(ctx, route, v.Decision)
	return v.Decision, nil
}

func (g *Guard) record(ctx context.Context, route Route, d Decision) {
	g.metrics.decision(d)
	if !d.Allowed {
		g.logger.DebugContext(ctx, "navigation redirected",
			slog.String("route", route.Name),
			slog.String("path", d.Path),
			slog.String("reason", string(d.Reason)),
		)
	}
}

// refresh joins or starts the refresh for token. The shared call runs
// detached from ctx so an abandoned navigation does not abort it. Calls are
// keyed by refresh token alone, so stores restored from the same storage
// namespace share one refresh.
func (g *Guard) refresh(ctx context.Context, store *session.Store, token string, rev session.Revision) error {
	if g.refresher == nil {
		g.clearAfterRejection(ctx, store, rev)
		return fmt.Errorf("%w: no refresher configured", ErrRefreshRejected)
	}
	// A check that read the session before a rotation landed must not replay
	// the spent token; the backend would revoke the whole token family.
	if next, ok := g.rotated.Get(token); ok {
		g.metrics.join()
		return g.adopt(ctx, store, rev, next)
	}

	leader := false
	ch := g.inflight.DoChan(token, func() (any, error) {
		leader = true
		return g.doRefresh(context.WithoutCancel(ctx), store, token, rev)
	})
	select {
	case res := <-ch:
		if !leader {
			g.metrics.join()
		}
		if res.Err != nil {
			return res.Err
		}
		next, _ := res.Val.(session.Session)
		return g.adopt(ctx, store, rev, next)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// adopt applies a refresh result produced by another check to store, if
// store still holds the session this check read.
func (g *Guard) adopt(ctx context.Context, store *session.Store, rev session.Revision, next session.Session) error {
	if next.AccessToken == nil {
		return nil
	}
	if _, cur := store.View(); cur != rev {
		return nil
	}
	err := store.ApplyRefresh(ctx, rev, next)
	switch {
	case err == nil, errors.Is(err, session.ErrStaleRevision):
		return nil
	case errors.Is(err, session.ErrRoleChanged), errors.Is(err, session.ErrSubjectChanged):
		return fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	default:
		return err
	}
}

func (g *Guard) doRefresh(ctx context.Context, store *session.Store, token string, rev session.Revision) (session.Session, error) {
	if _, cur := store.View(); cur != rev {
		// Refreshed, logged out or logged in since the check read it; the
		// caller decides on the current session instead.
		g.metrics.refresh(refreshStale)
		return session.Session{}, nil
	}

	next, err := g.refresher.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			g.metrics.refresh(refreshRejected)
			g.logger.InfoContext(ctx, "refresh token rejected, clearing session", slog.String("error", err.Error()))
			g.clearAfterRejection(ctx, store, rev)
			return session.Session{}, err
		}
		g.metrics.refresh(refreshFailed)
		g.logger.ErrorContext(ctx, "token refresh failed", slog.String("error", err.Error()))
		return session.Session{}, err
	}

	if session.IsExpired(next.AccessToken, g.now()) {
		g.metrics.refresh(refreshRejected)
		g.logger.WarnContext(ctx, "refresh returned an unusable access token, clearing session")
		g.clearAfterRejection(ctx, store, rev)
		return session.Session{}, fmt.Errorf("%w: refreshed access token already expired", ErrRefreshRejected)
	}

	err = store.ApplyRefresh(ctx, rev, next)
	switch {
	case err == nil:
		g.rotated.Add(token, next)
		g.metrics.refresh(refreshOK)
		g.logger.InfoContext(ctx, "access token refreshed")
		return next, nil
	case errors.Is(err, session.ErrStaleRevision):
		// Logged out or logged in again meanwhile; decide on what is there now.
		g.rotated.Add(token, next)
		g.metrics.refresh(refreshStale)
		g.logger.InfoContext(ctx, "discarding refresh for a replaced session")
		return next, nil
	case errors.Is(err, session.ErrRoleChanged), errors.Is(err, session.ErrSubjectChanged):
		g.metrics.refresh(refreshRejected)
		g.logger.WarnContext(ctx, "refresh changed the session identity", slog.String("error", err.Error()))
		return session.Session{}, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	default:
		g.metrics.refresh(refreshFailed)
		g.logger.ErrorContext(ctx, "refresh returned an invalid session", slog.String("error", err.Error()))
		return session.Session{}, err
	}
}

func (g *Guard) clearAfterRejection(ctx context.Context, store *session.Store, rev session.Revision) {
	if _, err := store.ClearAt(ctx, rev); err != nil {
		g.logger.WarnContext(ctx, "failed to clear session storage", slog.String("error", err.Error()))
	}
}

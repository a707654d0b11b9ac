package gate

import (
	"context"

	"github.com/Seann-Moser/volunteerhub/session"
)

// Refresher exchanges a refresh token for a new session. The returned
// session carries the new access token; its refresh token and user may be
// empty, in which case the current ones are kept.
//
// Implementations return an error wrapping ErrRefreshRejected when the
// refresh token itself is no longer valid. Any other error is treated as an
// infrastructure failure.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (session.Session, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (session.Session, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	return f(ctx, refreshToken)
}

package gate

import (
	"context"
	"sync"

	"github.com/Seann-Moser/volunteerhub/session"
)

// Navigator runs admission checks for clients that navigate one path at a
// time, such as the CLI. Starting a navigation supersedes the previous one:
// its pending check is cancelled and its decision is never delivered.
type Navigator struct {
	guard  *Guard
	store  *session.Store
	routes *RouteTable

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewNavigator(guard *Guard, store *session.Store, routes *RouteTable) *Navigator {
	return &Navigator{guard: guard, store: store, routes: routes}
}

// Navigate decides whether path may be entered. Paths missing from the route
// table are not guarded. A navigation replaced by a newer one returns
// ErrSuperseded.
func (n *Navigator) Navigate(ctx context.Context, path string) (Decision, error) {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.seq++
	seq := n.seq
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.mu.Unlock()
	defer cancel()

	route, ok := n.routes.Match(path)
	if !ok {
		return Allow(), nil
	}
	d, err := n.guard.Check(ctx, n.store, route)

	n.mu.Lock()
	current := seq == n.seq
	n.mu.Unlock()
	if !current {
		return Decision{}, ErrSuperseded
	}
	return d, err
}

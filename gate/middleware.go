package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Seann-Moser/volunteerhub/session"
)

// StoreResolver finds the session store of the browser making r.
type StoreResolver func(r *http.Request) (*session.Store, error)

// ContextKey is a custom type for context key to avoid collisions.
type ContextKey string

const decisionCtxKey ContextKey = "gate.decision"

// ReturnURLParam is the login query parameter holding the page the user was
// sent away from.
const ReturnURLParam = "returnUrl"

// Require returns middleware admitting requests to route. Redirect decisions
// answer 303 See Other; login redirects carry the requested URL in
// ReturnURLParam. Refresh infrastructure failures answer 502 with a JSON
// error body and are logged at error level.
//
// A decision for a request whose context is already done is dropped without
// writing anything.
func (g *Guard) Require(route Route, resolve StoreResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			store, err := resolve(r)
			if err != nil {
				g.logger.ErrorContext(ctx, "failed to resolve session store", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}

			d, err := g.Check(ctx, store, route)
			if ctx.Err() != nil {
				g.logger.DebugContext(ctx, "dropping decision for abandoned request",
					slog.String("route", route.Name),
					slog.String("path", r.URL.Path),
				)
				return
			}
			if err != nil {
				var collab *CollaboratorError
				if errors.As(err, &collab) {
					writeError(w, http.StatusBadGateway, "authentication service unavailable")
				} else {
					writeError(w, http.StatusInternalServerError, "admission check failed")
				}
				g.logger.ErrorContext(ctx, "admission check failed",
					slog.String("route", route.Name),
					slog.String("error", err.Error()),
				)
				return
			}

			if !d.Allowed {
				http.Redirect(w, r, g.redirectTarget(d, r), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, decisionCtxKey, d)))
		})
	}
}

func (g *Guard) redirectTarget(d Decision, r *http.Request) string {
	if d.Path != g.paths.Login || r.Method != http.MethodGet {
		return d.Path
	}
	q := url.Values{}
	q.Set(ReturnURLParam, r.URL.RequestURI())
	return d.Path + "?" + q.Encode()
}

// DecisionFromContext returns the decision that admitted the request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionCtxKey).(Decision)
	return d, ok
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

package gate

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteTable maps paths to route configuration using chi patterns, so
// navigation outside an HTTP request matches the same way the router does.
type RouteTable struct {
	mux    *chi.Mux
	routes map[string]Route
}

func NewRouteTable() *RouteTable {
	return &RouteTable{mux: chi.NewRouter(), routes: map[string]Route{}}
}

// Handle registers route under a chi pattern such as "/events/{id}".
func (t *RouteTable) Handle(pattern string, route Route) {
	if route.Name == "" {
		route.Name = pattern
	}
	t.routes[pattern] = route
	t.mux.Get(pattern, func(http.ResponseWriter, *http.Request) {})
}

// Match returns the route registered for path.
func (t *RouteTable) Match(path string) (Route, bool) {
	pattern := t.mux.Find(chi.NewRouteContext(), http.MethodGet, path)
	if pattern == "" {
		return Route{}, false
	}
	r, ok := t.routes[pattern]
	return r, ok
}

// Patterns lists the registered patterns.
func (t *RouteTable) Patterns() []string {
	out := make([]string, 0, len(t.routes))
	for p := range t.routes {
		out = append(out, p)
	}
	return out
}

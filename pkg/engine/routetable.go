// Package engine implements the HTTP mock server: route matching, response
// simulation, request handling, and the server lifecycle. Every stage of a
// request's life is announced on the event bus so observers can build
// telemetry without the engine knowing about any backend.
package engine

import (
	"strings"

	"github.com/mocklet/mocklet/pkg/config"
)

// RouteTable holds the configured HTTP routes in declaration order.
// Matching is method plus exact path; when a config declares the same
// method and path twice, the first declaration wins.
type RouteTable struct {
	routes []*config.HTTPRoute
}

// NewRouteTable builds a table from routes in the given order.
func NewRouteTable(routes []*config.HTTPRoute) *RouteTable {
	return &RouteTable{routes: routes}
}

// Lookup returns the first route matching method and path, or nil. The
// method comparison is case-insensitive; the path must match exactly.
func (t *RouteTable) Lookup(method, path string) *config.HTTPRoute {
	for _, r := range t.routes {
		if strings.EqualFold(r.Method, method) && r.URL == path {
			return r
		}
	}
	return nil
}

// Routes returns the routes in declaration order.
func (t *RouteTable) Routes() []*config.HTTPRoute {
	return t.routes
}

// Len returns the number of routes.
func (t *RouteTable) Len() int {
	return len(t.routes)
}

// Package router maps (method, path) pairs onto registered handlers.
//
// Patterns are matched segment-wise: literals exactly, "<name>"
// binds exactly one non-empty segment, "..." consumes exactly one
// non-empty segment without binding, and "...." consumes all
// remaining segments (at least one, none empty). Routes are scanned
// in registration order and the first fully matching route wins;
// there is no specificity ranking.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lume-dev/lume/pkg/auth"
	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/response"
)

// Handler produces the response for a completed request. Handlers
// run synchronously inside the poll loop and must not block.
type Handler func(*request.Request) *response.Response

// Sentinel resolution errors.
var (
	// ErrNotFound means no route matched the path. The server
	// answers 404.
	ErrNotFound = errors.New("router: no route matches path")

	// ErrMethodNotAllowed means a route matched the path but not the
	// method. The server answers 405.
	ErrMethodNotAllowed = errors.New("router: method not allowed")

	// ErrBadPattern is returned by Register for an invalid pattern.
	ErrBadPattern = errors.New("router: bad pattern")
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
	segMultiWildcard
)

type segment struct {
	kind    segmentKind
	literal string // segLiteral
	name    string // segParam
}

// Route is one registered pattern. Routes are created by Register
// and immutable afterwards.
type Route struct {
	methods     map[string]bool
	pattern     string
	segments    []segment
	handler     Handler
	appendSlash bool
	auth        *auth.Requirement
}

// Pattern returns the pattern the route was registered with.
func (r *Route) Pattern() string { return r.pattern }

// Auth returns the route-level auth requirement, nil if none.
func (r *Route) Auth() *auth.Requirement { return r.auth }

// Option customizes a route at registration time.
type Option func(*Route)

// WithAppendSlash makes the route additionally match the path with
// one trailing slash.
func WithAppendSlash() Option {
	return func(r *Route) { r.appendSlash = true }
}

// WithAuth attaches a route-level auth requirement, overriding any
// server-wide one.
func WithAuth(requirement *auth.Requirement) Option {
	return func(r *Route) { r.auth = requirement }
}

// Match is a successful resolution: the handler to invoke and the
// parameters bound from the path, in pattern order.
type Match struct {
	Handler Handler
	Params  []request.PathParam
	Route   *Route
}

// Router holds the route table. Register all routes at startup; the
// table is read-only once the server starts polling.
type Router struct {
	routes []*Route
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Register adds a route for the given methods and pattern. An empty
// method set defaults to GET. Registration order is match priority.
func (r *Router) Register(methods []string, pattern string, handler Handler, opts ...Option) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrBadPattern, pattern)
	}
	segments, err := parsePattern(pattern)
	if err != nil {
		return err
	}

	route := &Route{
		methods:  make(map[string]bool, len(methods)),
		pattern:  pattern,
		segments: segments,
		handler:  handler,
	}
	if len(methods) == 0 {
		route.methods["GET"] = true
	}
	for _, m := range methods {
		route.methods[strings.ToUpper(m)] = true
	}
	for _, opt := range opts {
		opt(route)
	}
	r.routes = append(r.routes, route)
	return nil
}

// Resolve finds the first route matching method and path. A route
// that matches by path but not method does not stop the scan; only
// when no route matches both does the path-match distinguish 405
// from 404.
func (r *Router) Resolve(method, path string) (*Match, error) {
	segs := splitPath(path)
	pathMatched := false
	for _, route := range r.routes {
		params, ok := route.match(segs)
		if !ok {
			continue
		}
		if !route.methods[method] {
			pathMatched = true
			continue
		}
		return &Match{Handler: route.handler, Params: params, Route: route}, nil
	}
	if pathMatched {
		return nil, ErrMethodNotAllowed
	}
	return nil, ErrNotFound
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	return len(r.routes)
}

// match attempts the route against the path segments, optionally
// retrying with a trailing empty segment stripped.
func (route *Route) match(segs []string) ([]request.PathParam, bool) {
	if params, ok := matchSegments(route.segments, segs); ok {
		return params, true
	}
	if route.appendSlash && len(segs) > 0 && segs[len(segs)-1] == "" {
		return matchSegments(route.segments, segs[:len(segs)-1])
	}
	return nil, false
}

func matchSegments(pattern []segment, segs []string) ([]request.PathParam, bool) {
	var params []request.PathParam
	for i, ps := range pattern {
		switch ps.kind {
		case segMultiWildcard:
			// Greedy: consumes everything left, at least one
			// segment, none empty. Nothing may follow it.
			if i != len(pattern)-1 {
				return nil, false
			}
			rest := segs[i:]
			if len(rest) == 0 {
				return nil, false
			}
			for _, s := range rest {
				if s == "" {
					return nil, false
				}
			}
			return params, true

		case segLiteral:
			if i >= len(segs) || segs[i] != ps.literal {
				return nil, false
			}

		case segParam:
			if i >= len(segs) || segs[i] == "" {
				return nil, false
			}
			params = append(params, request.PathParam{Name: ps.name, Value: segs[i]})

		case segWildcard:
			if i >= len(segs) || segs[i] == "" {
				return nil, false
			}
		}
	}
	if len(segs) != len(pattern) {
		return nil, false
	}
	return params, true
}

// splitPath returns the path's segments; "/" has none.
func splitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

func parsePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w: %q does not start with /", ErrBadPattern, pattern)
	}
	var segments []segment
	for _, raw := range splitPath(pattern) {
		switch {
		case raw == "....":
			segments = append(segments, segment{kind: segMultiWildcard})

		case raw == "...":
			segments = append(segments, segment{kind: segWildcard})

		case strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">"):
			name := raw[1 : len(raw)-1]
			if name == "" {
				return nil, fmt.Errorf("%w: empty parameter name in %q", ErrBadPattern, pattern)
			}
			segments = append(segments, segment{kind: segParam, name: name})

		case raw == "":
			return nil, fmt.Errorf("%w: empty segment in %q", ErrBadPattern, pattern)

		default:
			segments = append(segments, segment{kind: segLiteral, literal: raw})
		}
	}
	return segments, nil
}

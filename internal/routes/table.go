// Package routes maps URL paths to status page views.
//
// A Table is built once at startup and never modified afterwards; the app
// bootstrap receives it explicitly instead of reaching for a global router.
package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/httputil"
	"github.com/bissquit/statuspage-web/internal/pkg/metrics"
	"github.com/go-chi/chi/v5"
)

// Table errors.
var (
	ErrInvalidRoute   = errors.New("invalid route")
	ErrDuplicateRoute = errors.New("duplicate route")
	ErrUnknownRoute   = errors.New("unknown route")
	ErrMissingParam   = errors.New("missing route parameter")
)

// Route binds a URL pattern to a named view.
// Patterns use chi syntax, e.g. /incidents/{id}.
type Route struct {
	Name    string
	Pattern string
	Loader  Loader
}

// Match is the result of resolving a path.
type Match struct {
	Route  Route
	Params Params
}

// ErrorHandler renders a response for a view that failed to load.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, route Route, err error)

// Table is an immutable route table.
type Table struct {
	routes   []Route
	byName   map[string]int
	byPath   map[string]int
	notFound Route
	matcher  *chi.Mux
}

// NewTable validates routes and builds a table.
// notFound serves every path no route matches; its Pattern is ignored.
func NewTable(notFound Route, routes ...Route) (*Table, error) {
	if notFound.Name == "" || notFound.Loader == nil {
		return nil, fmt.Errorf("%w: not-found route needs a name and a loader", ErrInvalidRoute)
	}
	notFound.Pattern = ""

	t := &Table{
		routes:   make([]Route, 0, len(routes)),
		byName:   make(map[string]int, len(routes)),
		byPath:   make(map[string]int, len(routes)),
		notFound: notFound,
		matcher:  chi.NewMux(),
	}

	for _, route := range routes {
		if err := t.add(route); err != nil {
			return nil, err
		}
	}

	if _, exists := t.byName[notFound.Name]; exists {
		return nil, fmt.Errorf("%w: name %q", ErrDuplicateRoute, notFound.Name)
	}

	return t, nil
}

func (t *Table) add(route Route) (err error) {
	switch {
	case route.Name == "":
		return fmt.Errorf("%w: pattern %q has no name", ErrInvalidRoute, route.Pattern)
	case !strings.HasPrefix(route.Pattern, "/"):
		return fmt.Errorf("%w: %s: pattern %q must start with /", ErrInvalidRoute, route.Name, route.Pattern)
	case route.Loader == nil:
		return fmt.Errorf("%w: %s: no loader", ErrInvalidRoute, route.Name)
	}

	if _, exists := t.byName[route.Name]; exists {
		return fmt.Errorf("%w: name %q", ErrDuplicateRoute, route.Name)
	}
	if _, exists := t.byPath[route.Pattern]; exists {
		return fmt.Errorf("%w: pattern %q", ErrDuplicateRoute, route.Pattern)
	}

	// chi panics on malformed patterns.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidRoute, route.Name, rec)
		}
	}()
	t.matcher.Get(route.Pattern, http.NotFound)

	t.byName[route.Name] = len(t.routes)
	t.byPath[route.Pattern] = len(t.routes)
	t.routes = append(t.routes, route)
	return nil
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// NotFound returns the fallback route.
func (t *Table) NotFound() Route {
	return t.notFound
}

// Lookup returns the route with the given name, the fallback included.
func (t *Table) Lookup(name string) (Route, bool) {
	if name == t.notFound.Name {
		return t.notFound, true
	}
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Resolve finds the route for path. When nothing matches, it returns
// the not-found route and false.
func (t *Table) Resolve(path string) (Match, bool) {
	rctx := chi.NewRouteContext()
	if !t.matcher.Match(rctx, http.MethodGet, path) {
		return Match{Route: t.notFound, Params: Params{}}, false
	}

	i, ok := t.byPath[rctx.RoutePattern()]
	if !ok {
		return Match{Route: t.notFound, Params: Params{}}, false
	}

	return Match{Route: t.routes[i], Params: paramsFrom(rctx)}, true
}

// URL builds the path of a named route.
func (t *Table) URL(name string, params Params) (string, error) {
	i, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoute, name)
	}
	return BuildPath(t.routes[i].Pattern, params)
}

// BuildPath substitutes params into a chi pattern. Values are path-escaped.
func BuildPath(pattern string, params Params) (string, error) {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
		if idx := strings.Index(key, ":"); idx >= 0 {
			key = key[:idx]
		}
		value, ok := params[key]
		if !ok || value == "" {
			return "", fmt.Errorf("%w: %s in %s", ErrMissingParam, key, pattern)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

// Mount registers a GET handler for every route and the fallback on r.
// onError renders failed loads; nil answers with a plain 500.
func (t *Table) Mount(r chi.Router, onError ErrorHandler) {
	if onError == nil {
		onError = defaultErrorHandler
	}

	for _, route := range t.routes {
		r.Get(route.Pattern, t.handler(route, onError))
	}
	r.NotFound(t.handler(t.notFound, onError))
}

func (t *Table) handler(route Route, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := LoadView(r.Context(), route)
		if err != nil {
			ctxlog.FromContext(r.Context()).Error("failed to load view",
				"route", route.Name,
				"error", err,
			)
			onError(w, r, route, err)
			return
		}

		params := Params{}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			params = paramsFrom(rctx)
		}
		view.Render(w, r, params)
	}
}

// LoadView loads the view of route and records the outcome.
func LoadView(ctx context.Context, route Route) (View, error) {
	loader := route.Loader
	if !loader.Deferred() {
		metrics.ViewLoads.WithLabelValues(route.Name, "eager").Inc()
		return loader.Load(ctx)
	}

	if loader.Loaded() {
		metrics.ViewLoads.WithLabelValues(route.Name, "cached").Inc()
		return loader.Load(ctx)
	}

	start := time.Now()
	view, err := loader.Load(ctx)
	if err != nil {
		metrics.ViewLoads.WithLabelValues(route.Name, "failed").Inc()
		return nil, fmt.Errorf("load view %s: %w", route.Name, err)
	}

	metrics.ViewLoads.WithLabelValues(route.Name, "loaded").Inc()
	ctxlog.FromContext(ctx).Debug("deferred view loaded",
		"route", route.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return view, nil
}

func paramsFrom(rctx *chi.Context) Params {
	params := make(Params, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ Route, _ error) {
	httputil.Text(w, http.StatusInternalServerError, "failed to load page")
}

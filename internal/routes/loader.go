package routes

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNilView is returned when a load function succeeds without producing a view.
var ErrNilView = errors.New("load returned nil view")

// Params holds path parameters captured by a route pattern.
type Params map[string]string

// Get returns the parameter value or an empty string.
func (p Params) Get(key string) string {
	return p[key]
}

// View renders one page of the status site.
type View interface {
	Name() string
	Render(w http.ResponseWriter, r *http.Request, params Params)
}

// Loader resolves the view of a route.
type Loader interface {
	// Load returns the view, loading it first if needed.
	Load(ctx context.Context) (View, error)
	// Loaded reports whether Load would return without doing any work.
	Loaded() bool
	// Deferred reports whether the view is loaded on first navigation.
	Deferred() bool
}

// LoadFunc builds a view on demand.
type LoadFunc func(ctx context.Context) (View, error)

type eagerLoader struct {
	view View
}

// Eager wraps a view that is ready at startup.
func Eager(view View) Loader {
	return &eagerLoader{view: view}
}

func (l *eagerLoader) Load(context.Context) (View, error) {
	if l.view == nil {
		return nil, ErrNilView
	}
	return l.view, nil
}

func (l *eagerLoader) Loaded() bool   { return l.view != nil }
func (l *eagerLoader) Deferred() bool { return false }

type deferredLoader struct {
	load  LoadFunc
	group singleflight.Group

	mu   sync.RWMutex
	view View
}

// Deferred returns a loader that calls load on first navigation.
// Concurrent first navigations share a single call. A successful result is kept
// for the lifetime of the loader; a failure is handed to every waiting caller
// and the next navigation tries again.
func Deferred(load LoadFunc) Loader {
	return &deferredLoader{load: load}
}

func (l *deferredLoader) Load(ctx context.Context) (View, error) {
	if view := l.current(); view != nil {
		return view, nil
	}

	ch := l.group.DoChan("load", func() (any, error) {
		if view := l.current(); view != nil {
			return view, nil
		}

		// The shared load outlives the first caller's request.
		view, err := l.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if view == nil {
			return nil, ErrNilView
		}

		l.mu.Lock()
		l.view = view
		l.mu.Unlock()
		return view, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(View), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *deferredLoader) current() View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view
}

func (l *deferredLoader) Loaded() bool   { return l.current() != nil }
func (l *deferredLoader) Deferred() bool { return true }

package views

import (
	"net/http"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/httputil"
	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/go-chi/chi/v5/middleware"
)

var pageErrorMappings = []httputil.ErrorMapping{
	{Error: backend.ErrNotFound, Status: http.StatusNotFound, Message: "The requested item does not exist."},
	{Error: backend.ErrBadRequest, Status: http.StatusBadRequest, Message: "The request was rejected by the status backend."},
	{Error: backend.ErrForbidden, Status: http.StatusForbidden, Message: "The status backend refused access to this item."},
	{Error: backend.ErrConflict, Status: http.StatusConflict, Message: "The item was changed by someone else. Reload and try again."},
	{Error: backend.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "The status backend is unavailable. Please try again shortly."},
	{Error: backend.ErrInvalidResponse, Status: http.StatusBadGateway, Message: "The status backend returned data that could not be displayed."},
}

// RenderError renders the error page for err.
func (s *Set) RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong while rendering this page."
	if m, ok := httputil.MatchError(err, pageErrorMappings); ok {
		status = m.Status
		message = m.Message
	}

	logger := ctxlog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("failed to render page", "error", err, "status", status)
	} else {
		logger.Info("page request rejected", "error", err, "status", status)
	}

	model := &errorModel{
		Layout:    s.layout("", http.StatusText(status)),
		Heading:   http.StatusText(status),
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.errors.ExecuteTemplate(w, "layout", model); err != nil {
		logger.Error("failed to render error page", "error", err)
	}
}

// LoadFailed renders the error page for a view that could not be loaded.
func (s *Set) LoadFailed(w http.ResponseWriter, r *http.Request, route routes.Route, err error) {
	s.RenderError(w, r, err)
}

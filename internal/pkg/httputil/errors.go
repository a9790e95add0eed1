package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// MatchError returns the first mapping whose error matches err.
// The returned mapping has Message filled in.
func MatchError(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			if m.Message == "" {
				m.Message = err.Error()
			}
			return m, true
		}
	}
	return ErrorMapping{}, false
}

// HandleError maps a domain error to a JSON error response using provided mappings.
// If no mapping matches, logs the error and returns 500 Internal Server Error.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	if m, ok := MatchError(err, mappings); ok {
		Error(w, m.Status, m.Message)
		return
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

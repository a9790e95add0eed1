package domain

import "errors"

// Validation errors.
var (
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidImpact          = errors.New("invalid impact")
	ErrInconsistentResolution = errors.New("resolved_at set on unresolved incident")
)

// Package notify renders status changes into chat messages and delivers
// them to the configured webhooks in the background.
package notify

import (
	"context"
	"errors"
)

// Severity selects the accent color of a message.
type Severity string

// Severities, named after the Slack attachment colors.
const (
	SeverityGood    Severity = "good"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Field is a short labeled value shown next to the message body.
type Field struct {
	Title string
	Value string
}

// Notification is a rendered change ready for delivery.
type Notification struct {
	Subject  string
	Body     string
	URL      string
	Severity Severity
	Fields   []Field
	Unix     int64
}

// Sender delivers notifications to one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, n Notification) error
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewPermanentError creates an error that is never retried.
func NewPermanentError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether a send error is worth another attempt.
// Errors that do not say otherwise are retried.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return !errors.Is(err, context.Canceled)
}

package apperr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindSignature
	KindAuth
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindUpstream
)

// Error is the error type handlers return. Details is passed through to the
// client as-is, so it must never carry secrets.
type Error struct {
	Kind      Kind
	Message   string
	Details   any
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUpstream:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func Signature(err error) *Error {
	return &Error{Kind: KindSignature, Message: "Signature verification failed", Err: err}
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Upstream wraps a store, gateway or mailer failure. Deadline and cancellation
// errors are marked retryable.
func Upstream(msg string, err error) *Error {
	return &Error{
		Kind:      KindUpstream,
		Message:   msg,
		Err:       err,
		Retryable: IsTimeout(err),
	}
}

func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether err is an upstream failure the caller may retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindUpstream || e.Kind == KindInternal
	}
	return true
}

// Respond writes err as a JSON error body. Unknown errors become 500.
func Respond(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
	}

	status := e.Status()
	body := gin.H{"error": e.Message}
	if e.Details != nil {
		body["details"] = e.Details
	}

	if status >= http.StatusInternalServerError {
		if e.Kind == KindUpstream && e.Err != nil && e.Details == nil {
			body["details"] = e.Err.Error()
		}
		if e.Retryable {
			body["retryable"] = true
		}
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"error", e.Error(),
		)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	}

	c.AbortWithStatusJSON(status, body)
}

// Package provider holds the failure vocabulary shared by the text and speech
// backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind names the broad class of a provider failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindRejected    Kind = "rejected"
	KindInvalid     Kind = "invalid_response"
	KindAuth        Kind = "auth"
)

// Error is returned by generators and synthesizers. Recoverable failures may be
// masked by the caller; the rest abort the session.
type Error struct {
	Provider    string
	Kind        Kind
	Recoverable bool
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable builds a failure the pipeline may mask.
func Recoverable(name string, kind Kind, err error) *Error {
	return &Error{Provider: name, Kind: kind, Recoverable: true, Err: err}
}

// Fatal builds a failure that must abort the session.
func Fatal(name string, kind Kind, err error) *Error {
	return &Error{Provider: name, Kind: kind, Recoverable: false, Err: err}
}

// IsRecoverable reports whether err carries a recoverable provider failure.
func IsRecoverable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Recoverable
	}
	return false
}

// FromStatus classifies an HTTP response status. Throttling and server-side
// failures are recoverable; other client errors are not.
func FromStatus(name string, resp *http.Response, body string) *Error {
	err := fmt.Errorf("status %s: %s", resp.Status, body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		perr := Recoverable(name, KindRateLimited, err)
		perr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return perr
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Fatal(name, KindAuth, err)
	case resp.StatusCode >= 500:
		return Recoverable(name, KindUnavailable, err)
	default:
		return Fatal(name, KindRejected, err)
	}
}

// FromTransport classifies a failure to reach the provider at all. A cancelled
// parent context is returned unchanged so callers can tell it apart.
func FromTransport(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Recoverable(name, KindTimeout, err)
	}
	return Recoverable(name, KindUnavailable, err)
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if ts, err := http.ParseTime(value); err == nil {
		if d := time.Until(ts); d > 0 {
			return d
		}
	}
	return 0
}

// Package client defines the capability interface every protocol client
// satisfies, the error taxonomy shared across the engine, and the scheme
// registry used to select a client for a parsed location.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkuusisto/unifs/internal/resource"
)

// Sentinel errors for outcome classification. Use errors.Is to check.
// Cancellation is not listed: clients propagate ctx.Err() (context.Canceled
// or context.DeadlineExceeded) unchanged.
var (
	// ErrNotAuthenticated means no usable session exists; interactive
	// auth is required before retrying.
	ErrNotAuthenticated = errors.New("client: not authenticated")

	// ErrAuthExpired means a previously valid session lapsed. Distinct from
	// ErrNotAuthenticated: it entitles the caller to exactly one silent
	// refresh and retry.
	ErrAuthExpired = errors.New("client: authentication expired")

	ErrNotFound      = errors.New("client: not found")
	ErrAlreadyExists = errors.New("client: already exists")

	// ErrUnsupported marks an operation a particular client does not offer
	// (e.g. server-side copy on FTP). Callers fall back where they can.
	ErrUnsupported = errors.New("client: operation not supported")

	// ErrTransport is the generic I/O or network failure class.
	ErrTransport = errors.New("client: transport error")
)

// Error wraps a sentinel with the scheme, path, and underlying cause so
// operators can tell which endpoint misbehaved. Unwrap exposes the sentinel
// for errors.Is.
type Error struct {
	Kind resource.Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap builds an *Error unless err is nil or a context error, which must
// pass through bare so callers can distinguish cancellation.
func wrap(kind resource.Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsAuthError reports whether err is authentication-class. Structured
// sentinels are checked first; the substring probe survives only as a
// fallback for collaborator libraries that return flat error strings.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotAuthenticated) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "401") || strings.Contains(msg, "Not authenticated")
}

// Package errors implements the vault error taxonomy: every failure that
// crosses a package boundary is classified into a Kind and wrapped in an
// OpError carrying the operation name and the file path it concerns.
// Raw go-git, sqlite, or network errors never leak past the package that
// produced them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Kind
// =============================================================================

// Kind classifies a failure. Each kind has a fixed retry and HTTP mapping.
type Kind int

const (
	// KindInternal is the catch-all for unclassified failures.
	KindInternal Kind = iota

	// KindAlreadyLocked indicates the file is checked out by another user.
	KindAlreadyLocked

	// KindNotHolder indicates the caller does not hold the lock it tried
	// to release or mutate through.
	KindNotHolder

	// KindSync indicates a transient synchronizer failure (network, fetch,
	// reset). Retried internally before it reaches a caller.
	KindSync

	// KindAuth indicates the remote rejected our credentials. Never retried.
	KindAuth

	// KindCommit indicates a push was rejected after the bounded retry
	// budget was exhausted. The working copy is reset to the last known
	// good remote state before this is surfaced.
	KindCommit

	// KindNotFound indicates the requested file, lock, or record does not exist.
	KindNotFound

	// KindInvalid indicates malformed caller input.
	KindInvalid
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindAlreadyLocked: "already_locked",
	KindNotHolder:     "not_holder",
	KindSync:          "sync",
	KindAuth:          "auth",
	KindCommit:        "commit",
	KindNotFound:      "not_found",
	KindInvalid:       "invalid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether operations failing with this kind may be
// retried. Only transient sync failures qualify; auth failures in
// particular must never be retried.
func (k Kind) Retryable() bool {
	return k == KindSync
}

// =============================================================================
// OpError
// =============================================================================

// OpError is the error type returned by every vault component. It records
// which operation failed, on which path, and why.
type OpError struct {
	// Op is the failing operation, e.g. "checkout" or "gitsync.push".
	Op string

	// Path is the repository-relative file the operation concerned.
	// Empty for operations that are not file-scoped.
	Path string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	var b []byte
	b = append(b, e.Op...)
	if e.Path != "" {
		b = append(b, ' ')
		b = append(b, e.Path...)
	}
	b = append(b, ": "...)
	b = append(b, e.Kind.String()...)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", b, e.Err)
	}
	return string(b)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *OpError) Unwrap() error {
	return e.Err
}

// E constructs an OpError.
func E(op, path string, kind Kind, err error) error {
	return &OpError{Op: op, Path: path, Kind: kind, Err: err}
}

// =============================================================================
// Inspection helpers
// =============================================================================

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

// PathOf extracts the file path from an error chain, if any.
func PathOf(err error) string {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Path
	}
	return ""
}

// Retryable reports whether the error chain represents a transient failure.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

var kindStatus = map[Kind]int{
	KindInternal:      http.StatusInternalServerError,
	KindAlreadyLocked: http.StatusConflict,
	KindNotHolder:     http.StatusForbidden,
	KindSync:          http.StatusBadGateway,
	KindAuth:          http.StatusUnauthorized,
	KindCommit:        http.StatusConflict,
	KindNotFound:      http.StatusNotFound,
	KindInvalid:       http.StatusBadRequest,
}

// HTTPStatus maps an error chain to the status code the API surface reports.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := kindStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

package meeshy_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// ResolverFault wraps an infrastructure failure hit while resolving sender
// permissions or conversation identity. Always logged, surfaced to the caller
// as an opaque internal error.
type ResolverFault struct {
	Op  string
	Err error
}

func (f *ResolverFault) Error() string {
	return fmt.Sprintf("resolver fault in %s: %v", f.Op, f.Err)
}

func (f *ResolverFault) Unwrap() error { return f.Err }

// RepositoryFault wraps a storage failure from the persistence layer.
type RepositoryFault struct {
	Op  string
	Err error
}

func (f *RepositoryFault) Error() string {
	return fmt.Sprintf("repository fault in %s: %v", f.Op, f.Err)
}

func (f *RepositoryFault) Unwrap() error { return f.Err }

// IsFault reports whether err is an infrastructure fault rather than an
// expected domain failure.
func IsFault(err error) bool {
	var rf *ResolverFault
	var pf *RepositoryFault
	return errors.As(err, &rf) || errors.As(err, &pf)
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}

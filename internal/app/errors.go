package app

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or mismatched input, rejected before
	// any store access. Wrapped errors carry the specific complaint.
	ErrValidation = errors.New("invalid request")

	// ErrBookNotFound is returned when the referenced book is absent.
	ErrBookNotFound = errors.New("book not found")

	// ErrAlreadyPurchased is returned when the (user, book) pair already
	// exists, whether caught by the fast-path check or by the store's
	// uniqueness constraint.
	ErrAlreadyPurchased = errors.New("book already purchased")

	// ErrUnauthenticated is returned when no user identity is supplied.
	ErrUnauthenticated = errors.New("authentication required")
)

// IndexError reports a failed propagation to the search index. The
// record store commit stands; callers decide whether to retry indexing
// or accept the divergence until the backlog catches up. The wrapped
// error usually carries the engine-reported type and reason.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("search index %s failed: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent rejects drafts whose content is empty after trimming.
	ErrEmptyContent = errors.New("task content is empty")

	// ErrUnauthenticated indicates a mutation was attempted while no user is
	// signed in. No remote request is made in that case.
	ErrUnauthenticated = errors.New("no authenticated user")
)

// RemoteError wraps a failure reported by the remote store. The underlying
// message is surfaced to the caller verbatim and never retried at this layer.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return fmt.Sprintf("remote %s: %v", e.Op, e.Err) }

func (e *RemoteError) Unwrap() error { return e.Err }

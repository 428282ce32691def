package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation is returned for any mutation that would touch a frozen node.
	ErrInvalidOperation = errors.New("invalid operation: node is frozen")
	// ErrInvalidTreeMovement is returned for structurally illegal moves.
	ErrInvalidTreeMovement = errors.New("invalid tree movement")
	// ErrRootRejected is the tree error for content types that may not be roots.
	ErrRootRejected = errors.New("content type cannot be a root")
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	ErrChildWasRejected  = errors.New("child was rejected")
	ErrParentWasRejected = errors.New("parent was rejected")
	ErrMutualRejection   = errors.New("parent and child rejected each other")
)

// RejectionError describes a failed relationship validation. Kind is one of
// ErrChildWasRejected, ErrParentWasRejected or ErrMutualRejection.
type RejectionError struct {
	Kind   error
	Parent string // parent type, empty for root placement
	Child  string
	BySite bool
}

func (e *RejectionError) Error() string {
	parent := e.Parent
	if parent == "" {
		parent = "<root>"
	}
	if e.BySite {
		return fmt.Sprintf("%v: site rules forbid %s under %s", e.Kind, e.Child, parent)
	}
	return fmt.Sprintf("%v: %s under %s", e.Kind, e.Child, parent)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// RegistrationError is returned for registry misuse.
type RegistrationError struct {
	Key    string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registry: %s: %s", e.Key, e.Reason)
}

func frozenError(op string, id int64) error {
	return fmt.Errorf("%s node %d: %w", op, id, ErrInvalidOperation)
}

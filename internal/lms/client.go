package lms

import (
	"context"
	"fmt"
)

// Client is the boundary to the external learning management system. Both
// calls are idempotent on the LMS side: granting access the user already has
// returns success.
type Client interface {
	GrantAccess(ctx context.Context, userID, courseID string) error
	RevokeAccess(ctx context.Context, userID, courseID string) error
}

// Error is a classified LMS failure. Transient errors are retried by the
// enrollment dispatcher; permanent ones go straight to the failure queue.
type Error struct {
	Permanent bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("lms %s: %s (%v)", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("lms %s: %s", kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent LMS failure.
func IsPermanent(err error) bool {
	if lmsErr, ok := err.(*Error); ok {
		return lmsErr.Permanent
	}
	return false
}

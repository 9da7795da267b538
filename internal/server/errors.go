package server

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Terminal errors (validation, not-found, access)
// surface directly to the caller; ErrStorage is retried with bounded
// backoff before it escapes.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("room not found")
	ErrAccessDenied = errors.New("access denied")
	ErrForbidden    = errors.New("forbidden")
	ErrRoomDeleting = errors.New("room deletion in progress")
	ErrStorage      = errors.New("storage unavailable")
)

// PartialFailure reports a bulk delete that removed some messages but
// not all of them. The room record is left intact whenever this is
// returned, so no message is ever orphaned.
type PartialFailure struct {
	RoomId    string
	Remaining []int
	Cause     error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("room %q: %d messages could not be deleted: %v", e.RoomId, len(e.Remaining), e.Cause)
}

func (e *PartialFailure) Unwrap() error {
	return e.Cause
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered          = errors.New("connection not registered")
	ErrVersionConflict        = errors.New("queue version conflict")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrNotInRoom              = errors.New("connection not in a room")
	ErrInvalidOp              = errors.New("invalid queue operation")
	ErrInvalidName            = errors.New("invalid display name")
)

// VersionConflictError is returned when a write names a version the room's
// queue no longer has. It matches ErrVersionConflict with errors.Is.
type VersionConflictError struct {
	RoomID   string
	Expected int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for room %s: expected version %d but it was updated by another operation", e.RoomID, e.Expected)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// Unavailable wraps a store failure so that callers can match it with
// errors.Is(err, ErrPersistenceUnavailable) and still see the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}

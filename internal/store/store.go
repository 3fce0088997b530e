// Package store is the durable layer: rooms, their memberships and their
// versioned queue. Deleting a room removes its memberships and queue.
package store

import (
	"context"
	"time"

	"climbSync/internal/domain"
)

type Room struct {
	ID             string
	BoardPath      string
	LastActivityAt time.Time
}

type Member struct {
	ID          string
	RoomID      string
	DisplayName string
	IsLeader    bool
}

// QueueWrite describes one versioned write. A nil ExpectedVersion is an
// unconditional upsert. QueueOnly leaves the stored current item untouched.
type QueueWrite struct {
	RoomID          string
	Queue           []domain.QueueItem
	CurrentItem     *domain.QueueItem
	QueueOnly       bool
	ExpectedVersion *int64
}

// Store is implemented by Postgres and Memory. Every failure other than a
// version conflict matches domain.ErrPersistenceUnavailable.
type Store interface {
	UpsertRoom(ctx context.Context, roomID, boardPath string) error
	StaleRooms(ctx context.Context, before time.Time) ([]Room, error)
	// DeleteRoom deletes the room with its members and queue when its last
	// activity is before idleBefore. It reports whether a row was removed.
	DeleteRoom(ctx context.Context, roomID string, idleBefore time.Time) (bool, error)

	UpsertMember(ctx context.Context, m Member) error
	RenameMember(ctx context.Context, memberID, name string) error
	DeleteMember(ctx context.Context, memberID string) error
	SetLeader(ctx context.Context, roomID, memberID string) error
	Members(ctx context.Context, roomID string) ([]Member, error)

	ReadQueue(ctx context.Context, roomID string) (domain.QueueState, error)
	WriteQueue(ctx context.Context, w QueueWrite) (int64, error)

	Close()
}

func conflict(w QueueWrite) error {
	return &domain.VersionConflictError{RoomID: w.RoomID, Expected: *w.ExpectedVersion}
}

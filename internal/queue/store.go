// Package queue implements the versioned per-room queue: reads, the two
// optimistic write paths, mutation operations and the replay log.
package queue

import (
	"context"
	"errors"
	"log/slog"

	"climbSync/internal/domain"
	"climbSync/internal/store"
)

const maxRetries = 3

type Store struct {
	db store.Store
}

func NewStore(db store.Store) *Store {
	return &Store{db: db}
}

// Read returns the room's queue, or an empty queue at version 0 when the
// room has never been written.
func (s *Store) Read(ctx context.Context, roomID string) (domain.QueueState, error) {
	return s.db.ReadQueue(ctx, roomID)
}

// Write replaces queue and current item. A nil expectedVersion always
// succeeds; otherwise the stored version must equal *expectedVersion.
func (s *Store) Write(ctx context.Context, roomID string, queue []domain.QueueItem, current *domain.QueueItem, expectedVersion *int64) (int64, error) {
	return s.db.WriteQueue(ctx, store.QueueWrite{
		RoomID:          roomID,
		Queue:           queue,
		CurrentItem:     current,
		ExpectedVersion: expectedVersion,
	})
}

// WriteQueueOnly is Write without touching the current item.
func (s *Store) WriteQueueOnly(ctx context.Context, roomID string, queue []domain.QueueItem, expectedVersion *int64) (int64, error) {
	return s.db.WriteQueue(ctx, store.QueueWrite{
		RoomID:          roomID,
		Queue:           queue,
		QueueOnly:       true,
		ExpectedVersion: expectedVersion,
	})
}

// Result is the state before and after a Mutate call. Changed is false
// when the operation had no effect and nothing was written.
type Result struct {
	Before  domain.QueueState
	State   domain.QueueState
	Changed bool
}

// Mutate applies op to the room's stored queue. With a non-nil
// expectedVersion the caller's view must be current or the call fails with
// a version conflict. With nil it compare-and-sets on the version it read
// and retries a bounded number of times.
func (s *Store) Mutate(ctx context.Context, roomID string, op Op, expectedVersion *int64) (Result, error) {
	for attempt := 1; ; attempt++ {
		cur, err := s.db.ReadQueue(ctx, roomID)
		if err != nil {
			return Result{}, err
		}
		if expectedVersion != nil && *expectedVersion != cur.Version {
			return Result{}, &domain.VersionConflictError{RoomID: roomID, Expected: *expectedVersion}
		}

		out, err := Apply(cur, op)
		if err != nil {
			return Result{}, err
		}
		if !out.QueueChanged && !out.CurrentChanged {
			return Result{Before: cur, State: cur}, nil
		}

		read := cur.Version
		var version int64
		if out.CurrentChanged {
			version, err = s.Write(ctx, roomID, out.Queue, out.Current, &read)
		} else {
			version, err = s.WriteQueueOnly(ctx, roomID, out.Queue, &read)
		}
		if err != nil {
			if expectedVersion == nil && errors.Is(err, domain.ErrVersionConflict) && attempt < maxRetries {
				slog.Debug("queue write raced, retrying", "room", roomID, "op", op.Kind, "attempt", attempt)
				continue
			}
			return Result{}, err
		}

		return Result{
			Before: cur,
			State: domain.QueueState{
				Queue:       out.Queue,
				CurrentItem: out.Current,
				Version:     version,
			},
			Changed: true,
		}, nil
	}
}

// Package reaper deletes rooms whose durable record has been idle longer
// than a TTL.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"climbSync/internal/queue"
	"climbSync/internal/store"
)

// Forgetter drops a room from in-memory state. It returns false when the
// room still has live members and must be kept.
type Forgetter interface {
	Forget(roomID string) bool
}

type Reaper struct {
	db       store.Store
	rooms    Forgetter
	events   queue.EventLog
	ttl      time.Duration
	schedule string

	cron    *cron.Cron
	running sync.Mutex

	Now func() time.Time
}

func New(db store.Store, rooms Forgetter, events queue.EventLog, ttl time.Duration, schedule string) *Reaper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Reaper{db: db, rooms: rooms, events: events, ttl: ttl, schedule: schedule, Now: time.Now}
}

// Start sweeps once and then on the configured schedule until ctx is done
// or Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.schedule, err)
	}
	r.run(ctx)
	r.cron.Start()
	slog.Info("reaper scheduled", "schedule", r.schedule, "ttl", r.ttl.String())
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *Reaper) run(ctx context.Context) {
	if !r.running.TryLock() {
		slog.Warn("reaper sweep skipped: previous sweep still running")
		return
	}
	defer r.running.Unlock()
	if _, err := r.Sweep(ctx); err != nil {
		slog.Error("reaper sweep failed", "err", err)
	}
}

// Sweep deletes every idle room without live members and returns how many
// were removed. A failure on one room is logged and the sweep continues.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.Now().Add(-r.ttl)
	stale, err := r.db.StaleRooms(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, room := range stale {
		if !r.rooms.Forget(room.ID) {
			slog.Debug("reaper kept idle room with live members", "room", room.ID)
			continue
		}
		ok, err := r.db.DeleteRoom(ctx, room.ID, cutoff)
		if err != nil {
			slog.Error("reaper failed to delete room", "room", room.ID, "err", err)
			continue
		}
		if !ok {
			slog.Debug("reaper kept room active since the check", "room", room.ID)
			continue
		}
		if err := r.events.Drop(ctx, room.ID); err != nil {
			slog.Warn("reaper failed to drop room events", "room", room.ID, "err", err)
		}
		deleted++
	}
	if len(stale) > 0 {
		slog.Info("reaper sweep done", "stale", len(stale), "deleted", deleted)
	}
	return deleted, nil
}

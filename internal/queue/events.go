package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Event is one broadcast queue change, tagged with the queue version it
// produced.
type Event struct {
	Seq    int64           `json:"seq"`
	Type   string          `json:"type"`
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"at"`
}

// EventLog keeps a bounded history of recent events per room.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
	// Since returns the events seq+1 through upTo. ok is false unless the
	// log holds every one of them.
	Since(ctx context.Context, roomID string, seq, upTo int64) (events []Event, ok bool, err error)
	Drop(ctx context.Context, roomID string) error
}

func contiguousAfter(all []Event, seq, upTo int64) ([]Event, bool) {
	if upTo <= seq {
		return nil, false
	}
	out := make([]Event, 0, upTo-seq)
	next := seq + 1
	for _, ev := range all {
		if ev.Seq <= seq {
			continue
		}
		if ev.Seq > upTo {
			break
		}
		if ev.Seq != next {
			return nil, false
		}
		out = append(out, ev)
		next++
	}
	if next != upTo+1 {
		return nil, false
	}
	return out, true
}

// Ring is an in-process EventLog.
type Ring struct {
	mu    sync.Mutex
	size  int
	rooms map[string][]Event
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{size: size, rooms: make(map[string][]Event)}
}

func (r *Ring) Append(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.rooms[ev.RoomID], ev)
	if len(buf) > r.size {
		buf = append([]Event(nil), buf[len(buf)-r.size:]...)
	}
	r.rooms[ev.RoomID] = buf
	return nil
}

func (r *Ring) Since(_ context.Context, roomID string, seq, upTo int64) ([]Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := contiguousAfter(r.rooms[roomID], seq, upTo)
	return out, ok, nil
}

func (r *Ring) Drop(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	return nil
}

// RedisLog is an EventLog shared between processes through a capped Redis
// list per room.
type RedisLog struct {
	client    *redis.Client
	keyPrefix string
	size      int
	ttl       time.Duration
}

func NewRedisLog(client *redis.Client, keyPrefix string, size int, ttl time.Duration) *RedisLog {
	if keyPrefix == "" {
		keyPrefix = "cs:"
	}
	if size <= 0 {
		size = 100
	}
	return &RedisLog{client: client, keyPrefix: keyPrefix, size: size, ttl: ttl}
}

func (l *RedisLog) eventsKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", l.keyPrefix, roomID)
}

func (l *RedisLog) Append(ctx context.Context, ev Event) error {
	key := l.eventsKey(ev.RoomID)
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %d for room %s: %w", ev.Seq, ev.RoomID, err)
	}
	pipe := l.client.Pipeline()
	pipe.RPush(ctx, key, string(b))
	pipe.LTrim(ctx, key, int64(-l.size), -1)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push event to %s: %w", key, err)
	}
	return nil
}

func (l *RedisLog) Since(ctx context.Context, roomID string, seq, upTo int64) ([]Event, bool, error) {
	key := l.eventsKey(roomID)
	raw, err := l.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: read events from %s: %w", key, err)
	}
	all := make([]Event, 0, len(raw))
	for _, s := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, false, fmt.Errorf("redis: decode event from %s: %w", key, err)
		}
		all = append(all, ev)
	}
	out, ok := contiguousAfter(all, seq, upTo)
	return out, ok, nil
}

func (l *RedisLog) Drop(ctx context.Context, roomID string) error {
	if err := l.client.Del(ctx, l.eventsKey(roomID)).Err(); err != nil {
		return fmt.Errorf("redis: drop events for room %s: %w", roomID, err)
	}
	return nil
}

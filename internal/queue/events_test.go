package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqs(evs []Event) []int64 {
	out := make([]int64, len(evs))
	for i := range evs {
		out[i] = evs[i].Seq
	}
	return out
}

func exerciseLog(t *testing.T, log EventLog, room string) {
	ctx := context.Background()
	for s := int64(1); s <= 5; s++ {
		require.NoError(t, log.Append(ctx, Event{Seq: s, Type: "queue-item-added", RoomID: room}))
	}

	evs, ok, err := log.Since(ctx, room, 3, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{4, 5}, seqs(evs))

	// capacity 3 keeps 3..5, so anything before 2 has aged out
	_, ok, err = log.Since(ctx, room, 1, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	evs, ok, err = log.Since(ctx, room, 2, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{3, 4, 5}, seqs(evs))

	evs, ok, err = log.Since(ctx, room, 2, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{3, 4}, seqs(evs))

	_, ok, err = log.Since(ctx, room, 5, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	// the store is ahead of the log
	_, ok, err = log.Since(ctx, room, 3, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, log.Drop(ctx, room))
	_, ok, err = log.Since(ctx, room, 0, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRing(t *testing.T) {
	exerciseLog(t, NewRing(3), "R")
}

func TestRing_Gap(t *testing.T) {
	ctx := context.Background()
	r := NewRing(10)
	require.NoError(t, r.Append(ctx, Event{Seq: 1, RoomID: "R"}))
	require.NoError(t, r.Append(ctx, Event{Seq: 3, RoomID: "R"}))

	_, ok, err := r.Since(ctx, "R", 0, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRing_MissingTail(t *testing.T) {
	ctx := context.Background()
	r := NewRing(10)
	require.NoError(t, r.Append(ctx, Event{Seq: 1, RoomID: "R"}))
	require.NoError(t, r.Append(ctx, Event{Seq: 2, RoomID: "R"}))

	_, ok, err := r.Since(ctx, "R", 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	evs, ok, err := r.Since(ctx, "R", 0, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{1, 2}, seqs(evs))
}

func TestRedisLog(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	exerciseLog(t, NewRedisLog(client, "cs-test:", 3, time.Minute), uuid.NewString())
}

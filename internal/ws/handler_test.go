package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climbSync/internal/queue"
	"climbSync/internal/rooms"
	"climbSync/internal/session"
	"climbSync/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := store.NewMemory()
	qs := queue.NewStore(db)
	coord := rooms.NewCoordinator(rooms.NewRegistry(), db, qs)
	hub := NewHub()
	svc := session.New(coord, qs, queue.NewRing(50), hub)
	srv := httptest.NewServer(Handler(svc, hub))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *websocket.Conn) session.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env session.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

// until skips frames until one of the given type arrives.
func until(t *testing.T, c *websocket.Conn, typ string) session.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		if env := next(t, c); env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s frame", typ)
	return session.Envelope{}
}

func write(t *testing.T, c *websocket.Conn, typ string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(Message{Type: typ, Data: b}))
}

func TestHandler_JoinAndMutate(t *testing.T) {
	srv := newServer(t)

	a := dial(t, srv, "?room=R&boardPath=/kilter/1&name=Ann")
	assert.Equal(t, "welcome", next(t, a).Type)
	joined := until(t, a, session.EventSessionJoined)
	assert.Equal(t, "R", joined.Room)

	b := dial(t, srv, "")
	assert.Equal(t, "welcome", next(t, b).Type)
	write(t, b, "join-session", map[string]string{"sessionId": "R", "boardPath": "/kilter/1", "username": "Ben"})
	until(t, b, session.EventSessionJoined)
	until(t, a, session.EventMemberJoined)

	write(t, b, "add-queue-item", map[string]any{
		"item":            map[string]any{"uuid": "q1", "climb": map[string]any{"uuid": "c1"}},
		"expectedVersion": 0,
	})
	for _, c := range []*websocket.Conn{a, b} {
		env := until(t, c, session.EventQueueItemAdded)
		assert.Equal(t, int64(1), env.Seq)
	}

	write(t, a, "reorder-queue-item", map[string]any{"uuid": "q1", "oldIndex": 0, "newIndex": 0, "expectedVersion": 0})
	env := until(t, a, "error")
	assert.Contains(t, string(env.Data), "VERSION_CONFLICT")
}

func TestHandler_ErrorsAndHeartbeat(t *testing.T) {
	srv := newServer(t)
	c := dial(t, srv, "")
	next(t, c)

	write(t, c, "remove-queue-item", map[string]any{"uuid": "x"})
	env := until(t, c, "error")
	assert.Contains(t, string(env.Data), "NOT_IN_SESSION")

	write(t, c, "heartbeat", map[string]int64{"timestamp": 42})
	env = until(t, c, "heartbeat-response")
	var hb map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &hb))
	assert.Equal(t, int64(42), hb["originalTimestamp"])
	assert.NotZero(t, hb["responseTimestamp"])

	write(t, c, "teleport", nil)
	env = until(t, c, "error")
	assert.Contains(t, string(env.Data), "BAD_REQUEST")
}

func TestHandler_DisconnectPromotesFollower(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv, "?room=R&boardPath=/b")
	until(t, a, session.EventSessionJoined)
	b := dial(t, srv, "?room=R&boardPath=/b")
	until(t, b, session.EventSessionJoined)

	require.NoError(t, a.Close())

	until(t, b, session.EventMemberLeft)
	env := until(t, b, session.EventLeaderChanged)
	assert.Contains(t, string(env.Data), "leaderId")
}

func TestHub_DropsWhenFull(t *testing.T) {
	h := NewHub()
	q := make(chan []byte, 1)
	h.Add("a", q)
	h.Send([]string{"a", "missing"}, []byte("1"))
	h.Send([]string{"a"}, []byte("2"))

	assert.Equal(t, []byte("1"), <-q)
	assert.Len(t, q, 0)

	h.Remove("a")
	h.Remove("a")
	_, open := <-q
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())
}

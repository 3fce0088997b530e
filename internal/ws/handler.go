package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"climbSync/internal/domain"
	"climbSync/internal/queue"
	"climbSync/internal/session"
)

const (
	opTimeout   = 10 * time.Second
	pingEvery   = 45 * time.Second
	readTimeout = 90 * time.Second
	sendBuffer  = 64
)

// Message is an inbound client frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	BoardPath string `json:"boardPath"`
	Username  string `json:"username"`
}

type usernamePayload struct {
	Username string `json:"username"`
}

type replayPayload struct {
	SinceSequence int64 `json:"sinceSequence"`
}

type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type opPayload struct {
	Item             *domain.QueueItem  `json:"item"`
	Queue            []domain.QueueItem `json:"queue"`
	CurrentItem      *domain.QueueItem  `json:"currentClimbQueueItem"`
	Position         *int               `json:"position"`
	UUID             string             `json:"uuid"`
	OldIndex         int                `json:"oldIndex"`
	NewIndex         int                `json:"newIndex"`
	Mirrored         bool               `json:"mirrored"`
	ShouldAddToQueue bool               `json:"shouldAddToQueue"`
	ExpectedVersion  *int64             `json:"expectedVersion"`
}

var opKinds = map[string]queue.Kind{
	"update-queue":         queue.ReplaceQueue,
	"add-queue-item":       queue.AddItem,
	"remove-queue-item":    queue.RemoveItem,
	"reorder-queue-item":   queue.ReorderItem,
	"update-current-climb": queue.SetCurrent,
	"mirror-current-climb": queue.ToggleMirror,
	"replace-queue-item":   queue.ReplaceItem,
}

func (p opPayload) op(kind queue.Kind) queue.Op {
	op := queue.Op{
		Kind:       kind,
		Queue:      p.Queue,
		Item:       p.Item,
		Position:   p.Position,
		UUID:       p.UUID,
		From:       p.OldIndex,
		To:         p.NewIndex,
		Mirrored:   p.Mirrored,
		AddToQueue: p.ShouldAddToQueue,
	}
	if kind == queue.ReplaceQueue {
		op.Item = p.CurrentItem
	}
	return op
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		return "VERSION_CONFLICT"
	case errors.Is(err, domain.ErrNotRegistered):
		return "NOT_REGISTERED"
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return "PERSISTENCE_UNAVAILABLE"
	case errors.Is(err, domain.ErrNotInRoom):
		return "NOT_IN_SESSION"
	default:
		return "BAD_REQUEST"
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
	},
}

func SetAllowedOrigin(origin string) {
	if strings.TrimSpace(origin) == "" {
		return
	}
	upgrader.CheckOrigin = func(r *http.Request) bool {
		return r.Header.Get("Origin") == origin
	}
}

// Handler upgrades the request and drives one client connection. When the
// query carries room (and optionally boardPath and name) the client is
// joined straight away.
func Handler(svc *session.Service, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "err", err, "remote", r.RemoteAddr)
			return
		}

		clientID := svc.Connect()
		out := make(chan []byte, sendBuffer)
		hub.Add(clientID, out)
		reply := func(typ string, payload any) {
			hub.Send([]string{clientID}, mustJSON(session.Envelope{Type: typ, Data: mustJSON(payload)}))
		}
		fail := func(err error) {
			code := errorCode(err)
			if code == "PERSISTENCE_UNAVAILABLE" {
				slog.Error("store unavailable", "conn", clientID, "err", err)
			}
			reply("error", errorPayload{Code: code, Message: err.Error()})
		}
		slog.Info("ws connected", "conn", clientID, "remote", r.RemoteAddr)

		// Writer
		go func() {
			defer conn.Close()
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			_ = conn.WriteJSON(session.Envelope{Type: "welcome", Data: mustJSON(map[string]string{"clientId": clientID})})
			conn.SetWriteDeadline(time.Time{})
			for msg := range out {
				conn.SetWriteDeadline(time.Now().Add(15 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
				conn.SetWriteDeadline(time.Time{})
			}
		}()

		if roomID := strings.TrimSpace(r.URL.Query().Get("room")); roomID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			_, err := svc.Join(ctx, clientID, roomID, r.URL.Query().Get("boardPath"), r.URL.Query().Get("name"))
			cancel()
			if err != nil {
				fail(err)
			}
		}

		conn.SetReadLimit(1 << 19)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(readTimeout)); return nil })
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				case <-done:
					return
				}
			}
		}()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				fail(errors.New("malformed frame"))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := dispatch(ctx, svc, clientID, msg, reply); err != nil {
				fail(err)
			}
			cancel()
		}

		close(done)
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		svc.Disconnect(ctx, clientID)
		cancel()
		hub.Remove(clientID)
		_ = conn.Close()
		slog.Info("ws disconnected", "conn", clientID)
	}
}

func dispatch(ctx context.Context, svc *session.Service, clientID string, msg Message, reply func(string, any)) error {
	switch msg.Type {
	case "join-session":
		var p joinPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || strings.TrimSpace(p.SessionID) == "" {
			return errors.New("join-session requires sessionId")
		}
		_, err := svc.Join(ctx, clientID, strings.TrimSpace(p.SessionID), p.BoardPath, p.Username)
		return err
	case "leave-session":
		return svc.Leave(ctx, clientID)
	case "update-username":
		var p usernamePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New("update-username requires username")
		}
		return svc.Rename(ctx, clientID, p.Username)
	case "request-queue-state":
		return svc.Resync(ctx, clientID)
	case "events-replay":
		var p replayPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New("events-replay requires sinceSequence")
		}
		return svc.Replay(ctx, clientID, p.SinceSequence)
	case "heartbeat":
		var p heartbeatPayload
		_ = json.Unmarshal(msg.Data, &p)
		reply("heartbeat-response", map[string]int64{
			"originalTimestamp": p.Timestamp,
			"responseTimestamp": time.Now().UnixMilli(),
		})
		return nil
	}

	kind, ok := opKinds[msg.Type]
	if !ok {
		slog.Debug("unknown message type", "conn", clientID, "type", msg.Type)
		return errors.New("unknown message type " + msg.Type)
	}
	var p opPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errors.New(msg.Type + ": malformed payload")
		}
	}
	_, err := svc.Mutate(ctx, clientID, p.op(kind), p.ExpectedVersion)
	return err
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

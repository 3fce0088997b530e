// Package session binds connection lifecycle and queue operations to the
// room coordinator and fans the resulting events out to room members.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"climbSync/internal/domain"
	"climbSync/internal/queue"
	"climbSync/internal/rooms"
)

// Broadcaster delivers an encoded frame to each listed connection. Unknown
// connections are skipped.
type Broadcaster interface {
	Send(connIDs []string, data []byte)
}

// roomStripes bounds the number of locks that order queue broadcasts.
const roomStripes = 64

type Service struct {
	coord  *rooms.Coordinator
	queues *queue.Store
	events queue.EventLog
	out    Broadcaster

	stripes [roomStripes]sync.Mutex

	Now func() time.Time
}

func New(coord *rooms.Coordinator, queues *queue.Store, events queue.EventLog, out Broadcaster) *Service {
	return &Service{coord: coord, queues: queues, events: events, out: out, Now: time.Now}
}

// roomLock serializes write, append and broadcast for one room so members
// receive queue events in seq order.
func (s *Service) roomLock(roomID string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(roomID)%roomStripes]
}

func (s *Service) send(ids []string, typ, roomID string, seq int64, payload any) {
	if len(ids) == 0 {
		return
	}
	s.out.Send(ids, mustJSON(Envelope{Type: typ, Room: roomID, Seq: seq, Data: mustJSON(payload)}))
}

func (s *Service) others(roomID, except string) []string {
	all := s.coord.MemberIDs(roomID)
	out := make([]string, 0, len(all))
	for _, id := range all {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) Connect() string {
	id := s.coord.Registry().Register()
	slog.Debug("connection registered", "conn", id)
	return id
}

func (s *Service) Join(ctx context.Context, connID, roomID, boardPath, displayName string) (rooms.JoinResult, error) {
	res, err := s.coord.Join(ctx, connID, roomID, boardPath, displayName)
	if res.Previous != nil {
		s.announceLeave(res.Previous)
	}
	if err != nil {
		return res, err
	}

	if len(res.EvictedConnectionIDs) > 0 {
		s.send(res.EvictedConnectionIDs, EventSessionEnded, res.SwitchedFromRoomID, 0, sessionEnded{
			Reason:    "room-switched",
			RoomID:    res.SwitchedFromRoomID,
			NewRoomID: roomID,
			BoardPath: boardPath,
		})
		slog.Info("room switched, members evicted", "from", res.SwitchedFromRoomID, "to", roomID, "evicted", len(res.EvictedConnectionIDs))
	}

	s.send([]string{connID}, EventSessionJoined, roomID, res.Queue.Version, sessionJoined{
		ClientID:     connID,
		RoomID:       roomID,
		Members:      res.Members,
		Queue:        res.Queue,
		IsLeader:     res.IsLeader,
		RoomSwitched: res.RoomSwitched,
	})
	for _, m := range res.Members {
		if m.ID == connID {
			s.send(s.others(roomID, connID), EventMemberJoined, roomID, 0, memberJoined{Member: m})
			break
		}
	}
	return res, nil
}

func (s *Service) Leave(ctx context.Context, connID string) error {
	res, err := s.coord.Leave(ctx, connID)
	if res != nil {
		s.announceLeave(res)
	}
	return err
}

// Disconnect leaves any room and then forgets the connection.
func (s *Service) Disconnect(ctx context.Context, connID string) {
	if err := s.Leave(ctx, connID); err != nil {
		slog.Warn("leave on disconnect incomplete", "conn", connID, "err", err)
	}
	s.coord.Registry().Remove(connID)
}

func (s *Service) announceLeave(res *rooms.LeaveResult) {
	remaining := s.coord.MemberIDs(res.RoomID)
	s.send(remaining, EventMemberLeft, res.RoomID, 0, memberLeft{ClientID: res.ConnID})
	if res.NewLeaderID != "" {
		s.send(remaining, EventLeaderChanged, res.RoomID, 0, leaderChanged{LeaderID: res.NewLeaderID})
	}
}

func (s *Service) Rename(ctx context.Context, connID, name string) error {
	err := s.coord.SetDisplayName(ctx, connID, name)
	if err != nil && !errors.Is(err, domain.ErrPersistenceUnavailable) {
		return err
	}
	conn, ok := s.coord.Registry().Get(connID)
	if ok && conn.RoomID != "" {
		for _, m := range s.coord.ListMembers(conn.RoomID) {
			if m.ID == connID {
				s.send(s.coord.MemberIDs(conn.RoomID), EventMemberUpdated, conn.RoomID, 0, memberJoined{Member: m})
				break
			}
		}
	}
	return err
}

func (s *Service) roomOf(connID string) (string, error) {
	conn, ok := s.coord.Registry().Get(connID)
	if !ok {
		return "", domain.ErrNotRegistered
	}
	if conn.RoomID == "" {
		return "", domain.ErrNotInRoom
	}
	return conn.RoomID, nil
}

// Mutate applies op to the caller's room queue and broadcasts the change
// to every member, the caller included. It returns the resulting version.
func (s *Service) Mutate(ctx context.Context, connID string, op queue.Op, expectedVersion *int64) (int64, error) {
	roomID, err := s.roomOf(connID)
	if err != nil {
		return 0, err
	}
	mu := s.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.queues.Mutate(ctx, roomID, op, expectedVersion)
	if err != nil {
		return 0, err
	}
	if !res.Changed {
		return res.State.Version, nil
	}

	typ, payload := queueEvent(op, res.Before, res.State)
	ev := queue.Event{
		Seq:    res.State.Version,
		Type:   typ,
		RoomID: roomID,
		Data:   mustJSON(payload),
		At:     s.Now().UTC(),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Warn("event not recorded for replay", "room", roomID, "seq", ev.Seq, "err", err)
	}
	s.out.Send(s.coord.MemberIDs(roomID), mustJSON(Envelope{Type: typ, Room: roomID, Seq: ev.Seq, Data: ev.Data}))
	slog.Debug("queue mutated", "room", roomID, "conn", connID, "op", op.Kind, "version", ev.Seq)
	return ev.Seq, nil
}

// Resync sends the caller the full queue state of its room.
func (s *Service) Resync(ctx context.Context, connID string) error {
	roomID, err := s.roomOf(connID)
	if err != nil {
		return err
	}
	st, err := s.queues.Read(ctx, roomID)
	if err != nil {
		return fmt.Errorf("resync %s: %w", roomID, err)
	}
	s.send([]string{connID}, EventFullResync, roomID, st.Version, st)
	return nil
}

// Replay sends the caller the queue events after since, or a full resync
// when they are no longer buffered.
func (s *Service) Replay(ctx context.Context, connID string, since int64) error {
	roomID, err := s.roomOf(connID)
	if err != nil {
		return err
	}
	st, err := s.queues.Read(ctx, roomID)
	if err != nil {
		return fmt.Errorf("replay %s: %w", roomID, err)
	}
	if since == st.Version {
		s.send([]string{connID}, EventsReplay, roomID, st.Version, replay{Events: []queue.Event{}, Version: st.Version})
		return nil
	}
	var (
		evs []queue.Event
		ok  bool
	)
	if since >= 0 && since < st.Version {
		evs, ok, err = s.events.Since(ctx, roomID, since, st.Version)
		if err != nil {
			slog.Warn("replay log unavailable, sending full resync", "room", roomID, "err", err)
		}
	}
	if !ok {
		s.send([]string{connID}, EventFullResync, roomID, st.Version, st)
		return nil
	}
	s.send([]string{connID}, EventsReplay, roomID, st.Version, replay{Events: evs, Version: st.Version})
	return nil
}

func (s *Service) Active() (rooms.ActiveSession, bool) {
	return s.coord.Active()
}

func (s *Service) Members(roomID string) []rooms.Member {
	return s.coord.ListMembers(roomID)
}

func (s *Service) Queue(ctx context.Context, roomID string) (domain.QueueState, error) {
	return s.queues.Read(ctx, roomID)
}

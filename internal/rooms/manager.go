// Package rooms owns connection records, room membership and leadership.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"climbSync/internal/domain"
	"climbSync/internal/queue"
	"climbSync/internal/store"
)

const maxNameLen = 64

type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	IsLeader    bool      `json:"isLeader"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type ActiveSession struct {
	RoomID    string `json:"roomId"`
	BoardPath string `json:"boardPath"`
}

type JoinResult struct {
	ClientID             string
	RoomID               string
	Members              []Member
	Queue                domain.QueueState
	IsLeader             bool
	RoomSwitched         bool
	SwitchedFromRoomID   string
	EvictedConnectionIDs []string
	// Previous is set when the connection was in another room and left it
	// first.
	Previous *LeaveResult
}

type LeaveResult struct {
	RoomID      string
	ConnID      string
	WasLeader   bool
	NewLeaderID string
}

type room struct {
	id        string
	boardPath string
	members   map[string]struct{}
}

// Coordinator is the single owner of in-memory room state for this
// process. mu guards the maps and is never held across a store call.
// seq orders membership changes so a leave and its re-election finish
// before the next join or leave starts.
type Coordinator struct {
	seq sync.Mutex
	mu  sync.RWMutex

	reg    *Registry
	db     store.Store
	queues *queue.Store

	rooms  map[string]*room
	active *ActiveSession
}

func NewCoordinator(reg *Registry, db store.Store, queues *queue.Store) *Coordinator {
	return &Coordinator{
		reg:    reg,
		db:     db,
		queues: queues,
		rooms:  make(map[string]*room),
	}
}

func (c *Coordinator) Registry() *Registry { return c.reg }

// Join puts connID into roomID, leaving any previous room first. When the
// active room shows a different boardPath, its other members are evicted.
// The durable room and membership rows are written before memory changes,
// so a store failure leaves in-memory state as it was after the leave.
func (c *Coordinator) Join(ctx context.Context, connID, roomID, boardPath, displayName string) (JoinResult, error) {
	c.seq.Lock()
	defer c.seq.Unlock()

	conn, ok := c.reg.Get(connID)
	if !ok {
		return JoinResult{}, domain.ErrNotRegistered
	}

	res := JoinResult{ClientID: connID, RoomID: roomID}
	if conn.RoomID != "" {
		prev, err := c.leave(ctx, connID)
		if err != nil {
			slog.Warn("leave before join incomplete", "conn", connID, "room", conn.RoomID, "err", err)
		}
		res.Previous = prev
	}

	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		name = conn.DisplayName
	}

	c.mu.RLock()
	var oldRoom *room
	if c.active != nil && c.active.RoomID != roomID && c.active.BoardPath != boardPath {
		if r := c.rooms[c.active.RoomID]; r != nil && len(r.members) > 0 {
			oldRoom = r
			for id := range r.members {
				res.EvictedConnectionIDs = append(res.EvictedConnectionIDs, id)
			}
		}
	}
	target := c.rooms[roomID]
	res.IsLeader = target == nil || len(target.members) == 0
	c.mu.RUnlock()
	sort.Strings(res.EvictedConnectionIDs)

	if err := c.db.UpsertRoom(ctx, roomID, boardPath); err != nil {
		return JoinResult{Previous: res.Previous}, fmt.Errorf("join %s: %w", roomID, err)
	}
	member := store.Member{ID: connID, RoomID: roomID, DisplayName: name, IsLeader: res.IsLeader}
	if err := c.db.UpsertMember(ctx, member); err != nil {
		return JoinResult{Previous: res.Previous}, fmt.Errorf("join %s: %w", roomID, err)
	}
	snap, err := c.queues.Read(ctx, roomID)
	if err != nil {
		return JoinResult{Previous: res.Previous}, fmt.Errorf("join %s: %w", roomID, err)
	}
	res.Queue = snap

	c.mu.Lock()
	if oldRoom != nil {
		for id := range oldRoom.members {
			c.reg.update(id, func(cn *Connection) {
				cn.RoomID = ""
				cn.IsLeader = false
			})
		}
		delete(c.rooms, oldRoom.id)
		res.RoomSwitched = true
		res.SwitchedFromRoomID = oldRoom.id
	}
	target = c.rooms[roomID]
	if target == nil {
		target = &room{id: roomID, members: make(map[string]struct{})}
		c.rooms[roomID] = target
	}
	target.boardPath = boardPath
	target.members[connID] = struct{}{}
	c.reg.update(connID, func(cn *Connection) {
		cn.RoomID = roomID
		cn.DisplayName = name
		cn.IsLeader = res.IsLeader
	})
	c.active = &ActiveSession{RoomID: roomID, BoardPath: boardPath}
	res.Members = c.membersLocked(target)
	c.mu.Unlock()

	for _, id := range res.EvictedConnectionIDs {
		if err := c.db.DeleteMember(ctx, id); err != nil {
			slog.Warn("evicted membership not deleted", "conn", id, "room", res.SwitchedFromRoomID, "err", err)
		}
	}

	slog.Info("joined room", "conn", connID, "room", roomID, "leader", res.IsLeader, "members", len(res.Members), "switched", res.RoomSwitched)
	return res, nil
}

// Leave removes connID from its room and re-elects a leader if needed. It
// returns nil when the connection is not in a room. In-memory state is
// committed before the durable calls; their failure is returned alongside
// the result.
func (c *Coordinator) Leave(ctx context.Context, connID string) (*LeaveResult, error) {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.leave(ctx, connID)
}

func (c *Coordinator) leave(ctx context.Context, connID string) (*LeaveResult, error) {
	conn, ok := c.reg.Get(connID)
	if !ok || conn.RoomID == "" {
		return nil, nil
	}

	res := &LeaveResult{RoomID: conn.RoomID, ConnID: connID, WasLeader: conn.IsLeader}

	c.mu.Lock()
	c.reg.update(connID, func(cn *Connection) {
		cn.RoomID = ""
		cn.IsLeader = false
	})
	if r := c.rooms[conn.RoomID]; r != nil {
		delete(r.members, connID)
		if len(r.members) == 0 {
			delete(c.rooms, r.id)
			if c.active != nil && c.active.RoomID == r.id {
				c.active = nil
			}
		} else if conn.IsLeader {
			res.NewLeaderID = c.electLocked(r)
			c.reg.update(res.NewLeaderID, func(cn *Connection) { cn.IsLeader = true })
		}
	}
	c.mu.Unlock()

	var errs []error
	if err := c.db.DeleteMember(ctx, connID); err != nil {
		errs = append(errs, err)
	}
	if res.NewLeaderID != "" {
		if err := c.db.SetLeader(ctx, res.RoomID, res.NewLeaderID); err != nil {
			errs = append(errs, err)
		}
		slog.Info("leader re-elected", "room", res.RoomID, "leader", res.NewLeaderID, "previous", connID)
	}
	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("leave %s: %w", res.RoomID, err)
	}
	return res, nil
}

// electLocked picks the member that connected first, ties broken by
// registration order.
func (c *Coordinator) electLocked(r *room) string {
	ms := c.connectionsLocked(r)
	if len(ms) == 0 {
		return ""
	}
	return ms[0].ID
}

func (c *Coordinator) connectionsLocked(r *room) []Connection {
	out := make([]Connection, 0, len(r.members))
	for id := range r.members {
		if cn, ok := c.reg.Get(id); ok {
			out = append(out, cn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (c *Coordinator) membersLocked(r *room) []Member {
	conns := c.connectionsLocked(r)
	out := make([]Member, len(conns))
	for i, cn := range conns {
		out[i] = Member{ID: cn.ID, DisplayName: cn.DisplayName, IsLeader: cn.IsLeader, ConnectedAt: cn.ConnectedAt}
	}
	return out
}

// ListMembers returns the room's members in connect order. Unknown rooms
// yield an empty slice.
func (c *Coordinator) ListMembers(roomID string) []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.rooms[roomID]
	if r == nil {
		return []Member{}
	}
	return c.membersLocked(r)
}

func (c *Coordinator) MemberIDs(roomID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.rooms[roomID]
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetDisplayName renames connID and, when it is in a room, its durable
// membership row.
func (c *Coordinator) SetDisplayName(ctx context.Context, connID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("%w: must be 1 to %d characters", domain.ErrInvalidName, maxNameLen)
	}

	c.seq.Lock()
	defer c.seq.Unlock()

	conn, ok := c.reg.Get(connID)
	if !ok {
		return domain.ErrNotRegistered
	}
	c.mu.Lock()
	c.reg.update(connID, func(cn *Connection) { cn.DisplayName = name })
	c.mu.Unlock()

	if conn.RoomID == "" {
		return nil
	}
	if err := c.db.RenameMember(ctx, connID, name); err != nil {
		return fmt.Errorf("rename %s: %w", connID, err)
	}
	return nil
}

// Forget drops an empty room from memory. Rooms with live members are kept
// and false is returned.
func (c *Coordinator) Forget(roomID string) bool {
	c.seq.Lock()
	defer c.seq.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if r := c.rooms[roomID]; r != nil && len(r.members) > 0 {
		return false
	}
	delete(c.rooms, roomID)
	if c.active != nil && c.active.RoomID == roomID {
		c.active = nil
	}
	return true
}

// Active returns the room a fresh connection should join. A cached room
// with no members is cleared rather than returned.
func (c *Coordinator) Active() (ActiveSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ActiveSession{}, false
	}
	if r := c.rooms[c.active.RoomID]; r == nil || len(r.members) == 0 {
		c.active = nil
		return ActiveSession{}, false
	}
	return *c.active, true
}

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"climbSync/internal/domain"
)

var errNoRoom = errors.New("room does not exist")

// Memory is a process-local Store. It applies the same version checks as
// the Postgres store under a single lock and is used when no database is
// configured.
type Memory struct {
	mu      sync.Mutex
	rooms   map[string]Room
	members map[string]Member
	queues  map[string]domain.QueueState

	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms:   make(map[string]Room),
		members: make(map[string]Member),
		queues:  make(map[string]domain.QueueState),
		Now:     time.Now,
	}
}

func (m *Memory) UpsertRoom(_ context.Context, roomID, boardPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[roomID] = Room{ID: roomID, BoardPath: boardPath, LastActivityAt: m.Now()}
	return nil
}

func (m *Memory) StaleRooms(_ context.Context, before time.Time) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Room, 0)
	for _, r := range m.rooms {
		if r.LastActivityAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string, idleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.LastActivityAt.Before(idleBefore) {
		return false, nil
	}
	delete(m.rooms, roomID)
	delete(m.queues, roomID)
	for id, mem := range m.members {
		if mem.RoomID == roomID {
			delete(m.members, id)
		}
	}
	return true, nil
}

func (m *Memory) UpsertMember(_ context.Context, mem Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[mem.RoomID]; !ok {
		return domain.Unavailable("upsert member", errNoRoom)
	}
	m.members[mem.ID] = mem
	return nil
}

func (m *Memory) RenameMember(_ context.Context, memberID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.members[memberID]; ok {
		mem.DisplayName = name
		m.members[memberID] = mem
	}
	return nil
}

func (m *Memory) DeleteMember(_ context.Context, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberID)
	return nil
}

func (m *Memory) SetLeader(_ context.Context, roomID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mem := range m.members {
		if mem.RoomID == roomID {
			mem.IsLeader = id == memberID
			m.members[id] = mem
		}
	}
	return nil
}

func (m *Memory) Members(_ context.Context, roomID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0)
	for _, mem := range m.members {
		if mem.RoomID == roomID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReadQueue(_ context.Context, roomID string) (domain.QueueState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[roomID]
	if !ok {
		return domain.QueueState{Queue: []domain.QueueItem{}}, nil
	}
	return q.Clone(), nil
}

func (m *Memory) WriteQueue(_ context.Context, w QueueWrite) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[w.RoomID]
	if !ok {
		return 0, domain.Unavailable("write queue", errNoRoom)
	}

	cur, exists := m.queues[w.RoomID]
	if w.ExpectedVersion != nil {
		exp := *w.ExpectedVersion
		if exp < 0 {
			return 0, conflict(w)
		}
		if exp == 0 && exists && cur.Version != 0 {
			return 0, conflict(w)
		}
		if exp > 0 && (!exists || cur.Version != exp) {
			return 0, conflict(w)
		}
	}

	next := domain.QueueState{
		Queue:       domain.CloneItems(w.Queue),
		CurrentItem: domain.CloneItem(w.CurrentItem),
		Version:     cur.Version + 1,
	}
	if w.QueueOnly {
		next.CurrentItem = cur.CurrentItem
	}
	m.queues[w.RoomID] = next

	room.LastActivityAt = m.Now()
	m.rooms[w.RoomID] = room
	return next.Version, nil
}

func (m *Memory) Close() {}

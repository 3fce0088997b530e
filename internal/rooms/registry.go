package rooms

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is the in-memory record of one live transport connection.
type Connection struct {
	ID          string
	RoomID      string
	DisplayName string
	IsLeader    bool
	ConnectedAt time.Time
	Seq         uint64
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	seq   uint64

	Now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection), Now: time.Now}
}

func DefaultName(id string) string {
	if len(id) > 6 {
		id = id[:6]
	}
	return "User-" + id
}

// Register issues a fresh connection id with no room and a default name.
func (r *Registry) Register() string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.conns[id] = &Connection{
		ID:          id,
		DisplayName: DefaultName(id),
		ConnectedAt: r.Now(),
		Seq:         r.seq,
	}
	return id
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) update(id string, fn func(*Connection)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		fn(c)
	}
	return ok
}

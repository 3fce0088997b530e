package ws

import "sync"

// Hub maps connection ids to their outbound queues. Sends never block: a
// full queue drops the frame for that connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]chan []byte
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]chan []byte)}
}

func (h *Hub) Add(id string, queue chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = queue
}

// Remove unregisters id and closes its queue.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.conns[id]; ok {
		delete(h.conns, id)
		close(q)
	}
}

func (h *Hub) Send(ids []string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		q, ok := h.conns[id]
		if !ok {
			continue
		}
		select {
		case q <- data:
		default:
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

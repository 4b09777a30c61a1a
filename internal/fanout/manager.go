// Package fanout implements the emulator-side broadcast fan-out: every
// outbound frame is copied to every connected client, and a client that
// falls behind is disconnected rather than allowed to stall the broadcast.
package fanout

import "sync"

// ClientID identifies one registered client's queue.
type ClientID uint64

// Queue is a single client's outbound frame buffer. Broadcast never blocks
// on a slow consumer: Push is non-blocking and reports overflow instead.
type Queue struct {
	frames chan []byte
}

func newQueue(capacity int) *Queue {
	return &Queue{frames: make(chan []byte, capacity)}
}

// Push appends frame to the queue. It reports false, without blocking, if
// the queue is already at its soft cap.
func (q *Queue) Push(frame []byte) bool {
	select {
	case q.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames returns the channel a client's writer goroutine should drain.
func (q *Queue) Frames() <-chan []byte { return q.frames }

// ClientBufferManager is the spec's broadcast hub (§4.6): register a client
// to get a private queue, broadcast a frame to every registered client, and
// unregister on disconnect. Grounded on the teacher's DAGStreamer
// register/unregister/broadcast hub, generalized from one shared broadcast
// channel to a map of per-client queues so a slow client can be dropped
// without affecting the rest.
type ClientBufferManager struct {
	mu       sync.Mutex
	clients  map[ClientID]*Queue
	nextID   ClientID
	capacity int
}

// NewClientBufferManager creates a manager whose per-client queues hold up
// to capacity frames before a client is considered too slow to keep up.
func NewClientBufferManager(capacity int) *ClientBufferManager {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ClientBufferManager{
		clients:  make(map[ClientID]*Queue),
		capacity: capacity,
	}
}

// Register allocates a new queue for a connecting client.
func (m *ClientBufferManager) Register() (ClientID, *Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	q := newQueue(m.capacity)
	m.clients[id] = q
	return id, q
}

// Unregister removes a client's queue. Idempotent.
func (m *ClientBufferManager) Unregister(id ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
}

// Count returns the number of currently registered clients.
func (m *ClientBufferManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Broadcast atomically appends frame to every registered client's queue.
// Clients whose queue is already full are unregistered and returned so the
// caller can close their underlying connection.
func (m *ClientBufferManager) Broadcast(frame []byte) []ClientID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var overflowed []ClientID
	for id, q := range m.clients {
		if !q.Push(frame) {
			overflowed = append(overflowed, id)
		}
	}
	for _, id := range overflowed {
		delete(m.clients, id)
	}
	return overflowed
}

// Package busproto implements the client protocol engine (spec §4.3): a
// single TCP connection to the gateway, a FIFO send queue with randomized
// inter-telegram pacing, a rolling inactivity timeout, optional at-the-wire
// deduplication, and a typed signal surface.
package busproto

import "sync"

// Signal is a strongly-typed, single-owner pub/sub channel for one event
// class (spec §9 "Callbacks -> signals migration": the source's dynamic
// event bus becomes one Signal[T] per event class here). Grounded on
// the teacher's channel-registry shape in internal/events/bus.go, adapted
// from chan-based delivery to direct, synchronous handler invocation since
// every Signal here has a small number of in-process subscribers that must
// run to completion before the emitting goroutine continues (spec §5).
type Signal[T any] struct {
	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
}

// Connect registers a handler and returns a token for Disconnect. Handlers
// registered earlier run before handlers registered later, and all handlers
// for a given Emit complete before Emit returns (spec §5 ordering guarantee).
func (s *Signal[T]) Connect(h func(T)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	return id
}

// Disconnect removes a previously-connected handler. Idempotent.
func (s *Signal[T]) Disconnect(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

// DisconnectAll removes every handler, used by a service's scope-exit to
// detach everything it installed without tracking individual tokens.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[int]func(T))
}

// Emit calls every connected handler, in ascending registration order, on
// the calling goroutine. The handler list is copied under the lock and the
// handlers run after it is released, so a handler may Connect or Disconnect;
// concurrent Emit calls are not serialized against each other.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	// Deterministic order: registration order, i.e. ascending token.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

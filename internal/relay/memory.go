package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"breakout-platform/pkg/protocol"
)

// InMemory is an in-process relay for tests and single-binary setups. Each
// client takes its own Handle; published envelopes fan out to every other
// handle subscribed to the same room context. Duplicate delivery can be
// dialed up to exercise idempotent receivers.
type InMemory struct {
	mu         sync.Mutex
	subs       map[protocol.RoomContextID]map[string]func(protocol.Envelope)
	duplicates int
}

func NewInMemory() *InMemory {
	return &InMemory{
		subs: make(map[protocol.RoomContextID]map[string]func(protocol.Envelope)),
	}
}

// SetDuplicateDelivery makes every publish deliver 1+n copies, mimicking the
// at-least-once contract of a real relay.
func (m *InMemory) SetDuplicateDelivery(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates = n
}

// Handle returns a per-client view of the relay. A handle never receives its
// own publishes, matching the hub's sender exclusion.
func (m *InMemory) Handle() protocol.Relay {
	return &memoryHandle{hub: m, id: uuid.NewString()}
}

func (m *InMemory) publish(senderID string, env protocol.Envelope) {
	m.mu.Lock()
	var targets []func(protocol.Envelope)
	for id, fn := range m.subs[env.RoomContext] {
		if id == senderID {
			continue
		}
		targets = append(targets, fn)
	}
	copies := 1 + m.duplicates
	m.mu.Unlock()

	for _, fn := range targets {
		for i := 0; i < copies; i++ {
			fn(env)
		}
	}
}

func (m *InMemory) subscribe(id string, roomContext protocol.RoomContextID, fn func(protocol.Envelope)) func() {
	m.mu.Lock()
	if m.subs[roomContext] == nil {
		m.subs[roomContext] = make(map[string]func(protocol.Envelope))
	}
	m.subs[roomContext][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[roomContext], id)
		m.mu.Unlock()
	}
}

type memoryHandle struct {
	hub *InMemory
	id  string
}

func (h *memoryHandle) Publish(_ context.Context, env protocol.Envelope) error {
	h.hub.publish(h.id, env)
	return nil
}

func (h *memoryHandle) Subscribe(_ context.Context, roomContext protocol.RoomContextID, fn func(protocol.Envelope)) (func(), error) {
	return h.hub.subscribe(h.id, roomContext, fn), nil
}

var _ protocol.Relay = (*memoryHandle)(nil)

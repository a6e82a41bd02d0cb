// Package relay implements the broadcast fanout between clients of a parent
// room. The hub is deliberately dumb: it never inspects session payloads, it
// only copies envelopes to every other listener of the same room context.
package relay

import (
	"log/slog"
	"sync"

	"go.uber.org/fx"

	"breakout-platform/pkg/executils"
	"breakout-platform/pkg/protocol"
	"breakout-platform/pkg/wsutils"
)

// Fanout above this many listeners goes parallel.
const broadcastParallelThreshold = 64

type Hub struct {
	mu        sync.Mutex
	listeners map[protocol.RoomContextID]map[string]*wsutils.ThreadSafeWriter
	logger    *slog.Logger
}

type NewHubParams struct {
	fx.In

	Logger *slog.Logger
}

func NewHub(params NewHubParams) *Hub {
	return &Hub{
		listeners: make(map[protocol.RoomContextID]map[string]*wsutils.ThreadSafeWriter),
		logger:    params.Logger,
	}
}

func (h *Hub) Listen(roomContext protocol.RoomContextID, id string, w *wsutils.ThreadSafeWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listeners[roomContext] == nil {
		h.listeners[roomContext] = make(map[string]*wsutils.ThreadSafeWriter)
	}
	h.listeners[roomContext][id] = w
}

func (h *Hub) Stop(roomContext protocol.RoomContextID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.listeners[roomContext], id)
	if len(h.listeners[roomContext]) == 0 {
		delete(h.listeners, roomContext)
	}
}

// ListenerCount reports how many connections follow a room context.
func (h *Hub) ListenerCount(roomContext protocol.RoomContextID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[roomContext])
}

// Broadcast copies the envelope to every listener of its room context except
// the sender. Write failures are logged and otherwise ignored; a broken
// listener is cleaned up by its own read loop.
func (h *Hub) Broadcast(env protocol.Envelope, senderID string) {
	h.mu.Lock()
	targets := make([]*wsutils.ThreadSafeWriter, 0, len(h.listeners[env.RoomContext]))
	for id, w := range h.listeners[env.RoomContext] {
		if id == senderID {
			continue
		}
		targets = append(targets, w)
	}
	h.mu.Unlock()

	executils.ParallelExec(targets, broadcastParallelThreshold, func(w *wsutils.ThreadSafeWriter) {
		if err := w.WriteEnvelope(env); err != nil {
			h.logger.Warn("relay write failed",
				slog.String("roomContext", env.RoomContext),
				slog.String("event", string(env.Event)),
				slog.String("error", err.Error()))
		}
	})
}

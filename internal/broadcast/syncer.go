// Package broadcast carries the session synchronization protocol. A Syncer
// publishes local session transitions through the relay and folds incoming
// envelopes into the local store. The relay delivers at-least-once with no
// ordering, so every handler here is idempotent: replaying an envelope yields
// the same local state.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.uber.org/atomic"

	"breakout-platform/internal/session"
	"breakout-platform/pkg/protocol"
)

var (
	ErrMalformedPayload = errors.New("malformed session payload")
	ErrNotStarted       = errors.New("syncer is not started")
)

type Syncer struct {
	roomContext protocol.RoomContextID
	store       *session.Store
	relay       protocol.Relay
	logger      *slog.Logger

	// joined flips once the local client has finished joining the parent
	// room. Envelopes received before that are stale by definition.
	joined      *atomic.Bool
	unsubscribe func()
}

type NewSyncerParams struct {
	RoomContext protocol.RoomContextID
	Store       *session.Store
	Relay       protocol.Relay
	Logger      *slog.Logger
}

func NewSyncer(params NewSyncerParams) *Syncer {
	return &Syncer{
		roomContext: params.RoomContext,
		store:       params.Store,
		relay:       params.Relay,
		logger:      params.Logger,
		joined:      atomic.NewBool(false),
	}
}

func (s *Syncer) Start(ctx context.Context) error {
	unsubscribe, err := s.relay.Subscribe(ctx, s.roomContext, func(env protocol.Envelope) {
		s.Handle(ctx, env)
	})
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe
	return nil
}

func (s *Syncer) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.joined.Store(false)
}

// MarkJoined opens the gate for incoming envelopes and asks the room for the
// current session state. Any peer holding a session answers; duplicate
// answers are absorbed by the idempotent update path.
func (s *Syncer) MarkJoined(ctx context.Context) {
	s.joined.Store(true)

	env, err := protocol.NewEnvelope(s.roomContext, protocol.SessionSyncRequest, nil)
	if err != nil {
		s.logger.Error("encode sync request", slog.String("error", err.Error()))
		return
	}
	if err := s.relay.Publish(ctx, env); err != nil {
		s.logger.Warn("publish sync request", slog.String("error", err.Error()))
	}
}

// MarkLeft closes the gate again, e.g. after leaving the parent room.
func (s *Syncer) MarkLeft() {
	s.joined.Store(false)
}

// Handle folds one incoming envelope into the store. Envelopes for a foreign
// room context, or received before the local join finished, are dropped
// silently; that is protocol noise, not an error.
func (s *Syncer) Handle(ctx context.Context, env protocol.Envelope) {
	if env.RoomContext != s.roomContext {
		return
	}
	if !s.joined.Load() {
		s.logger.Debug("dropping envelope before local join",
			slog.String("event", string(env.Event)))
		return
	}

	switch env.Event {
	case protocol.SessionStarted, protocol.SessionUpdated, protocol.SessionSyncResponse:
		next, err := decodeSession(env.Data)
		if err != nil {
			s.logger.Warn("dropping malformed session payload",
				slog.String("event", string(env.Event)),
				slog.String("error", err.Error()))
			return
		}
		s.store.Update(next)

	case protocol.SessionConcluded:
		s.store.End()

	case protocol.SessionSyncRequest:
		current, ok := s.store.Session()
		if !ok {
			return
		}
		if err := s.publish(ctx, protocol.SessionSyncResponse, current); err != nil {
			s.logger.Warn("publish sync response", slog.String("error", err.Error()))
		}

	default:
		s.logger.Debug("ignoring unknown event kind", slog.String("event", string(env.Event)))
	}
}

func (s *Syncer) PublishStarted(ctx context.Context, sess protocol.BreakoutSession) error {
	return s.publish(ctx, protocol.SessionStarted, sess)
}

func (s *Syncer) PublishUpdated(ctx context.Context, sess protocol.BreakoutSession) error {
	return s.publish(ctx, protocol.SessionUpdated, sess)
}

func (s *Syncer) PublishConcluded(ctx context.Context) error {
	env, err := protocol.NewEnvelope(s.roomContext, protocol.SessionConcluded, nil)
	if err != nil {
		return err
	}
	return s.relay.Publish(ctx, env)
}

func (s *Syncer) publish(ctx context.Context, event protocol.SessionEventKind, sess protocol.BreakoutSession) error {
	env, err := protocol.NewEnvelope(s.roomContext, event, sess)
	if err != nil {
		return err
	}
	return s.relay.Publish(ctx, env)
}

func decodeSession(data json.RawMessage) (protocol.BreakoutSession, error) {
	if len(data) == 0 {
		return protocol.BreakoutSession{}, ErrMalformedPayload
	}
	var sess protocol.BreakoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return protocol.BreakoutSession{}, errors.Join(ErrMalformedPayload, err)
	}
	return sess, nil
}

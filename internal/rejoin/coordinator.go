// Package rejoin moves the local client between transport rooms whenever the
// shared session says it belongs somewhere else. The coordinator never trusts
// a single broadcast: it re-derives its target from the store on every
// transition and settles only after a leave/join pair actually succeeded.
package rejoin

import (
	"context"
	"errors"
	"log/slog"

	"go.uber.org/atomic"

	"breakout-platform/internal/broadcast"
	"breakout-platform/internal/session"
	"breakout-platform/pkg/protocol"
)

var (
	ErrExitNotAllowed = errors.New("session does not allow leaving the room")
	ErrJoinFailed     = errors.New("couldn't join room")
)

type Coordinator struct {
	parentRoom string
	store      *session.Store
	call       protocol.CallProvider
	tokens     protocol.TokenIssuer
	syncer     *broadcast.Syncer
	logger     *slog.Logger

	// settled is the transport room the client last successfully joined.
	// Repeated broadcasts naming the same target are no-ops against it.
	settled *atomic.String

	// reconciling coalesces re-entrant store notifications while a
	// leave/join pair is in flight.
	reconciling *atomic.Bool
}

type NewCoordinatorParams struct {
	ParentRoom string
	Store      *session.Store
	Call       protocol.CallProvider
	Tokens     protocol.TokenIssuer
	Syncer     *broadcast.Syncer
	Logger     *slog.Logger
}

func NewCoordinator(params NewCoordinatorParams) *Coordinator {
	return &Coordinator{
		parentRoom:  params.ParentRoom,
		store:       params.Store,
		call:        params.Call,
		tokens:      params.Tokens,
		syncer:      params.Syncer,
		logger:      params.Logger,
		settled:     atomic.NewString(params.ParentRoom),
		reconciling: atomic.NewBool(false),
	}
}

// Start hooks the coordinator onto store transitions.
func (c *Coordinator) Start(ctx context.Context) {
	c.store.OnChange(func() {
		c.Reconcile(ctx)
	})
}

// SettledRoom reports the transport room the client is currently settled on.
func (c *Coordinator) SettledRoom() string {
	return c.settled.Load()
}

// Reconcile compares the derived local view against the settled transport
// room and runs leave/join transitions until they agree. Session changes that
// land while a transition is in flight are picked up by re-deriving the
// target, so a notification coalesced away by the in-flight guard is not
// lost. Failures leave the coordinator unsettled; the next observed session
// change retries.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	if !c.reconciling.CAS(false, true) {
		return nil
	}
	defer c.reconciling.Store(false)

	for {
		retry, err := c.reconcileOnce(ctx)
		if !retry {
			return err
		}
	}
}

func (c *Coordinator) reconcileOnce(ctx context.Context) (retry bool, err error) {
	target, isBreakout, record := c.target()
	if c.settled.Load() == target {
		return false, nil
	}

	local := c.call.LocalParticipant()
	token, err := c.tokens.RequestToken(ctx, target, local.ID, local.IsOwner, record)
	if err != nil {
		c.logger.Warn("token request failed",
			slog.String("target", target),
			slog.String("error", err.Error()))
		return false, errors.Join(ErrJoinFailed, err)
	}

	// The session may have moved on while the token was fetched. Acting on
	// a stale target would bounce the client through a room it no longer
	// belongs to; go around and derive the current one.
	if current, _, _ := c.target(); current != target {
		c.logger.Debug("target changed during token fetch",
			slog.String("stale", target), slog.String("current", current))
		return true, nil
	}

	if err := c.call.Leave(ctx); err != nil {
		c.logger.Warn("leave failed", slog.String("error", err.Error()))
		return false, errors.Join(ErrJoinFailed, err)
	}
	if err := c.call.Join(ctx, target, token); err != nil {
		c.logger.Warn("join failed",
			slog.String("target", target),
			slog.String("error", err.Error()))
		return false, errors.Join(ErrJoinFailed, err)
	}

	c.settled.Store(target)
	c.logger.Info("settled on transport room",
		slog.String("room", target),
		slog.Bool("breakout", isBreakout))

	// A change that arrived during the join was coalesced away; settle it
	// now instead of waiting for another broadcast.
	current, _, _ := c.target()
	return current != target, nil
}

// ReturnToLobby takes the local participant back to the parent room. Modeled
// as a session mutation: the local id is removed from its room, the update is
// broadcast, and the regular reconciliation does the actual move.
func (c *Coordinator) ReturnToLobby(ctx context.Context) error {
	current, ok := c.store.Session()
	if !ok {
		return nil
	}
	if !current.Config.AllowUserExit {
		return ErrExitNotAllowed
	}

	local := c.call.LocalParticipant()
	next := current.Clone()
	for i := range next.Rooms {
		ids := next.Rooms[i].ParticipantIDs[:0:0]
		for _, id := range next.Rooms[i].ParticipantIDs {
			if id != local.ID {
				ids = append(ids, id)
			}
		}
		next.Rooms[i].ParticipantIDs = ids
	}

	if err := c.syncer.PublishUpdated(ctx, next); err != nil {
		return err
	}
	c.store.Update(next)
	return nil
}

func (c *Coordinator) target() (room string, isBreakout, record bool) {
	local := c.call.LocalParticipant()
	view := c.store.LocalView(local.ID)
	if view.MyRoom == nil {
		return c.parentRoom, false, false
	}

	record = false
	if current, ok := c.store.Session(); ok {
		record = current.Config.RecordSessions
	}
	return view.MyRoom.RoomName, true, record
}

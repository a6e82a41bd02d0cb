// Package breakout exposes the owner-facing operations of a breakout session
// and drives the client-side reaction loop. Mutations always flow the same
// way: compute the next session value, adopt it locally, broadcast it.
package breakout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"breakout-platform/internal/assignment"
	"breakout-platform/internal/broadcast"
	"breakout-platform/internal/rejoin"
	"breakout-platform/internal/session"
	"breakout-platform/pkg/protocol"
)

var (
	ErrNotOwner         = errors.New("operation requires the session owner")
	ErrNoActiveSession  = errors.New("no active breakout session")
	ErrNoRooms          = errors.New("at least one room is required")
	ErrRoomNameTaken    = errors.New("room name already used in this session")
	ErrSwitchNotAllowed = errors.New("session does not allow switching rooms")
)

type Service struct {
	roomContext protocol.RoomContextID
	store       *session.Store
	syncer      *broadcast.Syncer
	coordinator *rejoin.Coordinator
	call        protocol.CallProvider
	logger      *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	clock         func() time.Time
	defaultExpiry time.Duration

	timerMu     sync.Mutex
	expiryTimer *time.Timer
}

type NewServiceParams struct {
	RoomContext protocol.RoomContextID
	Store       *session.Store
	Syncer      *broadcast.Syncer
	Coordinator *rejoin.Coordinator
	Call        protocol.CallProvider
	Logger      *slog.Logger

	// Rand drives the pre-partition shuffle. Defaults to a time-seeded
	// source when nil.
	Rand *rand.Rand

	// DefaultExpiry backs CreateOptions.Expire when no explicit duration
	// is given. Zero leaves sessions without an expiry stamp.
	DefaultExpiry time.Duration
}

func NewService(params NewServiceParams) *Service {
	rng := params.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		roomContext:   params.RoomContext,
		store:         params.Store,
		syncer:        params.Syncer,
		coordinator:   params.Coordinator,
		call:          params.Call,
		logger:        params.Logger,
		rng:           rng,
		clock:         time.Now,
		defaultExpiry: params.DefaultExpiry,
	}
}

// Run consumes the call-provider event stream until the context ends. This is
// the single logical thread all reactions run on.
func (s *Service) Run(ctx context.Context) error {
	s.coordinator.Start(ctx)

	events := s.call.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.handleCallEvent(ctx, event)
		}
	}
}

func (s *Service) handleCallEvent(ctx context.Context, event protocol.CallEvent) {
	switch event.Kind {
	case protocol.CallJoinedMeeting:
		s.syncer.MarkJoined(ctx)
	case protocol.CallLeftMeeting:
		s.syncer.MarkLeft()
	case protocol.CallParticipantJoined:
		s.HandleParticipantJoined(ctx, event.Participant)
	case protocol.CallParticipantLeft, protocol.CallParticipantUpdated:
		// Membership is kept; a participant who drops and rejoins lands
		// back in the same room.
	}
}

type CreateOptions struct {
	Config protocol.SessionConfig

	// Expire stamps config.ExpiresAt at creation time, using Expiry when
	// positive and the service default otherwise.
	Expire bool
	Expiry time.Duration
}

func (s *Service) effectiveExpiry(opts CreateOptions) time.Duration {
	if opts.Expiry > 0 {
		return opts.Expiry
	}
	if opts.Expire {
		return s.defaultExpiry
	}
	return 0
}

// CreateSession partitions the current participants evenly across the named
// rooms and starts the session. When MaxParticipantsPerRoom is set rooms are
// derived from capacity instead and roomNames only seeds display names.
func (s *Service) CreateSession(ctx context.Context, roomNames []string, opts CreateOptions) (protocol.BreakoutSession, error) {
	if err := s.requireOwner(); err != nil {
		return protocol.BreakoutSession{}, err
	}

	ids := make([]string, 0)
	for _, p := range s.call.CurrentParticipants() {
		ids = append(ids, p.ID)
	}
	s.rngMu.Lock()
	shuffled := assignment.Shuffle(ids, s.rng)
	s.rngMu.Unlock()

	var chunks [][]string
	var err error
	if capacity := opts.Config.MaxParticipantsPerRoom; capacity != nil {
		chunks, err = assignment.PartitionByCapacity(shuffled, *capacity)
	} else {
		if len(roomNames) == 0 {
			return protocol.BreakoutSession{}, ErrNoRooms
		}
		chunks, err = assignment.PartitionEvenly(shuffled, len(roomNames))
	}
	if err != nil {
		return protocol.BreakoutSession{}, err
	}

	now := s.clock()
	rooms := make([]protocol.Room, len(chunks))
	for i, chunk := range chunks {
		rooms[i] = protocol.Room{
			Name:           s.roomDisplayName(roomNames, i),
			RoomName:       s.newTransportRoomName(),
			CreatedAt:      now,
			ParticipantIDs: chunk,
		}
	}

	created := s.store.Create(rooms, opts.Config, s.effectiveExpiry(opts))
	if err := s.syncer.PublishStarted(ctx, created); err != nil {
		s.logger.Warn("publish session start", slog.String("error", err.Error()))
	}
	s.armExpiry(ctx, created)
	return created, nil
}

// CreateSessionManual starts a session from pre-drafted rooms, e.g. after the
// owner arranged participants by hand. Empty rooms are filtered by the store.
func (s *Service) CreateSessionManual(ctx context.Context, rooms []protocol.Room, opts CreateOptions) (protocol.BreakoutSession, error) {
	if err := s.requireOwner(); err != nil {
		return protocol.BreakoutSession{}, err
	}
	if len(rooms) == 0 {
		return protocol.BreakoutSession{}, ErrNoRooms
	}

	created := s.store.Create(rooms, opts.Config, s.effectiveExpiry(opts))
	if err := s.syncer.PublishStarted(ctx, created); err != nil {
		s.logger.Warn("publish session start", slog.String("error", err.Error()))
	}
	s.armExpiry(ctx, created)
	return created, nil
}

// UpdateSession replaces the session value wholesale and broadcasts it.
func (s *Service) UpdateSession(ctx context.Context, next protocol.BreakoutSession) error {
	if err := s.requireOwner(); err != nil {
		return err
	}
	if _, ok := s.store.Session(); !ok {
		return ErrNoActiveSession
	}

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
	s.armExpiry(ctx, next)
	return nil
}

// AssignParticipant moves one participant. Empty targetRoomName places into
// the room with the fewest participants.
func (s *Service) AssignParticipant(ctx context.Context, participantID protocol.ParticipantID, targetRoomName string) error {
	if err := s.requireOwner(); err != nil {
		return err
	}

	current, ok := s.store.Session()
	if !ok {
		return ErrNoActiveSession
	}

	next, err := assignment.PlaceParticipant(current, participantID, targetRoomName)
	if err != nil {
		return err
	}

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
	return nil
}

// AutoAssign re-partitions the current call participants across the existing
// rooms. Manual placements are discarded; re-running auto assignment is a
// full reshuffle.
func (s *Service) AutoAssign(ctx context.Context) error {
	if err := s.requireOwner(); err != nil {
		return err
	}

	current, ok := s.store.Session()
	if !ok {
		return ErrNoActiveSession
	}
	if len(current.Rooms) == 0 {
		return ErrNoRooms
	}

	ids := make([]string, 0)
	for _, p := range s.call.CurrentParticipants() {
		ids = append(ids, p.ID)
	}
	s.rngMu.Lock()
	shuffled := assignment.Shuffle(ids, s.rng)
	s.rngMu.Unlock()

	var chunks [][]string
	var err error
	if capacity := current.Config.MaxParticipantsPerRoom; capacity != nil {
		chunks, err = assignment.PartitionByCapacity(shuffled, *capacity)
	} else {
		chunks, err = assignment.PartitionEvenly(shuffled, len(current.Rooms))
	}
	if err != nil {
		return err
	}

	next := current.Clone()
	now := s.clock()
	for i := range next.Rooms {
		if i < len(chunks) {
			next.Rooms[i].ParticipantIDs = chunks[i]
		} else {
			next.Rooms[i].ParticipantIDs = []string{}
		}
	}
	// Capacity splits can demand more rooms than the session has.
	for i := len(next.Rooms); i < len(chunks); i++ {
		next.Rooms = append(next.Rooms, protocol.Room{
			Name:           fmt.Sprintf("Room %d", i+1),
			RoomName:       s.newTransportRoomName(),
			CreatedAt:      now,
			ParticipantIDs: chunks[i],
		})
	}

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
	return nil
}

// AddRoom appends an empty room to the running session. Rooms are additive
// only; nothing ever deletes a room while the session is active.
func (s *Service) AddRoom(ctx context.Context, name string) (protocol.Room, error) {
	if err := s.requireOwner(); err != nil {
		return protocol.Room{}, err
	}

	current, ok := s.store.Session()
	if !ok {
		return protocol.Room{}, ErrNoActiveSession
	}
	for _, room := range current.Rooms {
		if room.Name == name {
			return protocol.Room{}, ErrRoomNameTaken
		}
	}

	added := protocol.Room{
		Name:           name,
		RoomName:       s.newTransportRoomName(),
		CreatedAt:      s.clock(),
		ParticipantIDs: []string{},
	}
	next := current.Clone()
	next.Rooms = append(next.Rooms, added)

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
	return added, nil
}

// EndSession concludes the session for every client in the room context.
func (s *Service) EndSession(ctx context.Context) error {
	if err := s.requireOwner(); err != nil {
		return err
	}

	s.disarmExpiry()
	s.store.End()
	if err := s.syncer.PublishConcluded(ctx); err != nil {
		s.logger.Warn("publish session conclude", slog.String("error", err.Error()))
	}
	return nil
}

// HandleParticipantJoined places newcomers mid-session. Only the owner's
// client originates the placement so the update has a single author.
func (s *Service) HandleParticipantJoined(ctx context.Context, p protocol.Participant) {
	if s.requireOwner() != nil {
		return
	}

	current, ok := s.store.Session()
	if !ok || !current.Config.AutoJoin {
		return
	}
	if _, assigned := current.RoomOf(p.ID); assigned {
		return
	}

	next, err := assignment.PlaceParticipant(current, p.ID, "")
	if err != nil {
		s.logger.Warn("place late joiner", slog.String("error", err.Error()))
		return
	}

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
}

// Unassigned lists call participants the active session does not place yet,
// in roster order. Empty when no session is active.
func (s *Service) Unassigned() []string {
	current, ok := s.store.Session()
	if !ok {
		return nil
	}

	roster := make([]string, 0)
	for _, p := range s.call.CurrentParticipants() {
		roster = append(roster, p.ID)
	}
	return assignment.UnassignedIDs(current.Rooms, roster)
}

// SwitchRoom moves the local participant into another room by their own
// choice. Owners may always switch; everyone else needs the session to allow
// it.
func (s *Service) SwitchRoom(ctx context.Context, targetRoomName string) error {
	current, ok := s.store.Session()
	if !ok {
		return ErrNoActiveSession
	}

	local := s.call.LocalParticipant()
	if !local.IsOwner && !current.Config.AllowUserSwitchRoom {
		return ErrSwitchNotAllowed
	}

	next, err := assignment.PlaceParticipant(current, local.ID, targetRoomName)
	if err != nil {
		return err
	}

	s.store.Update(next)
	if err := s.syncer.PublishUpdated(ctx, next); err != nil {
		s.logger.Warn("publish session update", slog.String("error", err.Error()))
	}
	return nil
}

// ReturnToLobby takes the local participant back to the parent room when the
// session allows it.
func (s *Service) ReturnToLobby(ctx context.Context) error {
	return s.coordinator.ReturnToLobby(ctx)
}

func (s *Service) requireOwner() error {
	if !s.call.LocalParticipant().IsOwner {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) roomDisplayName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("Room %d", i+1)
}

func (s *Service) newTransportRoomName() string {
	return fmt.Sprintf("%s-breakout-%s", s.roomContext, uuid.NewString())
}

// armExpiry schedules the owner-side conclude when the session carries an
// expiry stamp. Re-arming replaces the previous timer.
func (s *Service) armExpiry(ctx context.Context, sess protocol.BreakoutSession) {
	s.disarmExpiry()

	expiresAt := sess.Config.ExpiresAt
	if expiresAt == nil {
		return
	}

	delay := expiresAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.timerMu.Lock()
	s.expiryTimer = time.AfterFunc(delay, func() {
		s.logger.Info("session expired", slog.String("roomContext", s.roomContext))
		if err := s.EndSession(ctx); err != nil {
			s.logger.Warn("expiry conclude failed", slog.String("error", err.Error()))
		}
	})
	s.timerMu.Unlock()
}

func (s *Service) disarmExpiry() {
	s.timerMu.Lock()
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	s.timerMu.Unlock()
}

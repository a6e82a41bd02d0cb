// Package session holds the authoritative BreakoutSession value known to one
// client process. The store is a two-state machine: no session, or an active
// session that is only ever replaced wholesale.
package session

import (
	"log/slog"
	"sync"
	"time"

	"go.uber.org/fx"

	"breakout-platform/pkg/protocol"
)

// LocalView is what the session means for one participant. Derived, never
// mutated directly.
type LocalView struct {
	MyRoom           *protocol.Room
	IsInBreakoutRoom bool
}

type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger
	clock  func() time.Time

	current *protocol.BreakoutSession

	// viewCache memoizes LocalView per participant for the current session
	// value. Replaced together with the session.
	viewCache map[protocol.ParticipantID]LocalView

	observersMu sync.Mutex
	observers   []func()
}

type NewStoreParams struct {
	fx.In

	Logger *slog.Logger
}

func NewStore(params NewStoreParams) *Store {
	return &Store{
		logger:    params.Logger,
		clock:     time.Now,
		viewCache: make(map[protocol.ParticipantID]LocalView),
	}
}

// SetClock overrides the time source. Timestamps in stored sessions come from
// this clock.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// OnChange registers an observer invoked after every store transition. The
// callback runs outside the store lock, on the goroutine driving the
// transition.
func (s *Store) OnChange(fn func()) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Create adopts a new session as the active one, replacing any current
// session. Rooms with nobody assigned are not published. When expiry is
// positive the expiry timestamp is stamped here, once; later updates carry it
// along untouched.
func (s *Store) Create(rooms []protocol.Room, cfg protocol.SessionConfig, expiry time.Duration) protocol.BreakoutSession {
	kept := make([]protocol.Room, 0, len(rooms))
	for _, room := range rooms {
		if len(room.ParticipantIDs) == 0 {
			continue
		}
		kept = append(kept, room.Clone())
	}

	s.mu.Lock()
	if expiry > 0 {
		expiresAt := s.clock().Add(expiry)
		cfg.ExpiresAt = &expiresAt
	}
	created := protocol.BreakoutSession{Rooms: kept, Config: cfg}
	s.replaceLocked(&created)
	s.mu.Unlock()

	s.notify()
	return created.Clone()
}

// Update replaces the session value wholesale. No partial merge; the last
// applied value wins, which matches the relay's delivery model.
func (s *Store) Update(next protocol.BreakoutSession) {
	adopted := next.Clone()

	s.mu.Lock()
	s.replaceLocked(&adopted)
	s.mu.Unlock()

	s.notify()
}

// End discards the active session. A no-op transition when no session is
// active still notifies observers; they are idempotent by contract.
func (s *Store) End() {
	s.mu.Lock()
	s.replaceLocked(nil)
	s.mu.Unlock()

	s.notify()
}

func (s *Store) replaceLocked(next *protocol.BreakoutSession) {
	s.current = next
	s.viewCache = make(map[protocol.ParticipantID]LocalView)
}

// Session returns a copy of the active session, if any.
func (s *Store) Session() (protocol.BreakoutSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return protocol.BreakoutSession{}, false
	}
	return s.current.Clone(), true
}

// LocalView derives which room the participant is in. Memoized per session
// value; invalidated precisely on session replacement.
func (s *Store) LocalView(participantID protocol.ParticipantID) LocalView {
	s.mu.RLock()
	if view, ok := s.viewCache[participantID]; ok {
		s.mu.RUnlock()
		return view
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if view, ok := s.viewCache[participantID]; ok {
		return view
	}

	view := LocalView{}
	if s.current != nil {
		if room, ok := s.current.RoomOf(participantID); ok {
			view.MyRoom = &room
			view.IsInBreakoutRoom = true
		}
	}
	s.viewCache[participantID] = view
	return view
}

func (s *Store) notify() {
	s.observersMu.Lock()
	observers := make([]func(), len(s.observers))
	copy(observers, s.observers)
	s.observersMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

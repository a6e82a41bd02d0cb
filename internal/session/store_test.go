package session

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"breakout-platform/pkg/protocol"
)

func newTestStore() *Store {
	return NewStore(NewStoreParams{Logger: slog.Default()})
}

func room(name string, ids ...string) protocol.Room {
	if ids == nil {
		ids = []string{}
	}
	return protocol.Room{Name: name, RoomName: name, CreatedAt: time.Unix(0, 0), ParticipantIDs: ids}
}

func TestCreate_FiltersEmptyRooms(t *testing.T) {
	store := newTestStore()

	created := store.Create([]protocol.Room{room("R1", "a", "b"), room("R2")}, protocol.SessionConfig{}, 0)

	if len(created.Rooms) != 1 {
		t.Fatalf("got %d rooms, want 1", len(created.Rooms))
	}
	if created.Rooms[0].RoomName != "R1" {
		t.Errorf("kept room %q, want R1", created.Rooms[0].RoomName)
	}
	if !reflect.DeepEqual(created.Rooms[0].ParticipantIDs, []string{"a", "b"}) {
		t.Errorf("R1 participants = %v, want [a b]", created.Rooms[0].ParticipantIDs)
	}

	stored, ok := store.Session()
	if !ok {
		t.Fatal("no active session after Create")
	}
	if len(stored.Rooms) != 1 || stored.Rooms[0].RoomName != "R1" {
		t.Errorf("stored session rooms = %v", stored.Rooms)
	}
}

func TestCreate_StampsExpiryOnce(t *testing.T) {
	store := newTestStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	created := store.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 15*time.Minute)

	want := now.Add(15 * time.Minute)
	if created.Config.ExpiresAt == nil || !created.Config.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", created.Config.ExpiresAt, want)
	}

	// Advance the clock and change membership only; the stamp must not move.
	now = now.Add(10 * time.Minute)
	next := created.Clone()
	next.Rooms[0].ParticipantIDs = append(next.Rooms[0].ParticipantIDs, "b")
	store.Update(next)

	stored, ok := store.Session()
	if !ok {
		t.Fatal("no active session after Update")
	}
	if stored.Config.ExpiresAt == nil || !stored.Config.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt moved to %v, want %v", stored.Config.ExpiresAt, want)
	}
}

func TestCreate_NoExpiryLeavesNil(t *testing.T) {
	store := newTestStore()
	created := store.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 0)
	if created.Config.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", created.Config.ExpiresAt)
	}
}

func TestUpdate_IsIdempotent(t *testing.T) {
	store := newTestStore()
	payload := protocol.BreakoutSession{Rooms: []protocol.Room{room("R1", "a"), room("R2", "b")}}

	store.Update(payload)
	once := store.LocalView("a")

	store.Update(payload)
	twice := store.LocalView("a")

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("LocalView diverged after duplicate update: %+v vs %+v", once, twice)
	}
	if twice.MyRoom == nil || twice.MyRoom.RoomName != "R1" || !twice.IsInBreakoutRoom {
		t.Errorf("LocalView = %+v, want membership in R1", twice)
	}
}

func TestEnd_ClearsSessionAndView(t *testing.T) {
	store := newTestStore()
	store.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 0)

	store.End()

	if _, ok := store.Session(); ok {
		t.Fatal("session still active after End")
	}
	view := store.LocalView("a")
	if view.MyRoom != nil || view.IsInBreakoutRoom {
		t.Errorf("LocalView after End = %+v, want empty", view)
	}
}

func TestLocalView_InvalidatedOnReplace(t *testing.T) {
	store := newTestStore()
	store.Update(protocol.BreakoutSession{Rooms: []protocol.Room{room("R1", "a"), room("R2", "b")}})

	if view := store.LocalView("a"); view.MyRoom == nil || view.MyRoom.RoomName != "R1" {
		t.Fatalf("LocalView = %+v, want R1", view)
	}

	store.Update(protocol.BreakoutSession{Rooms: []protocol.Room{room("R1", "b"), room("R2", "a")}})

	if view := store.LocalView("a"); view.MyRoom == nil || view.MyRoom.RoomName != "R2" {
		t.Errorf("LocalView after move = %+v, want R2", view)
	}
}

func TestLocalView_UnassignedParticipant(t *testing.T) {
	store := newTestStore()
	store.Update(protocol.BreakoutSession{Rooms: []protocol.Room{room("R1", "a")}})

	view := store.LocalView("stranger")
	if view.MyRoom != nil || view.IsInBreakoutRoom {
		t.Errorf("LocalView = %+v, want empty", view)
	}
}

func TestOnChange_FiresPerTransition(t *testing.T) {
	store := newTestStore()

	var calls int
	store.OnChange(func() { calls++ })

	store.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 0)
	store.Update(protocol.BreakoutSession{Rooms: []protocol.Room{room("R1", "a")}})
	store.End()

	if calls != 3 {
		t.Errorf("observer fired %d times, want 3", calls)
	}
}

func TestSessionCopyIsDetached(t *testing.T) {
	store := newTestStore()
	store.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 0)

	copied, _ := store.Session()
	copied.Rooms[0].ParticipantIDs[0] = "mutated"

	stored, _ := store.Session()
	if stored.Rooms[0].ParticipantIDs[0] != "a" {
		t.Error("mutating a returned session leaked into the store")
	}
}

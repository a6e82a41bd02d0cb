package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"breakout-platform/internal/relay"
	"breakout-platform/internal/session"
	"breakout-platform/pkg/protocol"
)

func newTestSyncer(t *testing.T, hub *relay.InMemory, roomContext string) (*Syncer, *session.Store) {
	t.Helper()

	store := session.NewStore(session.NewStoreParams{Logger: slog.Default()})
	syncer := NewSyncer(NewSyncerParams{
		RoomContext: roomContext,
		Store:       store,
		Relay:       hub.Handle(),
		Logger:      slog.Default(),
	})
	if err := syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(syncer.Stop)
	return syncer, store
}

func sessionWith(rooms ...protocol.Room) protocol.BreakoutSession {
	return protocol.BreakoutSession{Rooms: rooms}
}

func room(name string, ids ...string) protocol.Room {
	if ids == nil {
		ids = []string{}
	}
	return protocol.Room{Name: name, RoomName: name, CreatedAt: time.Unix(0, 0), ParticipantIDs: ids}
}

func mustEnvelope(t *testing.T, roomContext string, event protocol.SessionEventKind, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(roomContext, event, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestHandle_AdoptsSessionUpdates(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	publisher, _ := newTestSyncer(t, hub, "parent")
	receiver, receiverStore := newTestSyncer(t, hub, "parent")
	publisher.MarkJoined(ctx)
	receiver.MarkJoined(ctx)

	sess := sessionWith(room("R1", "a", "b"))
	if err := publisher.PublishStarted(ctx, sess); err != nil {
		t.Fatalf("PublishStarted: %v", err)
	}

	adopted, ok := receiverStore.Session()
	if !ok {
		t.Fatal("receiver did not adopt the session")
	}
	requireSameRooms(t, adopted.Rooms, sess.Rooms)
}

// requireSameRooms compares rooms field by field. CreatedAt goes through
// time.Time.Equal so a JSON round trip changing the location does not fail
// the comparison.
func requireSameRooms(t *testing.T, got, want []protocol.Room) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d rooms, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].RoomName != want[i].RoomName {
			t.Errorf("room %d = %s/%s, want %s/%s", i, got[i].Name, got[i].RoomName, want[i].Name, want[i].RoomName)
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("room %d created at %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
		if !reflect.DeepEqual(got[i].ParticipantIDs, want[i].ParticipantIDs) {
			t.Errorf("room %d participants = %v, want %v", i, got[i].ParticipantIDs, want[i].ParticipantIDs)
		}
	}
}

func TestHandle_IgnoresForeignRoomContext(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	receiver, store := newTestSyncer(t, hub, "parent-a")
	receiver.MarkJoined(ctx)

	receiver.Handle(ctx, mustEnvelope(t, "parent-b", protocol.SessionStarted, sessionWith(room("R1", "a"))))

	if _, ok := store.Session(); ok {
		t.Error("adopted a session from a foreign room context")
	}
}

func TestHandle_DropsEventsBeforeJoin(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	receiver, store := newTestSyncer(t, hub, "parent")

	receiver.Handle(ctx, mustEnvelope(t, "parent", protocol.SessionStarted, sessionWith(room("R1", "a"))))

	if _, ok := store.Session(); ok {
		t.Error("adopted a session before the local join completed")
	}
}

func TestHandle_IdempotentUnderDuplicateDelivery(t *testing.T) {
	hub := relay.NewInMemory()
	hub.SetDuplicateDelivery(2)
	ctx := context.Background()

	publisher, _ := newTestSyncer(t, hub, "parent")
	receiver, store := newTestSyncer(t, hub, "parent")
	publisher.MarkJoined(ctx)
	receiver.MarkJoined(ctx)

	if err := publisher.PublishUpdated(ctx, sessionWith(room("R1", "a"), room("R2", "b"))); err != nil {
		t.Fatalf("PublishUpdated: %v", err)
	}

	view := store.LocalView("a")
	if view.MyRoom == nil || view.MyRoom.RoomName != "R1" || !view.IsInBreakoutRoom {
		t.Errorf("LocalView = %+v, want membership in R1", view)
	}
}

func TestHandle_ConcludedClearsSession(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	publisher, _ := newTestSyncer(t, hub, "parent")
	receiver, store := newTestSyncer(t, hub, "parent")
	publisher.MarkJoined(ctx)
	receiver.MarkJoined(ctx)

	if err := publisher.PublishStarted(ctx, sessionWith(room("R1", "a"))); err != nil {
		t.Fatalf("PublishStarted: %v", err)
	}
	if err := publisher.PublishConcluded(ctx); err != nil {
		t.Fatalf("PublishConcluded: %v", err)
	}

	if _, ok := store.Session(); ok {
		t.Error("session still present after conclude")
	}
}

func TestHandle_MalformedPayloadDropped(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	receiver, store := newTestSyncer(t, hub, "parent")
	receiver.MarkJoined(ctx)

	receiver.Handle(ctx, protocol.Envelope{
		RoomContext: "parent",
		Event:       protocol.SessionUpdated,
		Data:        json.RawMessage(`{"rooms": 12}`),
	})
	receiver.Handle(ctx, protocol.Envelope{
		RoomContext: "parent",
		Event:       protocol.SessionUpdated,
	})

	if _, ok := store.Session(); ok {
		t.Error("malformed payload was adopted")
	}
}

func TestHandle_UnknownEventIgnored(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	receiver, store := newTestSyncer(t, hub, "parent")
	receiver.MarkJoined(ctx)

	receiver.Handle(ctx, protocol.Envelope{RoomContext: "parent", Event: "who-knows"})

	if _, ok := store.Session(); ok {
		t.Error("unknown event mutated the store")
	}
}

func TestMarkJoined_SyncRequestAnswered(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	holder, holderStore := newTestSyncer(t, hub, "parent")
	holder.MarkJoined(ctx)
	holderStore.Create([]protocol.Room{room("R1", "a")}, protocol.SessionConfig{}, 0)

	latecomer, latecomerStore := newTestSyncer(t, hub, "parent")
	latecomer.MarkJoined(ctx)

	adopted, ok := latecomerStore.Session()
	if !ok {
		t.Fatal("latecomer did not receive a sync response")
	}
	if len(adopted.Rooms) != 1 || adopted.Rooms[0].RoomName != "R1" {
		t.Errorf("adopted rooms = %v", adopted.Rooms)
	}
}

func TestSyncRequest_UnansweredWithoutSession(t *testing.T) {
	hub := relay.NewInMemory()
	ctx := context.Background()

	idle, _ := newTestSyncer(t, hub, "parent")
	idle.MarkJoined(ctx)

	latecomer, store := newTestSyncer(t, hub, "parent")
	latecomer.MarkJoined(ctx)

	if _, ok := store.Session(); ok {
		t.Error("received a sync response although nobody holds a session")
	}
}

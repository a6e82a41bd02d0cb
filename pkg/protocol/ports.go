package protocol

import "context"

type CallEventKind string

const (
	CallParticipantJoined  CallEventKind = "participant-joined"
	CallParticipantLeft    CallEventKind = "participant-left"
	CallParticipantUpdated CallEventKind = "participant-updated"
	CallJoinedMeeting      CallEventKind = "joined-meeting"
	CallLeftMeeting        CallEventKind = "left-meeting"
)

type CallEvent struct {
	Kind        CallEventKind
	Participant Participant
}

// CallProvider is the boundary to the external call transport. The core never
// touches media; it only moves the local client between transport rooms.
type CallProvider interface {
	Join(ctx context.Context, roomName string, token string) error
	Leave(ctx context.Context) error
	CurrentParticipants() []Participant
	LocalParticipant() Participant
	Events() <-chan CallEvent
}

// TokenIssuer hands out access tokens scoped to a single transport room.
type TokenIssuer interface {
	RequestToken(ctx context.Context, roomName string, participantID ParticipantID, isOwner, recordSession bool) (string, error)
}

// Relay is the publish/subscribe fanout between clients of one parent room.
// Delivery is at-least-once with no ordering guarantee; every consumer of
// incoming envelopes must be idempotent.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, roomContext RoomContextID, fn func(Envelope)) (unsubscribe func(), err error)
}

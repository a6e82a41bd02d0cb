package protocol

import "encoding/json"

type SessionEventKind string

const (
	SessionStarted      SessionEventKind = "session-started"
	SessionUpdated      SessionEventKind = "session-updated"
	SessionConcluded    SessionEventKind = "session-concluded"
	SessionSyncRequest  SessionEventKind = "session-sync-request"
	SessionSyncResponse SessionEventKind = "session-sync-response"
)

// Envelope is the wire message carried by the relay. RoomContext scopes the
// event so independent parent rooms sharing one relay do not cross-talk.
type Envelope struct {
	RoomContext RoomContextID    `json:"roomContext"`
	Event       SessionEventKind `json:"event"`
	Data        json.RawMessage  `json:"data,omitempty"`
}

func NewEnvelope(roomContext RoomContextID, event SessionEventKind, payload any) (Envelope, error) {
	env := Envelope{RoomContext: roomContext, Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

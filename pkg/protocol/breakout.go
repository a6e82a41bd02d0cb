package protocol

import (
	"time"
)

type (
	RoomContextID = string
	ParticipantID = string
)

// Participant is owned by the call-provider collaborator. The core references
// participants by id only; display data rides along for convenience.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsOwner     bool   `json:"isOwner"`
}

// Room is one breakout room inside a session. ParticipantIDs keeps assignment
// order; a participant id may appear in at most one room of a session.
type Room struct {
	Name           string    `json:"name"`
	RoomName       string    `json:"roomName"`
	CreatedAt      time.Time `json:"createdAt"`
	ParticipantIDs []string  `json:"participantIds"`
}

func (r Room) HasParticipant(id ParticipantID) bool {
	for _, pid := range r.ParticipantIDs {
		if pid == id {
			return true
		}
	}
	return false
}

func (r Room) Clone() Room {
	next := r
	next.ParticipantIDs = make([]string, len(r.ParticipantIDs))
	copy(next.ParticipantIDs, r.ParticipantIDs)
	return next
}

type SessionConfig struct {
	AutoJoin               bool       `json:"autoJoin"`
	AllowUserExit          bool       `json:"allowUserExit"`
	AllowUserSwitchRoom    bool       `json:"allowUserSwitchRoom"`
	RecordSessions         bool       `json:"recordSessions"`
	ExpiresAt              *time.Time `json:"expiresAt,omitempty"`
	MaxParticipantsPerRoom *int       `json:"maxParticipantsPerRoom,omitempty"`
}

// BreakoutSession is the single source of truth for the room split. Absence of
// a session is modeled by the store, not by a zero value here.
type BreakoutSession struct {
	Rooms  []Room        `json:"rooms"`
	Config SessionConfig `json:"config"`
}

func (s BreakoutSession) Clone() BreakoutSession {
	next := s
	next.Rooms = make([]Room, len(s.Rooms))
	for i, room := range s.Rooms {
		next.Rooms[i] = room.Clone()
	}
	if s.Config.ExpiresAt != nil {
		expiresAt := *s.Config.ExpiresAt
		next.Config.ExpiresAt = &expiresAt
	}
	if s.Config.MaxParticipantsPerRoom != nil {
		capacity := *s.Config.MaxParticipantsPerRoom
		next.Config.MaxParticipantsPerRoom = &capacity
	}
	return next
}

// RoomOf returns the room holding the participant, if any.
func (s BreakoutSession) RoomOf(id ParticipantID) (Room, bool) {
	for _, room := range s.Rooms {
		if room.HasParticipant(id) {
			return room, true
		}
	}
	return Room{}, false
}

// Package assignment holds the pure partitioning logic behind breakout room
// splits. Nothing here does I/O or keeps state; every function returns fresh
// values so callers never share slices across session snapshots.
package assignment

import (
	"errors"
	"math/rand"

	"breakout-platform/pkg/protocol"
)

var (
	ErrInvalidRoomCount = errors.New("room count must be positive")
	ErrInvalidCapacity  = errors.New("room capacity must be positive")
	ErrRoomNotExist     = errors.New("room not exist")
)

// PartitionEvenly splits ids into roomCount contiguous chunks whose sizes
// differ by at most one: the first len%roomCount chunks take the larger size.
// Chunks come out empty only when roomCount exceeds len(ids). The split is
// order-preserving; shuffle beforehand when arrival order should not stick.
func PartitionEvenly(ids []string, roomCount int) ([][]string, error) {
	if roomCount <= 0 {
		return nil, ErrInvalidRoomCount
	}

	chunks := make([][]string, roomCount)
	base := len(ids) / roomCount
	extra := len(ids) % roomCount

	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunk := make([]string, size)
		copy(chunk, ids[start:start+size])
		chunks[i] = chunk
		start += size
	}
	return chunks, nil
}

// PartitionByCapacity splits ids into ceil(len/capacity) chunks of at most
// capacity participants each.
func PartitionByCapacity(ids []string, capacity int) ([][]string, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	chunks := make([][]string, 0, (len(ids)+capacity-1)/capacity)
	for start := 0; start < len(ids); start += capacity {
		end := start + capacity
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]string, end-start)
		copy(chunk, ids[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Shuffle returns a shuffled copy of ids. The caller supplies the source so
// tests stay deterministic.
func Shuffle(ids []string, r *rand.Rand) []string {
	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// PlaceParticipant moves one participant inside the session and returns the
// resulting session value. The participant is first removed from whichever
// room currently holds it, then appended to the target room. An empty target
// picks the room with the fewest participants, ties broken by lowest index.
// Ids unknown to the session are accepted; late joiners land in a room the
// same way.
func PlaceParticipant(session protocol.BreakoutSession, participantID protocol.ParticipantID, targetRoomName string) (protocol.BreakoutSession, error) {
	next := session.Clone()

	for i := range next.Rooms {
		next.Rooms[i].ParticipantIDs = removeID(next.Rooms[i].ParticipantIDs, participantID)
	}

	target := -1
	if targetRoomName != "" {
		for i := range next.Rooms {
			if next.Rooms[i].RoomName == targetRoomName {
				target = i
				break
			}
		}
		if target < 0 {
			return protocol.BreakoutSession{}, ErrRoomNotExist
		}
	} else {
		for i := range next.Rooms {
			if target < 0 || len(next.Rooms[i].ParticipantIDs) < len(next.Rooms[target].ParticipantIDs) {
				target = i
			}
		}
		if target < 0 {
			return protocol.BreakoutSession{}, ErrRoomNotExist
		}
	}

	next.Rooms[target].ParticipantIDs = append(next.Rooms[target].ParticipantIDs, participantID)
	return next, nil
}

// UnassignedIDs lists roster ids not placed in any room, in roster order.
// Used while composing a session and for newcomers awaiting placement.
func UnassignedIDs(rooms []protocol.Room, roster []string) []string {
	assigned := make(map[string]struct{})
	for _, room := range rooms {
		for _, id := range room.ParticipantIDs {
			assigned[id] = struct{}{}
		}
	}

	unassigned := make([]string, 0, len(roster))
	for _, id := range roster {
		if _, ok := assigned[id]; !ok {
			unassigned = append(unassigned, id)
		}
	}
	return unassigned
}

func removeID(ids []string, id string) []string {
	result := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			result = append(result, candidate)
		}
	}
	return result
}

package server

import "time"

// Room tracks the occupants of one relay group. All access is serialized by
// the owning RoomRegistry; Room itself carries no lock.
type Room struct {
	ID           string
	members      []string
	createdAt    time.Time
	lastActivity time.Time
}

func newRoom(id string) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		members:      make([]string, 0, 4),
		createdAt:    now,
		lastActivity: now,
	}
}

func (r *Room) contains(playerID string) bool {
	for _, id := range r.members {
		if id == playerID {
			return true
		}
	}
	return false
}

// add appends the player, preserving insertion order. Idempotent: a player
// already present is not duplicated.
func (r *Room) add(playerID string) {
	if r.contains(playerID) {
		return
	}
	r.members = append(r.members, playerID)
	r.lastActivity = time.Now()
}

// remove drops the player from the member list, keeping the remaining order.
func (r *Room) remove(playerID string) {
	for i, id := range r.members {
		if id == playerID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			r.lastActivity = time.Now()
			return
		}
	}
}

// idleSince reports how long the room has been empty relative to now; zero
// while it still has members.
func (r *Room) idleSince(now time.Time) time.Duration {
	if len(r.members) > 0 {
		return 0
	}
	return now.Sub(r.lastActivity)
}

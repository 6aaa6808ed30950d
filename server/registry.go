package server

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// RoomRegistry owns every room plus the player→room reverse mapping. All
// mutation happens under one write lock with no I/O inside the critical
// section; lookups share the read lock. Sessions receive the registry by
// reference at start-up rather than through a package singleton.
type RoomRegistry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	playerRoom map[string]string
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
	}
}

// CreateRoom inserts a fresh empty room under a short numeric id (4 digits
// while that space has capacity) and returns the id. Generation and
// insertion share the write lock, so two concurrent creators can never claim
// the same id.
func (reg *RoomRegistry) CreateRoom() string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := reg.freeRoomID()
	reg.rooms[id] = newRoom(id)
	Log.Infof("created room %s", id)
	return id
}

// freeRoomID picks an unused numeric id, preferring the 4-digit space.
// Caller must hold the write lock. Random draws are cheap while a width is
// sparse; once they keep colliding the whole width is scanned, and a fully
// occupied width falls through to the next wider one, so the loop always
// terminates.
func (reg *RoomRegistry) freeRoomID() string {
	for lo := 1000; ; lo *= 10 {
		for i := 0; i < 64; i++ {
			id := strconv.Itoa(lo + rand.Intn(lo*9))
			if _, taken := reg.rooms[id]; !taken {
				return id
			}
		}
		for n := lo; n < lo*10; n++ {
			id := strconv.Itoa(n)
			if _, taken := reg.rooms[id]; !taken {
				return id
			}
		}
	}
}

// JoinRoom adds the player to the room, returning false when the room does
// not exist. Re-joining the current room is a successful no-op. A player
// still mapped to another room is moved, keeping the reverse mapping
// single-valued.
func (reg *RoomRegistry) JoinRoom(roomID, playerID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	if prev, ok := reg.playerRoom[playerID]; ok && prev != roomID {
		reg.removeLocked(prev, playerID)
	}
	room.add(playerID)
	reg.playerRoom[playerID] = roomID
	Log.Infof("player %s joined room %s (total players: %d)", playerID, roomID, len(room.members))
	return true
}

// LeaveRoom removes the player from whichever room it occupies. Safe to call
// for a roomless player; disconnect cleanup always does.
func (reg *RoomRegistry) LeaveRoom(playerID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.playerRoom[playerID]
	if !ok {
		return
	}
	delete(reg.playerRoom, playerID)
	reg.removeLocked(roomID, playerID)
}

// removeLocked detaches a player from a room the reverse map claimed.
// A missing room here means the mapping invariant broke; the stale entry is
// already gone, so log it and carry on.
func (reg *RoomRegistry) removeLocked(roomID, playerID string) {
	room, ok := reg.rooms[roomID]
	if !ok {
		Log.Errorf("reverse mapping for player %s pointed at missing room %s", playerID, roomID)
		return
	}
	room.remove(playerID)
	Log.Infof("player %s left room %s (players remaining: %d)", playerID, roomID, len(room.members))
}

// RoomOf returns the room the player currently occupies.
func (reg *RoomRegistry) RoomOf(playerID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, ok := reg.playerRoom[playerID]
	return roomID, ok
}

// MemberCount reports the occupancy of a room; zero for unknown rooms.
func (reg *RoomRegistry) MemberCount(roomID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.members)
}

// Members returns the room's player ids in insertion order. The slice is a
// snapshot the caller may iterate without holding any lock.
func (reg *RoomRegistry) Members(roomID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, len(room.members))
	copy(out, room.members)
	return out
}

// EvictIdle removes rooms that have been empty longer than ttl and returns
// how many were dropped. Any reverse-map entries still pointing at an evicted
// room are invariant violations and are cleared alongside it.
func (reg *RoomRegistry) EvictIdle(ttl time.Duration) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := time.Now()
	evicted := 0
	for id, room := range reg.rooms {
		if idle := room.idleSince(now); idle > ttl {
			delete(reg.rooms, id)
			for pid, rid := range reg.playerRoom {
				if rid == id {
					Log.Errorf("evicting room %s orphaned reverse mapping for player %s", id, pid)
					delete(reg.playerRoom, pid)
				}
			}
			Log.Infof("evicted idle room %s (empty for %s)", id, idle.Round(time.Second))
			evicted++
		}
	}
	return evicted
}

// RoomStat is one row of the admin inspection endpoint.
type RoomStat struct {
	RoomID       string    `json:"room_id"`
	Players      int       `json:"players"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats snapshots per-room occupancy for /admin/rooms.
func (reg *RoomRegistry) Stats() []RoomStat {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]RoomStat, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		out = append(out, RoomStat{
			RoomID:       room.ID,
			Players:      len(room.members),
			CreatedAt:    room.createdAt,
			LastActivity: room.lastActivity,
		})
	}
	return out
}

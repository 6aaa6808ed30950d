package server

import "sync"

// Sender is the delivery handle for one live session: a single non-blocking
// push of an already-serialized frame. The concrete transport stays hidden
// behind it.
type Sender interface {
	Deliver(b []byte)
}

// ConnectionDirectory maps player ids to their delivery handles. Entries are
// created when a session activates and removed when it closes; a lookup that
// races a removal just means the delivery is skipped by the caller. The
// directory has its own lock and is never held together with the registry's.
type ConnectionDirectory struct {
	mu      sync.RWMutex
	handles map[string]Sender
}

func NewConnectionDirectory() *ConnectionDirectory {
	return &ConnectionDirectory{handles: make(map[string]Sender)}
}

// Register installs the handle, replacing any stale one left by a previous
// connection of the same player.
func (d *ConnectionDirectory) Register(playerID string, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles[playerID] = s
}

// Unregister removes the player's handle, but only while s still owns the
// entry: a reconnecting player may already have replaced it with a live
// session, which must survive the stale session's teardown. Reports whether
// the entry was removed.
func (d *ConnectionDirectory) Unregister(playerID string, s Sender) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handles[playerID] != s {
		return false
	}
	delete(d.handles, playerID)
	return true
}

// Lookup resolves a delivery handle.
func (d *ConnectionDirectory) Lookup(playerID string) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.handles[playerID]
	return s, ok
}

// Len reports the number of registered sessions.
func (d *ConnectionDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}

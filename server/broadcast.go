package server

// Router fans one message out to every live member of a room except the
// sender. It serializes once, resolves membership from the registry and
// handles from the directory, and treats a missing handle as a benign skip:
// a session may unregister between the membership snapshot and delivery.
type Router struct {
	registry  *RoomRegistry
	directory *ConnectionDirectory
}

func NewRouter(registry *RoomRegistry, directory *ConnectionDirectory) *Router {
	return &Router{registry: registry, directory: directory}
}

// Broadcast encodes kind+payload and pushes the frame to each member of
// roomID other than exclude. Pass exclude="" to include every member. Returns
// the number of deliveries attempted.
func (rt *Router) Broadcast(roomID, kind string, payload any, exclude string) int {
	frame, err := Encode(kind, payload)
	if err != nil {
		Log.Errorf("broadcast encode failed for %s in room %s: %v", kind, roomID, err)
		return 0
	}

	delivered := 0
	for _, pid := range rt.registry.Members(roomID) {
		if pid == exclude {
			continue
		}
		handle, ok := rt.directory.Lookup(pid)
		if !ok {
			// Stale member: disconnected after the snapshot. Skip, never abort.
			Log.Debugf("no delivery handle for player %s in room %s, skipping", pid, roomID)
			Metrics.IncDeliveriesSkipped()
			continue
		}
		handle.Deliver(frame)
		delivered++
	}
	Metrics.AddBroadcast(delivered)
	return delivered
}

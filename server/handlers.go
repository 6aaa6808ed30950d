package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Demo environment: allow all origins. Lock down in production.
		return true
	},
}

// Server bundles the shared relay state and exposes the HTTP surface.
// Sessions get the registry, directory and router by reference from here;
// nothing in the package is a singleton.
type Server struct {
	cfg       Config
	registry  *RoomRegistry
	directory *ConnectionDirectory
	router    *Router
	sweeper   *Sweeper
}

func NewServer(cfg Config) *Server {
	registry := NewRoomRegistry()
	directory := NewConnectionDirectory()
	return &Server{
		cfg:       cfg,
		registry:  registry,
		directory: directory,
		router:    NewRouter(registry, directory),
		sweeper:   NewSweeper(registry, cfg.Room.SweepInterval, cfg.Room.IdleTTL),
	}
}

// Start launches background work (the room sweeper).
func (srv *Server) Start() {
	srv.sweeper.Start()
}

// Stop halts background work.
func (srv *Server) Stop() {
	srv.sweeper.Stop()
}

// Routes wires the HTTP surface onto a fresh mux.
func (srv *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	mux.HandleFunc("/health", srv.HandleHealth)
	mux.HandleFunc("/metrics", srv.HandleMetrics)
	mux.HandleFunc("/admin/rooms", srv.HandleAdminRooms)
	return mux
}

// HandleWS upgrades the connection and starts a session.
// GET /ws?playerId=alice&roomId=1234 — playerId falls back to a fresh UUID;
// roomId is an informational hint only, joining is driven by the first Join
// message.
func (srv *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		playerID = uuid.NewString()
	}
	if hint := r.URL.Query().Get("roomId"); hint != "" {
		Log.Debugf("player %s connected with room hint %s", playerID, hint)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error for player %s: %v", playerID, err)
		return
	}

	Log.Infof("new websocket connection: player_id=%s", playerID)
	session := NewSession(playerID, ws, srv.registry, srv.directory, srv.router, srv.cfg)
	session.Start()
}

// HandleHealth reports liveness and the current server time.
// GET /health
func (srv *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleMetrics outputs the relay counters.
// GET /metrics
func (srv *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": srv.directory.Len(),
		"metrics":  Metrics.Snapshot(),
	})
}

// HandleAdminRooms lists every room with its occupancy and activity stamps.
// GET /admin/rooms
func (srv *Server) HandleAdminRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := srv.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_rooms": len(stats),
		"rooms":       stats,
	})
}

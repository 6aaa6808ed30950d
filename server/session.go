package server

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session owns one client's WebSocket for the lifetime of the connection:
// it parses inbound frames, dispatches them against the shared registry and
// router, and drains an outbound queue from a dedicated write goroutine.
// The registry, directory and router are injected at construction; the
// session registers itself on Start and unregisters exactly once on close.
type Session struct {
	playerID string
	ws       *websocket.Conn

	registry  *RoomRegistry
	directory *ConnectionDirectory
	router    *Router

	hbInterval time.Duration
	hbTimeout  time.Duration

	send chan []byte
	done chan struct{}

	lastHeartbeat int64 // unix nanos, atomic
	closeOnce     sync.Once
}

func NewSession(playerID string, ws *websocket.Conn, registry *RoomRegistry, directory *ConnectionDirectory, router *Router, cfg Config) *Session {
	return &Session{
		playerID:   playerID,
		ws:         ws,
		registry:   registry,
		directory:  directory,
		router:     router,
		hbInterval: cfg.Heartbeat.Interval,
		hbTimeout:  cfg.Heartbeat.Timeout,
		send:       make(chan []byte, cfg.SendBuffer),
		done:       make(chan struct{}),
	}
}

// PlayerID returns the identity this session speaks for.
func (s *Session) PlayerID() string { return s.playerID }

// Start registers the session's delivery handle and launches both pumps.
func (s *Session) Start() {
	s.markAlive()
	s.directory.Register(s.playerID, s)
	Metrics.IncSessionsOpened()
	Log.Infof("websocket connection established for player %s", s.playerID)
	go s.writePump()
	go s.readPump()
}

// Deliver queues a frame for the write pump without blocking. Frames for a
// closing session or a full queue are dropped; a slow recipient never stalls
// the sender.
func (s *Session) Deliver(b []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- b:
	default:
		Metrics.IncSendQueueDropped()
		Log.Warnf("send queue full for player %s, dropping frame", s.playerID)
	}
}

// Close tears the session down exactly once: both shared structures forget
// the player before the socket closes, so later broadcasts see at worst a
// missing handle.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// Room membership belongs to whichever session currently owns the
		// directory entry. A stale session that lost its entry to a
		// reconnect must not kick the live one out of its room.
		if s.directory.Unregister(s.playerID, s) {
			s.registry.LeaveRoom(s.playerID)
		}
		if s.ws != nil {
			_ = s.ws.Close()
		}
		Metrics.IncSessionsClosed()
		Log.Infof("websocket connection closed for player %s", s.playerID)
	})
}

func (s *Session) markAlive() {
	atomic.StoreInt64(&s.lastHeartbeat, time.Now().UnixNano())
}

// LastHeartbeat reports the time of the most recent liveness signal.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastHeartbeat))
}

// readPump reads frames until the peer closes, a read fails, or the liveness
// deadline lapses. Any inbound traffic counts as liveness.
func (s *Session) readPump() {
	defer s.Close()
	s.ws.SetReadLimit(1 << 20) // 1MB
	_ = s.ws.SetReadDeadline(time.Now().Add(s.hbTimeout))
	s.ws.SetPongHandler(func(string) error {
		s.markAlive()
		return s.ws.SetReadDeadline(time.Now().Add(s.hbTimeout))
	})

	for {
		_, payload, err := s.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				Metrics.IncHeartbeatTimeouts()
				Log.Warnf("client timeout for player %s, disconnecting", s.playerID)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Warnf("read error for player %s: %v", s.playerID, err)
			}
			return
		}
		s.markAlive()
		_ = s.ws.SetReadDeadline(time.Now().Add(s.hbTimeout))
		s.handleFrame(payload)
	}
}

// writePump owns all writes to the socket: queued frames plus the periodic
// liveness ping.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hbInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// handleFrame decodes one inbound frame and dispatches it. Malformed input
// earns an Error reply and the connection stays open.
func (s *Session) handleFrame(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		Metrics.IncDecodeErrors()
		Log.Warnf("error parsing message from player %s: %v", s.playerID, err)
		s.Deliver(EncodeError(err.Error()))
		return
	}
	Metrics.IncMessagesIn()

	switch env.Type {
	case KindJoin:
		var p JoinPayload
		if !s.decodePayload(env, &p) {
			return
		}
		s.handleJoin(p)
	case KindLeave:
		// The session's own identity is authoritative; the payload's
		// player_id is ignored.
		s.registry.LeaveRoom(s.playerID)
	case KindChat:
		var p ChatPayload
		if !s.decodePayload(env, &p) {
			return
		}
		s.handleChat(p)
	case KindPlayerUpdate:
		var p PlayerUpdatePayload
		if !s.decodePayload(env, &p) {
			return
		}
		s.handlePlayerUpdate(p)
	case KindWorldUpdate:
		var p WorldUpdatePayload
		if !s.decodePayload(env, &p) {
			return
		}
		s.relayToRoom(KindWorldUpdate, p)
	case KindPing:
		var p PingPayload
		if !s.decodePayload(env, &p) {
			return
		}
		s.Deliver(MustEncode(KindPong, p))
	case KindPong, KindError:
		Log.Debugf("ignoring inbound %s from player %s", env.Type, s.playerID)
	default:
		Metrics.IncDecodeErrors()
		s.Deliver(EncodeError("unknown message type: " + env.Type))
	}
}

func (s *Session) decodePayload(env Envelope, dst any) bool {
	// A missing payload is treated as empty, matching optional-everything
	// payloads like Join.
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		Metrics.IncDecodeErrors()
		Log.Warnf("error parsing %s payload from player %s: %v", env.Type, s.playerID, err)
		s.Deliver(EncodeError("invalid " + env.Type + " payload: " + err.Error()))
		return false
	}
	return true
}

// handleJoin resolves a room by the request's preference and always succeeds:
// an explicit create wins, a named room is joined if it exists, and anything
// else falls back to creating a fresh room.
func (s *Session) handleJoin(p JoinPayload) {
	var roomID string
	switch {
	case p.CreateRoom:
		roomID = s.registry.CreateRoom()
		s.registry.JoinRoom(roomID, s.playerID)
	case p.RoomID != "":
		if s.registry.JoinRoom(p.RoomID, s.playerID) {
			roomID = p.RoomID
		} else {
			// Requested room is gone; degrade to creation instead of failing.
			roomID = s.registry.CreateRoom()
			s.registry.JoinRoom(roomID, s.playerID)
			Log.Infof("player %s requested missing room %s, created %s instead", s.playerID, p.RoomID, roomID)
		}
	default:
		roomID = s.registry.CreateRoom()
		s.registry.JoinRoom(roomID, s.playerID)
	}

	s.Deliver(MustEncode(KindJoin, JoinPayload{
		PlayerID:     s.playerID,
		RoomID:       roomID,
		PlayersCount: s.registry.MemberCount(roomID),
	}))
}

// handleChat relays chat to the whole room, sender included, preserving the
// reference echo-to-self behavior. A roomless sender still gets the echo.
func (s *Session) handleChat(p ChatPayload) {
	p.PlayerID = s.playerID
	roomID, ok := s.registry.RoomOf(s.playerID)
	if !ok {
		s.Deliver(MustEncode(KindChat, p))
		return
	}
	s.router.Broadcast(roomID, KindChat, p, "")
}

func (s *Session) handlePlayerUpdate(p PlayerUpdatePayload) {
	// Overwrite whatever identity the payload claimed.
	p.PlayerID = s.playerID
	s.relayToRoom(KindPlayerUpdate, p)
}

// relayToRoom broadcasts to the sender's room, excluding the sender. Updates
// from a roomless player are dropped with a diagnostic, not an error reply.
func (s *Session) relayToRoom(kind string, payload any) {
	roomID, ok := s.registry.RoomOf(s.playerID)
	if !ok {
		Log.Debugf("dropping %s from player %s: not in any room", kind, s.playerID)
		return
	}
	s.router.Broadcast(roomID, kind, payload, s.playerID)
}

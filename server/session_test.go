package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Addr:       ":0",
		Log:        LogConfig{File: "test.log", Level: "error"},
		Heartbeat:  HeartbeatConfig{Interval: 50 * time.Millisecond, Timeout: 150 * time.Millisecond},
		Room:       RoomConfig{SweepInterval: time.Minute, IdleTTL: 5 * time.Minute},
		SendBuffer: 16,
	}
}

// newTestSession builds a session without a socket. The pumps never run;
// tests feed frames through handleFrame and read replies off the send queue.
func newTestSession(id string, registry *RoomRegistry, directory *ConnectionDirectory, router *Router) *Session {
	s := NewSession(id, nil, registry, directory, router, testConfig())
	directory.Register(id, s)
	return s
}

func recvFrame(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case b := <-s.send:
		env, err := DecodeEnvelope(b)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("no frame delivered to player %s", s.playerID)
		return Envelope{}
	}
}

func assertNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case b := <-s.send:
		t.Fatalf("unexpected frame for player %s: %s", s.playerID, b)
	default:
	}
}

func decodeJoinReply(t *testing.T, env Envelope) JoinPayload {
	t.Helper()
	require.Equal(t, KindJoin, env.Type)
	var p JoinPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestJoin_CreateRoom(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Join","payload":{"create_room":true,"room_id":"ignored"}}`))

	reply := decodeJoinReply(t, recvFrame(t, s))
	assert.Equal(t, "p1", reply.PlayerID)
	assert.Regexp(t, roomIDPattern, reply.RoomID)
	assert.NotEqual(t, "ignored", reply.RoomID)
	assert.Equal(t, 1, reply.PlayersCount)
	assert.Equal(t, []string{"p1"}, registry.Members(reply.RoomID))
}

func TestJoin_ExistingRoom(t *testing.T) {
	router, registry, directory := newTestRouter()
	roomID := registry.CreateRoom()
	require.True(t, registry.JoinRoom(roomID, "p1"))

	s := newTestSession("p2", registry, directory, router)
	s.handleFrame([]byte(`{"type":"Join","payload":{"room_id":"` + roomID + `"}}`))

	reply := decodeJoinReply(t, recvFrame(t, s))
	assert.Equal(t, roomID, reply.RoomID)
	assert.Equal(t, 2, reply.PlayersCount)
}

func TestJoin_MissingRoomFallsBackToCreate(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Join","payload":{"room_id":"0000"}}`))

	reply := decodeJoinReply(t, recvFrame(t, s))
	assert.NotEqual(t, "0000", reply.RoomID)
	assert.Regexp(t, roomIDPattern, reply.RoomID)
	assert.Equal(t, 1, reply.PlayersCount)
}

func TestJoin_NoPayloadCreates(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Join"}`))

	reply := decodeJoinReply(t, recvFrame(t, s))
	assert.Regexp(t, roomIDPattern, reply.RoomID)
	assert.Equal(t, 1, reply.PlayersCount)
}

func joinTogether(t *testing.T, registry *RoomRegistry, sessions ...*Session) string {
	t.Helper()
	roomID := registry.CreateRoom()
	for _, s := range sessions {
		require.True(t, registry.JoinRoom(roomID, s.playerID))
	}
	return roomID
}

func TestPlayerUpdate_ForcesSenderIdentity(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	p2 := newTestSession("p2", registry, directory, router)
	joinTogether(t, registry, p1, p2)

	p1.handleFrame([]byte(`{"type":"PlayerUpdate","payload":{"player_id":"mallory","position":{"x":1,"y":2,"z":3},"action":"run"}}`))

	env := recvFrame(t, p2)
	require.Equal(t, KindPlayerUpdate, env.Type)
	var p PlayerUpdatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "p1", p.PlayerID, "claimed identity must be overwritten")
	assert.Equal(t, float32(1), p.Position.X)
	require.NotNil(t, p.Action)
	assert.Equal(t, "run", *p.Action)

	assertNoFrame(t, p1)
}

func TestPlayerUpdate_WithoutRoomDropped(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)

	p1.handleFrame([]byte(`{"type":"PlayerUpdate","payload":{"position":{"x":0,"y":0,"z":0}}}`))

	assertNoFrame(t, p1)
}

func TestChat_EchoesToWholeRoomIncludingSender(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	p2 := newTestSession("p2", registry, directory, router)
	joinTogether(t, registry, p1, p2)

	p1.handleFrame([]byte(`{"type":"Chat","payload":{"player_id":"spoof","text":"hello"}}`))

	for _, s := range []*Session{p1, p2} {
		env := recvFrame(t, s)
		require.Equal(t, KindChat, env.Type)
		var p ChatPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "p1", p.PlayerID)
		assert.Equal(t, "hello", p.Text)
	}
}

func TestChat_RoomlessSenderStillGetsEcho(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)

	p1.handleFrame([]byte(`{"type":"Chat","payload":{"text":"anyone?"}}`))

	env := recvFrame(t, p1)
	assert.Equal(t, KindChat, env.Type)
}

func TestWorldUpdate_RelayedExcludingSender(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	p2 := newTestSession("p2", registry, directory, router)
	joinTogether(t, registry, p1, p2)

	p1.handleFrame([]byte(`{"type":"WorldUpdate","payload":{"entities":[{"id":"e1","entity_type":"crate","position":{"x":0,"y":0,"z":0}}]}}`))

	env := recvFrame(t, p2)
	require.Equal(t, KindWorldUpdate, env.Type)
	var p WorldUpdatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	require.Len(t, p.Entities, 1)
	assert.Equal(t, "crate", p.Entities[0].EntityType)

	assertNoFrame(t, p1)
}

func TestPing_RepliesPongWithSameTime(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Ping","payload":{"time":424242}}`))

	env := recvFrame(t, s)
	require.Equal(t, KindPong, env.Type)
	var p PingPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, uint64(424242), p.Time)
}

func TestMalformedFrame_ErrorReplyConnectionSurvives(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{not json`))
	env := recvFrame(t, s)
	assert.Equal(t, KindError, env.Type)

	// Session still dispatches after the bad frame.
	s.handleFrame([]byte(`{"type":"Ping","payload":{"time":1}}`))
	assert.Equal(t, KindPong, recvFrame(t, s).Type)
}

func TestUnknownKind_ErrorReply(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Teleport","payload":{}}`))

	env := recvFrame(t, s)
	require.Equal(t, KindError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Contains(t, p.Message, "Teleport")
}

func TestBadPayload_ErrorReply(t *testing.T) {
	router, registry, directory := newTestRouter()
	s := newTestSession("p1", registry, directory, router)

	s.handleFrame([]byte(`{"type":"Ping","payload":{"time":"not-a-number"}}`))

	assert.Equal(t, KindError, recvFrame(t, s).Type)
}

func TestLeave_RemovesMembership(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	roomID := joinTogether(t, registry, p1)

	p1.handleFrame([]byte(`{"type":"Leave","payload":{"player_id":"p1"}}`))

	assert.Equal(t, 0, registry.MemberCount(roomID))
	_, ok := registry.RoomOf("p1")
	assert.False(t, ok)
}

func TestClose_CleansBothStructuresAndStopsDelivery(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	p2 := newTestSession("p2", registry, directory, router)
	roomID := joinTogether(t, registry, p1, p2)

	p1.Close()

	_, ok := registry.RoomOf("p1")
	assert.False(t, ok)
	assert.Equal(t, []string{"p2"}, registry.Members(roomID))
	_, ok = directory.Lookup("p1")
	assert.False(t, ok)

	// A broadcast from the survivor no longer attempts p1's handle.
	delivered := router.Broadcast(roomID, KindChat, ChatPayload{PlayerID: "p2", Text: "bye"}, "p2")
	assert.Equal(t, 0, delivered)

	// Close is idempotent and late deliveries are dropped silently.
	p1.Close()
	p1.Deliver([]byte("late"))
	assertNoFrame(t, p1)
}

func TestReconnect_StaleSessionCloseKeepsLiveSession(t *testing.T) {
	router, registry, directory := newTestRouter()
	stale := newTestSession("p1", registry, directory, router)
	joinTogether(t, registry, stale)

	// The player reconnects: a new session takes over the directory entry
	// and joins a room before the old socket finally dies.
	live := newTestSession("p1", registry, directory, router)
	roomID := joinTogether(t, registry, live)
	other := newTestSession("p2", registry, directory, router)
	require.True(t, registry.JoinRoom(roomID, "p2"))

	stale.Close()

	handle, ok := directory.Lookup("p1")
	require.True(t, ok, "live session lost its delivery handle after the stale session closed")
	assert.Same(t, live, handle)
	got, ok := registry.RoomOf("p1")
	require.True(t, ok, "live session lost its room membership after the stale session closed")
	assert.Equal(t, roomID, got)

	// Broadcasts still reach the live session.
	delivered := router.Broadcast(roomID, KindChat, ChatPayload{PlayerID: "p2", Text: "hi"}, "p2")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, KindChat, recvFrame(t, live).Type)

	// The live session's own teardown still cleans both structures.
	live.Close()
	_, ok = directory.Lookup("p1")
	assert.False(t, ok)
	_, ok = registry.RoomOf("p1")
	assert.False(t, ok)

	other.Close()
}

func TestConcurrentCreateRoomJoins_DistinctRooms(t *testing.T) {
	router, registry, directory := newTestRouter()
	p1 := newTestSession("p1", registry, directory, router)
	p2 := newTestSession("p2", registry, directory, router)

	done := make(chan struct{}, 2)
	for _, s := range []*Session{p1, p2} {
		go func(s *Session) {
			s.handleFrame([]byte(`{"type":"Join","payload":{"create_room":true}}`))
			done <- struct{}{}
		}(s)
	}
	<-done
	<-done

	r1 := decodeJoinReply(t, recvFrame(t, p1))
	r2 := decodeJoinReply(t, recvFrame(t, p2))
	assert.NotEqual(t, r1.RoomID, r2.RoomID)
	assert.Equal(t, 1, r1.PlayersCount)
	assert.Equal(t, 1, r2.PlayersCount)
}

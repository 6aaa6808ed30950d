package server

import (
	"sync/atomic"
)

// RelayMetrics tracks process-wide relay counters for monitoring and tests.
type RelayMetrics struct {
	SessionsOpened    int64 // connections successfully upgraded
	SessionsClosed    int64 // sessions fully torn down
	MessagesIn        int64 // protocol frames decoded
	DecodeErrors      int64 // frames rejected with an Error reply
	Broadcasts        int64 // fan-out calls issued
	Deliveries        int64 // per-recipient pushes attempted
	DeliveriesSkipped int64 // pushes skipped on a stale handle
	SendQueueDropped  int64 // frames discarded on a full send queue
	HeartbeatTimeouts int64 // sessions closed by liveness timeout
}

// Metrics is the process-wide instance, exposed at /metrics.
var Metrics = &RelayMetrics{}

func (m *RelayMetrics) IncSessionsOpened()    { atomic.AddInt64(&m.SessionsOpened, 1) }
func (m *RelayMetrics) IncSessionsClosed()    { atomic.AddInt64(&m.SessionsClosed, 1) }
func (m *RelayMetrics) IncMessagesIn()        { atomic.AddInt64(&m.MessagesIn, 1) }
func (m *RelayMetrics) IncDecodeErrors()      { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *RelayMetrics) IncDeliveriesSkipped() { atomic.AddInt64(&m.DeliveriesSkipped, 1) }
func (m *RelayMetrics) IncSendQueueDropped()  { atomic.AddInt64(&m.SendQueueDropped, 1) }
func (m *RelayMetrics) IncHeartbeatTimeouts() { atomic.AddInt64(&m.HeartbeatTimeouts, 1) }

func (m *RelayMetrics) AddBroadcast(deliveries int) {
	atomic.AddInt64(&m.Broadcasts, 1)
	atomic.AddInt64(&m.Deliveries, int64(deliveries))
}

// Snapshot returns a read-only copy for HTTP output.
func (m *RelayMetrics) Snapshot() map[string]any {
	return map[string]any{
		"sessions_opened":    atomic.LoadInt64(&m.SessionsOpened),
		"sessions_closed":    atomic.LoadInt64(&m.SessionsClosed),
		"messages_in":        atomic.LoadInt64(&m.MessagesIn),
		"decode_errors":      atomic.LoadInt64(&m.DecodeErrors),
		"broadcasts":         atomic.LoadInt64(&m.Broadcasts),
		"deliveries":         atomic.LoadInt64(&m.Deliveries),
		"deliveries_skipped": atomic.LoadInt64(&m.DeliveriesSkipped),
		"send_queue_dropped": atomic.LoadInt64(&m.SendQueueDropped),
		"heartbeat_timeouts": atomic.LoadInt64(&m.HeartbeatTimeouts),
	}
}

package server

import "time"

// Sweeper periodically evicts rooms that stayed empty past the idle TTL.
// The reference server only logged empty rooms as removable; without this
// loop the registry grows without bound.
type Sweeper struct {
	registry *RoomRegistry
	interval time.Duration
	ttl      time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(registry *RoomRegistry, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.registry.EvictIdle(s.ttl); n > 0 {
					Log.Infof("room sweep removed %d idle rooms", n)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

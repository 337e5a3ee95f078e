package authorize

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically drops requests older than twice the TTL. Lazy
// expiry on read stays the authoritative mechanism; the sweep only
// bounds memory.
type Sweeper struct {
	store    *Store
	interval time.Duration

	// OnRemoved, when set, observes each sweep's removed requests. Set
	// it before Start.
	OnRemoved func(removed []Request)

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewSweeper creates a sweeper over the given store. A non-positive
// interval defaults to the store TTL.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = store.TTL()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
	}
}

// Start launches the periodic cleanup loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	s.running = true

	go s.loop(s.stopCh, s.stopped)
	slog.Info("request sweeper started", "interval", s.interval.String())
}

// Stop halts the cleanup loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	stopped := s.stopped
	s.running = false
	s.stopCh = nil
	s.stopped = nil
	s.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("request sweeper stopped")
}

func (s *Sweeper) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if removed := s.store.Cleanup(); len(removed) > 0 {
				slog.Debug("swept stale authorization requests", "removed", len(removed))
				if s.OnRemoved != nil {
					s.OnRemoved(removed)
				}
			}
		}
	}
}

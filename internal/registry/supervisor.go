package registry

import (
	"sync"
	"time"
)

// supervisor runs delayed work (reconnects, post-connect syncs) on timers
// that are cancelled together at shutdown.
type supervisor struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	next    uint64
	stopped bool
	wg      sync.WaitGroup
}

func newSupervisor() *supervisor {
	return &supervisor{timers: make(map[uint64]*time.Timer)}
}

// after runs fn once d has elapsed, unless the supervisor stops first.
func (s *supervisor) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.next++
	id := s.next
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		defer s.wg.Done()
		if live {
			fn()
		}
	})
}

// stop cancels pending timers and waits for running ones to finish.
func (s *supervisor) stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

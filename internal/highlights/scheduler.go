package highlights

import (
	"sync"
	"time"
)

// DefaultSaveDelay is the debounce window for persistence.
const DefaultSaveDelay = 3 * time.Second

// Scheduler runs a task once after a quiet period. Each Schedule replaces
// the pending run instead of stacking another one.
type Scheduler struct {
	mu         sync.Mutex
	delay      time.Duration
	task       func()
	timer      *time.Timer
	generation uint64
	stopped    bool
}

// NewScheduler builds a Scheduler; a non-positive delay selects DefaultSaveDelay.
func NewScheduler(delay time.Duration, task func()) *Scheduler {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &Scheduler{delay: delay, task: task}
}

// Schedule (re)starts the quiet period.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancelLocked()
	generation := s.generation
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.generation != generation || s.stopped {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.task()
	})
}

// Flush cancels any pending run and runs the task now when one was pending.
// It reports whether the task ran.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()
	pending := s.timer != nil
	s.cancelLocked()
	s.mu.Unlock()
	if pending {
		s.task()
	}
	return pending
}

// Cancel drops the pending run without running it.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Pending reports whether a run is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// SetDelay changes the quiet period. A pending run is rescheduled with the
// new delay.
func (s *Scheduler) SetDelay(delay time.Duration) {
	if delay <= 0 {
		return
	}
	s.mu.Lock()
	s.delay = delay
	pending := s.timer != nil
	s.mu.Unlock()
	if pending {
		s.Schedule()
	}
}

// Delay returns the current quiet period.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// Stop cancels the pending run and ignores later Schedule calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.stopped = true
}

func (s *Scheduler) cancelLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

package storage

import (
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer is a pending callback that can be cancelled
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Scheduler defers callbacks. The Manager uses it to drive debounced writes.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// TimerScheduler runs callbacks on real timers with panic recovery
type TimerScheduler struct {
	log *logrus.Logger
}

// NewTimerScheduler creates a scheduler backed by time.AfterFunc
func NewTimerScheduler(log *logrus.Logger) *TimerScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &TimerScheduler{log: log}
}

// AfterFunc implements Scheduler
func (s *TimerScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("panic", r).Errorf("scheduled write panicked\n%s", debug.Stack())
			}
		}()
		fn()
	})
}

// ManualScheduler is a Scheduler driven by virtual time. Callbacks only run
// from Advance or RunAll, on the caller's goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	due     time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewManualScheduler creates a scheduler at virtual time zero
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc implements Scheduler
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, due: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Stop implements Timer
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves virtual time forward by d, running every callback that
// becomes due in due-time order. It returns the number of callbacks run.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	fired := 0
	for {
		t := s.nextDue(target, false)
		if t == nil {
			break
		}
		t.fn()
		fired++
	}

	s.mu.Lock()
	if target > s.now {
		s.now = target
	}
	s.mu.Unlock()
	return fired
}

// RunAll runs every pending callback regardless of due time
func (s *ManualScheduler) RunAll() int {
	fired := 0
	for {
		t := s.nextDue(0, true)
		if t == nil {
			return fired
		}
		t.fn()
		fired++
	}
}

// Pending returns the number of callbacks that have neither run nor been stopped
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Now returns the current virtual time offset
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// nextDue pops the earliest live timer due at or before limit and marks it fired
func (s *ManualScheduler) nextDue(limit time.Duration, ignoreDue bool) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.Slice(s.timers, func(i, j int) bool {
		if s.timers[i].due != s.timers[j].due {
			return s.timers[i].due < s.timers[j].due
		}
		return s.timers[i].seq < s.timers[j].seq
	})

	if len(s.timers) == 0 {
		return nil
	}
	t := s.timers[0]
	if !ignoreDue && t.due > limit {
		return nil
	}
	t.fired = true
	if t.due > s.now {
		s.now = t.due
	}
	return t
}

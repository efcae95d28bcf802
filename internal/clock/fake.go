package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Time only moves on Advance,
// which fires due callbacks synchronously in deadline order. Callbacks must
// not call Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	at   time.Time
	fn   func()
	ch   chan time.Time
	done bool
}

// NewFake returns a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel fed when the clock passes now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.addLocked(&pendingTimer{at: f.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers fn to run when the clock passes now+d. A non-positive
// d runs fn before AfterFunc returns.
func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		fn()
		return &Timer{stop: func() bool { return false }}
	}

	f.mu.Lock()
	pt := &pendingTimer{at: f.now.Add(d), fn: fn}
	f.addLocked(pt)
	f.mu.Unlock()

	return &Timer{stop: func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if pt.done {
			return false
		}
		pt.done = true
		f.changed.Broadcast()
		return true
	}}
}

func (f *Fake) addLocked(pt *pendingTimer) {
	f.pending = append(f.pending, pt)
	f.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every timer that is due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due, rest []*pendingTimer
	for _, pt := range f.pending {
		switch {
		case pt.done:
		case !pt.at.After(now):
			pt.done = true
			due = append(due, pt)
		default:
			rest = append(rest, pt)
		}
	}
	f.pending = rest
	f.changed.Broadcast()
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, pt := range due {
		if pt.fn != nil {
			pt.fn()
			continue
		}
		select {
		case pt.ch <- now:
		default:
		}
	}
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

// WaitForTimers blocks until at least n timers are pending.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, pt := range f.pending {
		if !pt.done {
			n++
		}
	}
	return n
}

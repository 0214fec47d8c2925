package raft

import (
	"math/rand"
	"sync"
	"time"
)

// electionTimer is a single-shot, resettable timer with a randomized
// timeout drawn from [min, max) on every reset. The callback runs on the
// timer goroutine; the engine re-enters its serialization point there.
type electionTimer struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func newElectionTimer(min, max time.Duration, fn func()) *electionTimer {
	return &electionTimer{min: min, max: max, fn: fn}
}

// Reset re-arms the timer with a fresh random timeout, replacing any
// pending expiry.
func (t *electionTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.randomTimeout(), t.fn)
}

// Stop cancels any pending expiry without permanently disabling the
// timer; a later Reset re-arms it.
func (t *electionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Close stops the timer permanently.
func (t *electionTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *electionTimer) randomTimeout() time.Duration {
	spread := t.max - t.min
	if spread <= 0 {
		return t.min
	}
	return t.min + time.Duration(rand.Int63n(int64(spread)))
}

// Package debounce implements the timer.Reset-around-a-mutex debounce used
// at every batching boundary in relaycore: feed flush, projection and
// snapshot, profile fetch coalescing and persistence, and counts
// subscription and flush.
package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces repeated Trigger calls into a single fn invocation
// delay after the last call. It is safe for concurrent use.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

// New returns a Debouncer that calls fn delay after the most recent Trigger.
func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the debounce window. If a window is already pending,
// it is reset rather than allowed to fire early.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Flush cancels any pending window and calls fn immediately, used at
// shutdown to make sure the last debounced write is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending window without calling fn.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// HardCap is a debouncer variant that additionally guarantees fn fires at
// least once every capDelay even under continuous Trigger calls — the
// counts aggregator's flush uses this so a fast-scrolling relay can never
// starve the UI update indefinitely.
type HardCap struct {
	mu        sync.Mutex
	delay     time.Duration
	cap       time.Duration
	fn        func()
	timer     *time.Timer
	capTimer  *time.Timer
	firstCall time.Time
}

// NewHardCap returns a HardCap debouncer: fn fires delay after the last
// Trigger, or at capDelay after the first Trigger in a burst, whichever
// comes first.
func NewHardCap(delay, capDelay time.Duration, fn func()) *HardCap {
	return &HardCap{delay: delay, cap: capDelay, fn: fn}
}

// Trigger (re)starts the debounce window and, if this is the first Trigger
// since the last fire, arms the hard cap.
func (h *HardCap) Trigger() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.delay, h.fire)

	if h.capTimer == nil {
		h.firstCall = time.Now()
		h.capTimer = time.AfterFunc(h.cap, h.fire)
	}
}

func (h *HardCap) fire() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.capTimer != nil {
		h.capTimer.Stop()
		h.capTimer = nil
	}
	fn := h.fn
	h.mu.Unlock()
	fn()
}

// Stop cancels any pending window without calling fn.
func (h *HardCap) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.capTimer != nil {
		h.capTimer.Stop()
		h.capTimer = nil
	}
}

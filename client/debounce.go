package client

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a search edit is applied.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer delivers the last pushed value once no new value arrived for the
// configured delay. Values pushed while waiting replace the pending one.
type Debouncer[T any] struct {
	delay time.Duration
	fire  func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending T
	stopped bool
}

// NewDebouncer creates a debouncer that calls fire from its own goroutine.
func NewDebouncer[T any](delay time.Duration, fire func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer[T]{delay: delay, fire: fire}
}

// Push records v and restarts the quiet period.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = v
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.onTimer(gen) })
}

// Cancel drops the pending value, if any. Later pushes are delivered as usual.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Stop cancels any pending delivery. Later pushes are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cancelLocked()
}

func (d *Debouncer[T]) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	var zero T
	d.pending = zero
}

// onTimer delivers the pending value unless a push or cancel happened after
// the timer for gen was armed.
func (d *Debouncer[T]) onTimer(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.mu.Unlock()
	d.fire(v)
}

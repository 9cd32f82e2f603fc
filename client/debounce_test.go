package client

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerDeliversLastValueOnce(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDebouncer(30*time.Millisecond, func(v string) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer d.Stop()

	for _, v := range []string{"a", "ab", "abc"} {
		d.Push(v)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "abc" {
		t.Fatalf("expected a single delivery of abc, got %v", got)
	}
}

func TestDebouncerSeparateBursts(t *testing.T) {
	fired := make(chan int, 4)
	d := NewDebouncer(20*time.Millisecond, func(v int) { fired <- v })
	defer d.Stop()

	d.Push(1)
	if v := <-fired; v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	d.Push(2)
	d.Push(3)
	if v := <-fired; v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(v string) { fired <- v })
	d.Push("x")
	d.Stop()
	d.Push("y")
	select {
	case v := <-fired:
		t.Fatalf("unexpected delivery %q after stop", v)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncerDefaultDelay(t *testing.T) {
	d := NewDebouncer(0, func(string) {})
	if d.delay != DefaultDebounce {
		t.Fatalf("expected default delay %v, got %v", DefaultDebounce, d.delay)
	}
}

func TestDebouncerCancelDropsPending(t *testing.T) {
	fired := make(chan string, 2)
	d := NewDebouncer(20*time.Millisecond, func(v string) { fired <- v })
	defer d.Stop()

	d.Push("old")
	d.Cancel()
	select {
	case v := <-fired:
		t.Fatalf("unexpected delivery %q after cancel", v)
	case <-time.After(60 * time.Millisecond):
	}

	d.Push("new")
	select {
	case v := <-fired:
		if v != "new" {
			t.Fatalf("expected new, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("push after cancel was not delivered")
	}
}

func TestDebouncerIgnoresSupersededTimer(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDebouncer(time.Hour, func(v string) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer d.Stop()

	d.Push("a")
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Push("b")

	// A timer armed for the first push that fires after the second push
	// must not deliver anything.
	d.onTimer(stale)
	d.mu.Lock()
	current := d.gen
	d.mu.Unlock()
	d.onTimer(current)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected a single delivery of b, got %v", got)
	}
}

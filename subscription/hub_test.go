package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tasksync/domain"
)

func created(id string) domain.ChangeNotification {
	return domain.ChangeNotification{Kind: domain.ChangeCreated, TaskID: id, Task: &domain.Task{ID: id, Title: id}}
}

func receive(t *testing.T, s *Session) domain.ChangeNotification {
	t.Helper()
	select {
	case n, ok := <-s.C():
		if !ok {
			t.Fatalf("session %s closed", s.ID)
		}
		return n
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting on session %s", s.ID)
	}
	return domain.ChangeNotification{}
}

func TestHubFansOutToEverySession(t *testing.T) {
	hub := NewHub(8)
	sessions := make([]*Session, 3)
	for i := range sessions {
		sessions[i] = hub.Subscribe()
		defer sessions[i].Close()
	}
	if err := hub.Publish(context.Background(), created("t1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, s := range sessions {
		if n := receive(t, s); n.TaskID != "t1" || n.Kind != domain.ChangeCreated {
			t.Fatalf("unexpected notification %#v", n)
		}
	}
}

func TestHubSessionIDsAreUnique(t *testing.T) {
	hub := NewHub(1)
	a, b := hub.Subscribe(), hub.Subscribe()
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}

func TestHubPreservesOrderPerSession(t *testing.T) {
	hub := NewHub(16)
	s := hub.Subscribe()
	defer s.Close()
	for i := 0; i < 10; i++ {
		_ = hub.Publish(context.Background(), created(fmt.Sprintf("t%d", i)))
	}
	for i := 0; i < 10; i++ {
		if n := receive(t, s); n.TaskID != fmt.Sprintf("t%d", i) {
			t.Fatalf("position %d: got %s", i, n.TaskID)
		}
	}
}

func TestHubDoesNotReplayToLateSubscribers(t *testing.T) {
	hub := NewHub(4)
	early := hub.Subscribe()
	defer early.Close()
	_ = hub.Publish(context.Background(), created("before"))

	late := hub.Subscribe()
	defer late.Close()
	_ = hub.Publish(context.Background(), created("after"))

	if n := receive(t, late); n.TaskID != "after" {
		t.Fatalf("late subscriber saw %s", n.TaskID)
	}
	if n := receive(t, early); n.TaskID != "before" {
		t.Fatalf("early subscriber saw %s first", n.TaskID)
	}
}

func TestHubDropsFullSession(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe()
	fast := hub.Subscribe()
	defer fast.Close()

	for i := 0; i < 3; i++ {
		_ = hub.Publish(context.Background(), created(fmt.Sprintf("t%d", i)))
		receive(t, fast)
	}
	if hub.Len() != 1 {
		t.Fatalf("expected slow session dropped, %d sessions remain", hub.Len())
	}
	// buffered notifications drain before the close is observed
	for i := 0; i < 2; i++ {
		if _, ok := <-slow.C(); !ok {
			t.Fatalf("buffered notification %d lost", i)
		}
	}
	if _, ok := <-slow.C(); ok {
		t.Fatalf("expected dropped session channel closed")
	}
	slow.Close()
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1)
	s := hub.Subscribe()
	s.Close()
	s.Close()
	if hub.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", hub.Len())
	}
	if err := hub.Publish(context.Background(), created("t1")); err != nil {
		t.Fatalf("publish without sessions: %v", err)
	}
}

package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tasksync/domain"
)

func TestRedisRelayDeliversAcrossHubs(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	logger, _ := test.NewNullLogger()
	hubA, hubB := NewHub(8), NewHub(8)
	relayA := NewRedisRelay(rc, "chan", hubA, logger)
	relayB := NewRedisRelay(rc, "chan", hubB, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	for _, r := range []*RedisRelay{relayA, relayB} {
		go func(r *RedisRelay) {
			r.Run(ctx)
			done <- struct{}{}
		}(r)
	}
	// wait for subscriptions to start
	time.Sleep(50 * time.Millisecond)

	sa, sb := hubA.Subscribe(), hubB.Subscribe()
	defer sa.Close()
	defer sb.Close()

	if err := relayA.Publish(context.Background(), created("t1")); err != nil {
		t.Fatalf("publish created: %v", err)
	}
	if err := relayA.Publish(context.Background(), domain.ChangeNotification{Kind: domain.ChangeDeleted, TaskID: "t1"}); err != nil {
		t.Fatalf("publish deleted: %v", err)
	}

	for _, s := range []*Session{sa, sb} {
		n := receive(t, s)
		if n.Kind != domain.ChangeCreated || n.Task == nil || n.Task.Title != "t1" {
			t.Fatalf("unexpected first notification %#v", n)
		}
		n = receive(t, s)
		if n.Kind != domain.ChangeDeleted || n.TaskID != "t1" {
			t.Fatalf("unexpected second notification %#v", n)
		}
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not exit")
		}
	}
}

func TestRedisRelaySkipsMalformedMessages(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	logger, hook := test.NewNullLogger()
	hub := NewHub(8)
	relay := NewRedisRelay(rc, "chan", hub, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	s := hub.Subscribe()
	defer s.Close()
	_ = rc.Publish(context.Background(), "chan", "not json").Err()
	_ = rc.Publish(context.Background(), "chan", `{"event":"taskArchived","id":"x"}`).Err()
	_ = relay.Publish(context.Background(), created("ok"))

	if n := receive(t, s); n.TaskID != "ok" {
		t.Fatalf("expected only the valid notification, got %#v", n)
	}
	var sawError, sawWarn bool
	for _, e := range hook.AllEntries() {
		switch e.Level {
		case log.ErrorLevel:
			sawError = true
		case log.WarnLevel:
			sawWarn = true
		}
	}
	if !sawError || !sawWarn {
		t.Fatalf("expected parse error and unknown event logs, got %d entries", len(hook.AllEntries()))
	}
}

func TestRedisRelayPublishFailureIsTransportError(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	m.Close()

	relay := NewRedisRelay(rc, "", NewHub(1), nil)
	err = relay.Publish(context.Background(), created("t1"))
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

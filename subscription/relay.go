package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "task-changes"

// RedisRelay carries change notifications between API instances. Publish
// writes to a Redis channel; Run feeds everything received on that channel
// into the local hub, including notifications this instance published.
type RedisRelay struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger
}

// NewRedisRelay creates a relay bound to channel that delivers into hub.
func NewRedisRelay(rc *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisRelay{rc: rc, channel: channel, hub: hub, logger: logger}
}

// Publish serializes n as a push frame and publishes it on the relay channel.
func (r *RedisRelay) Publish(ctx context.Context, n domain.ChangeNotification) error {
	data, err := sonic.Marshal(n.Frame())
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		return &domain.TransportError{Op: "publish notification", Err: err}
	}
	return nil
}

// Run subscribes to the relay channel until ctx is cancelled. Messages are
// handed to the hub from this goroutine only, so per-session order matches
// channel order.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.WithField("channel", r.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame domain.PushFrame
			if err := sonic.UnmarshalString(msg.Payload, &frame); err != nil {
				r.logger.WithError(err).Error("unable to parse notification")
				continue
			}
			n, ok := domain.NotificationFromFrame(frame)
			if !ok {
				r.logger.WithField("event", frame.Event).Warn("unknown notification event")
				continue
			}
			_ = r.hub.Publish(ctx, n)
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "slotchat:user:"

// RedisBroker fans events out through Redis pub/sub so that every process
// holding a connection for the recipient delivers it to its local hub.
// While this process has no live subscription it delivers to its own hub
// directly, so local connections keep working through a Redis outage.
type RedisBroker struct {
	rdb    *redis.Client
	hub    *Hub
	prefix string
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	subscribed atomic.Bool
	readyOnce  sync.Once
	ready      chan struct{}
}

func NewRedisBroker(rdb *redis.Client, hub *Hub, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{
		rdb:        rdb,
		hub:        hub,
		prefix:     DefaultChannelPrefix,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		ready:      make(chan struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, recipient string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if !b.subscribed.Load() {
		// Our own subscription is down: serve local connections here and
		// still reach other processes if Redis accepts the publish.
		b.hub.Deliver(recipient, evt)
		if err := b.rdb.Publish(ctx, b.prefix+recipient, data).Err(); err != nil {
			b.logger.Debug("realtime: redis publish skipped", "recipient", recipient, "err", err)
		}
		return nil
	}
	if err := b.rdb.Publish(ctx, b.prefix+recipient, data).Err(); err != nil {
		b.hub.Deliver(recipient, evt)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the first pattern subscription is confirmed.
func (b *RedisBroker) Ready() <-chan struct{} { return b.ready }

// Run keeps a pattern subscription on every user channel until ctx is done,
// resubscribing with exponential backoff after failures.
func (b *RedisBroker) Run(ctx context.Context) error {
	wait := b.minBackoff
	for {
		connected, err := b.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			wait = b.minBackoff
		}
		b.logger.Warn("realtime: redis subscription down, delivering locally", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, b.maxBackoff)
	}
}

// subscribe reports whether the subscription was ever confirmed.
func (b *RedisBroker) subscribe(ctx context.Context) (bool, error) {
	sub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("redis subscribe: %w", err)
	}
	b.subscribed.Store(true)
	defer b.subscribed.Store(false)
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.Info("realtime: redis subscription active")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("redis subscription closed")
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("realtime: bad payload", "channel", msg.Channel, "err", err)
				continue
			}
			b.hub.Deliver(strings.TrimPrefix(msg.Channel, b.prefix), evt)
		}
	}
}

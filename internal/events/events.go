// Package events broadcasts status changes of NCR tickets and DNXL requests
// so other replicas and dashboards can refresh. Publishing is best effort;
// a failed publish never undoes a committed transition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Kind tells which aggregate changed.
type Kind string

const (
	KindTicket Kind = "ncr"
	KindDNXL   Kind = "dnxl"
)

// StatusChanged is published after every committed transition.
type StatusChanged struct {
	Kind   Kind      `json:"kind"`
	ID     string    `json:"id"`
	Action string    `json:"action"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Actor  string    `json:"actor"`
	Role   string    `json:"role"`
	At     time.Time `json:"at"`
}

// Publisher sends status change notifications.
type Publisher interface {
	Publish(ctx context.Context, ev StatusChanged) error
	Close() error
}

// Nop discards every event. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, StatusChanged) error { return nil }
func (Nop) Close() error                                 { return nil }

// Redis publishes events as JSON on a Pub/Sub channel.
type Redis struct {
	rdb     *goredis.Client
	channel string
}

// NewRedis publishes on channel ("ncr-events" when empty).
func NewRedis(rdb *goredis.Client, channel string) *Redis {
	if channel == "" {
		channel = "ncr-events"
	}
	return &Redis{rdb: rdb, channel: channel}
}

func (b *Redis) Publish(ctx context.Context, ev StatusChanged) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe forwards events to onEvent until ctx is cancelled.
func (b *Redis) Subscribe(ctx context.Context, onEvent func(StatusChanged)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev StatusChanged
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("bad event payload")
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close is a no-op; the client is owned by whoever created it.
func (b *Redis) Close() error { return nil }

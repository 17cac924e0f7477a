package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// subscription is the part of *redis.PubSub the subscriber uses.
type subscription interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
	Close() error
}

type subscribeFunc func(ctx context.Context) (subscription, error)

// RedisSubscriber receives JobEvents published on a Redis channel.
// Run must be called in a goroutine; it resubscribes with exponential backoff
// when the connection is lost.
type RedisSubscriber struct {
	addr      string
	channel   string
	dec       *Decoder
	client    *redis.Client
	subscribe subscribeFunc // injectable for tests
}

// NewRedisSubscriber returns a subscriber for cfg.
func NewRedisSubscriber(cfg config.RedisSourceConfig, dec *Decoder) *RedisSubscriber {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password(),
		DB:       cfg.DB,
	})
	s := &RedisSubscriber{
		addr:    cfg.Addr,
		channel: cfg.Channel,
		dec:     dec,
		client:  client,
	}
	s.subscribe = s.defaultSubscribe
	return s
}

func (s *RedisSubscriber) defaultSubscribe(ctx context.Context) (subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel)
	// Wait for the subscription confirmation so that connection errors
	// surface here rather than on the first receive.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}

// Run receives messages until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := s.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.next()
			slog.Error("ingest: redis subscribe failed, will retry",
				"addr", s.addr,
				"channel", s.channel,
				"err", err,
				"retry_in", wait)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("ingest: subscribed", "addr", s.addr, "channel", s.channel)
		bo.reset()

		err = s.receive(ctx, sub)
		sub.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("ingest: redis subscription lost, will resubscribe",
			"addr", s.addr,
			"err", err,
			"retry_in", wait)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// receive decodes messages until the subscription fails or ctx is cancelled.
func (s *RedisSubscriber) receive(ctx context.Context, sub subscription) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		s.dec.Line(SourceRedis, []byte(msg.Payload))
	}
}

// Close releases the Redis client.
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}

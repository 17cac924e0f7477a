package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/pipewatch/pipewatch/pipeline/internal/config"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// Emitter delivers a terminal JobEvent.
type Emitter interface {
	Emit(ctx context.Context, ev types.JobEvent) error
}

// EventLog writes events as JSON lines through a dedicated slog handler.
// The record time is the event timestamp.
type EventLog struct {
	h slog.Handler
	c io.Closer
}

// NewEventLog writes to w.
func NewEventLog(w io.Writer) *EventLog {
	return &EventLog{h: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})}
}

// OpenEventLog appends to the file at path, creating it and its directory.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runner: events dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runner: open events file: %w", err)
	}
	l := NewEventLog(f)
	l.c = f
	return l, nil
}

// Emit writes one line.
func (l *EventLog) Emit(ctx context.Context, ev types.JobEvent) error {
	r := slog.NewRecord(ev.Timestamp, levelFor(ev.Status), "job finished", 0)
	r.AddAttrs(
		slog.String("job_name", ev.JobName),
		slog.String("run_id", ev.RunID),
		slog.String("status", string(ev.Status)),
		slog.String("reference_date", ev.ReferenceDate),
		slog.Time("timestamp", ev.Timestamp),
	)
	if ev.Reason != "" {
		r.AddAttrs(slog.String("reason", ev.Reason))
	}
	if len(ev.Details) > 0 {
		r.AddAttrs(slog.Any("details", ev.Details))
	}
	if err := l.h.Handle(ctx, r); err != nil {
		return fmt.Errorf("runner: write event: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (l *EventLog) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

func levelFor(s types.Status) slog.Level {
	switch s {
	case types.StatusError:
		return slog.LevelError
	case types.StatusWarn:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

type publishFunc func(ctx context.Context, channel string, payload []byte) error

// RedisPublisher publishes events as JSON on a pub/sub channel.
type RedisPublisher struct {
	channel string
	client  *redis.Client
	publish publishFunc // injectable for tests
}

// NewRedisPublisher returns a publisher for cfg.
func NewRedisPublisher(cfg config.RedisEventConfig) *RedisPublisher {
	p := &RedisPublisher{
		channel: cfg.Channel,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password(),
			DB:       cfg.DB,
		}),
	}
	p.publish = func(ctx context.Context, channel string, payload []byte) error {
		return p.client.Publish(ctx, channel, payload).Err()
	}
	return p
}

// Emit publishes ev.
func (p *RedisPublisher) Emit(ctx context.Context, ev types.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("runner: marshal event: %w", err)
	}
	if err := p.publish(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("runner: redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

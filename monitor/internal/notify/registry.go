package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
)

// Channel types.
const (
	TypeEmail   = "email"
	TypeWebhook = "webhook"
)

// ErrUnknownChannel is returned when a policy references a channel id that
// was not configured.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Channel is one configured delivery target.
type Channel struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Address string `json:"address"`
	Format  string `json:"format,omitempty"`
	secret  string
}

// Notification is the payload delivered for one policy firing.
type Notification struct {
	ID            string    `json:"id"`
	Policy        string    `json:"policy"`
	Severity      string    `json:"severity"`
	Condition     string    `json:"condition"`
	Documentation string    `json:"documentation,omitempty"`
	FiredAt       time.Time `json:"fired_at"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	Triggers      []Trigger `json:"triggers"`
}

// Trigger is one series (job) that satisfied the policy condition.
type Trigger struct {
	Metric string   `json:"metric"`
	Job    string   `json:"job"`
	Value  float64  `json:"value"`
	RunIDs []string `json:"run_ids,omitempty"`

	// Absence context.
	LastOK  *time.Time    `json:"last_ok,omitempty"`
	Silence time.Duration `json:"silence,omitempty"`
}

// Summary renders a one-line human readable description.
func (n Notification) Summary() string {
	parts := make([]string, 0, len(n.Triggers))
	for _, t := range n.Triggers {
		if t.LastOK != nil {
			parts = append(parts, fmt.Sprintf("%s silent for %s", t.Job, t.Silence.Round(time.Second)))
			continue
		}
		s := fmt.Sprintf("%s[%s]=%g", t.Metric, t.Job, t.Value)
		if len(t.RunIDs) > 0 {
			s += " run_id=" + strings.Join(t.RunIDs, ",")
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("[%s] %s fired: %s", strings.ToUpper(n.Severity), n.Policy, strings.Join(parts, "; "))
}

// Sender delivers a notification to one channel.
type Sender interface {
	Send(ctx context.Context, ch Channel, n Notification) error
}

// Registry holds the configured channels and delivers notifications to them.
// Channels are fixed at construction.
type Registry struct {
	channels map[string]Channel
	senders  map[string]Sender
	timeout  time.Duration
	sink     telemetry.Sink

	wg sync.WaitGroup
}

// NewRegistry builds the registry from configuration.
func NewRegistry(cfgs []config.ChannelConfig, smtp config.SMTPConfig, timeout time.Duration, sink telemetry.Sink) (*Registry, error) {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	r := &Registry{
		channels: make(map[string]Channel, len(cfgs)),
		senders: map[string]Sender{
			TypeWebhook: NewWebhookSender(),
			TypeEmail:   NewEmailSender(smtp),
		},
		timeout: timeout,
		sink:    sink,
	}
	for _, c := range cfgs {
		if _, dup := r.channels[c.ID]; dup {
			return nil, fmt.Errorf("notify: duplicate channel id %q", c.ID)
		}
		if c.Type != TypeEmail && c.Type != TypeWebhook {
			return nil, fmt.Errorf("notify: channel %q: unknown type %q", c.ID, c.Type)
		}
		addr := c.ResolvedAddress()
		if addr == "" {
			return nil, fmt.Errorf("notify: channel %q: address is empty", c.ID)
		}
		r.channels[c.ID] = Channel{
			ID:      c.ID,
			Type:    c.Type,
			Address: addr,
			Format:  c.Format,
			secret:  c.Secret(),
		}
	}
	return r, nil
}

// SetSender replaces the sender for a channel type.
func (r *Registry) SetSender(typ string, s Sender) {
	r.senders[typ] = s
}

// Validate returns an error wrapping ErrUnknownChannel for the first id that
// is not configured.
func (r *Registry) Validate(ids []string) error {
	for _, id := range ids {
		if _, ok := r.channels[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, id)
		}
	}
	return nil
}

// Channels returns the configured channels sorted by id.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dispatch delivers n to every channel in ids without waiting. Each channel
// runs in its own goroutine bounded by the registry timeout; failures are
// logged and counted, never retried.
func (r *Registry) Dispatch(ctx context.Context, ids []string, n Notification) {
	// Deliveries outlive the evaluation that triggered them.
	ctx = context.WithoutCancel(ctx)

	for _, id := range ids {
		ch, ok := r.channels[id]
		if !ok {
			slog.Error("notify: dispatch to unknown channel", "channel", id, "policy", n.Policy)
			continue
		}
		sender, ok := r.senders[ch.Type]
		if !ok {
			slog.Error("notify: no sender for channel type", "channel", id, "type", ch.Type)
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.deliver(ctx, sender, ch, n)
		}()
	}
}

func (r *Registry) deliver(ctx context.Context, s Sender, ch Channel, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := s.Send(sendCtx, ch, n)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.sink.NotificationSent(ch.ID, telemetry.ResultDelivered, elapsed)
		slog.Debug("notify: delivered", "channel", ch.ID, "policy", n.Policy, "elapsed", elapsed)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded):
		r.sink.NotificationSent(ch.ID, telemetry.ResultTimeout, elapsed)
		slog.Error("notify: delivery timed out", "channel", ch.ID, "policy", n.Policy, "timeout", r.timeout)
	default:
		r.sink.NotificationSent(ch.ID, telemetry.ResultFailed, elapsed)
		slog.Error("notify: delivery failed", "channel", ch.ID, "type", ch.Type, "policy", n.Policy, "err", err)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

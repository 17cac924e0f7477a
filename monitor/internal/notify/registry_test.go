package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
)

// recordingSender records deliveries and optionally fails or blocks.
type recordingSender struct {
	mu    sync.Mutex
	got   []string // channel ids
	fail  map[string]bool
	block map[string]bool
}

func (s *recordingSender) Send(ctx context.Context, ch Channel, n Notification) error {
	if s.block[ch.ID] {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	s.got = append(s.got, ch.ID)
	s.mu.Unlock()
	if s.fail[ch.ID] {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingSender) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func channelConfigs() []config.ChannelConfig {
	return []config.ChannelConfig{
		{ID: "hook-a", Type: "webhook", Address: "http://a.invalid", Format: "generic"},
		{ID: "hook-b", Type: "webhook", Address: "http://b.invalid", Format: "generic"},
		{ID: "ops", Type: "email", Address: "ops@example.com"},
	}
}

func TestNewRegistry_Channels(t *testing.T) {
	r, err := NewRegistry(channelConfigs(), config.SMTPConfig{Host: "localhost", Port: 25}, time.Second, nil)
	require.NoError(t, err)

	chs := r.Channels()
	require.Len(t, chs, 3)
	assert.Equal(t, "hook-a", chs[0].ID)
	assert.Equal(t, "ops", chs[2].ID)
	assert.Equal(t, TypeEmail, chs[2].Type)
}

func TestNewRegistry_Rejections(t *testing.T) {
	tests := []struct {
		name string
		cfgs []config.ChannelConfig
	}{
		{"duplicate id", []config.ChannelConfig{
			{ID: "x", Type: "webhook", Address: "http://x"},
			{ID: "x", Type: "webhook", Address: "http://y"},
		}},
		{"unknown type", []config.ChannelConfig{{ID: "x", Type: "sms", Address: "+1"}}},
		{"empty address", []config.ChannelConfig{{ID: "x", Type: "webhook", AddressEnv: "PIPEWATCH_UNSET_HOOK"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.cfgs, config.SMTPConfig{}, time.Second, nil)
			assert.Error(t, err)
		})
	}
}

func TestValidate_UnknownChannel(t *testing.T) {
	r, err := NewRegistry(channelConfigs(), config.SMTPConfig{}, time.Second, nil)
	require.NoError(t, err)

	assert.NoError(t, r.Validate([]string{"hook-a", "ops"}))
	err = r.Validate([]string{"hook-a", "pager"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}

func TestDispatch_FailureDoesNotBlockSiblings(t *testing.T) {
	r, err := NewRegistry(channelConfigs(), config.SMTPConfig{}, time.Second, nil)
	require.NoError(t, err)

	rec := &recordingSender{fail: map[string]bool{"hook-a": true}}
	r.SetSender(TypeWebhook, rec)
	r.SetSender(TypeEmail, rec)

	r.Dispatch(context.Background(), []string{"hook-a", "hook-b", "ops"}, Notification{Policy: "job-error"})
	r.Wait()

	assert.ElementsMatch(t, []string{"hook-a", "hook-b", "ops"}, rec.delivered())
}

func TestDispatch_SlowChannelIsBounded(t *testing.T) {
	r, err := NewRegistry(channelConfigs(), config.SMTPConfig{}, 50*time.Millisecond, nil)
	require.NoError(t, err)

	rec := &recordingSender{block: map[string]bool{"hook-a": true}}
	r.SetSender(TypeWebhook, rec)

	start := time.Now()
	r.Dispatch(context.Background(), []string{"hook-a", "hook-b"}, Notification{Policy: "p"})
	assert.Less(t, time.Since(start), 40*time.Millisecond, "Dispatch must not wait for delivery")

	r.Wait()
	assert.Equal(t, []string{"hook-b"}, rec.delivered())
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_SurvivesCallerCancellation(t *testing.T) {
	r, err := NewRegistry(channelConfigs(), config.SMTPConfig{}, time.Second, nil)
	require.NoError(t, err)
	rec := &recordingSender{}
	r.SetSender(TypeWebhook, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Dispatch(ctx, []string{"hook-a"}, Notification{Policy: "p"})
	r.Wait()

	assert.Equal(t, []string{"hook-a"}, rec.delivered())
}

func TestSummary(t *testing.T) {
	lastOK := time.Date(2024, 8, 12, 0, 0, 0, 0, time.UTC)
	n := Notification{
		Policy:   "job-error",
		Severity: "critical",
		Triggers: []Trigger{
			{Metric: "job_error", Job: "loader", Value: 1, RunIDs: []string{"r-1"}},
			{Metric: "absence", Job: "collector", LastOK: &lastOK, Silence: 2*time.Hour + 30*time.Second},
		},
	}
	assert.Equal(t, "[CRITICAL] job-error fired: job_error[loader]=1 run_id=r-1; collector silent for 2h0m30s", n.Summary())
}

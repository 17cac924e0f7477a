package config

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"
)

const runningYAML = `monitor:
  window: 300s
  channels:
    - id: ops
      type: webhook
      address: http://hooks.local/ops
    - id: oncall
      type: webhook
      address: http://hooks.local/oncall
  policies:
    - name: job-error
      condition: job_error > 0
      channels: [ops]
    - name: dq-failure
      condition: dq_fail > 0
      channels: [ops]
`

// editedYAML tightens job-error, drops dq-failure, adds a silence policy and
// repoints the oncall hook.
const editedYAML = `monitor:
  window: 600s
  channels:
    - id: ops
      type: webhook
      address: http://hooks.local/ops
    - id: oncall
      type: webhook
      address: http://hooks.local/pager
  policies:
    - name: job-error
      condition: job_error > 0
      severity: critical
      channels: [ops, oncall]
    - name: collector-silence
      condition: absence
      job: collector
      channels: [oncall]
`

func mustParse(t *testing.T, body string) MonitorConfig {
	t.Helper()
	cfg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg.Monitor
}

func TestDiff(t *testing.T) {
	running := mustParse(t, runningYAML)

	if d := Diff(running, running); !d.Empty() {
		t.Fatalf("identical configs: got %+v", d)
	}

	d := Diff(running, mustParse(t, editedYAML))
	want := Drift{
		Policies: Changes{Added: []string{"collector-silence"}, Removed: []string{"dq-failure"}, Changed: []string{"job-error"}},
		Channels: Changes{Changed: []string{"oncall"}},
		Settings: []string{"window"},
	}
	if !reflect.DeepEqual(d, want) {
		t.Errorf("Diff:\n got %+v\nwant %+v", d, want)
	}
}

func TestWatch_ReportsDrift(t *testing.T) {
	p := writeConfig(t, runningYAML)
	running := mustParse(t, runningYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drifts := make(chan Drift, 16)
	go Watch(ctx, p, running, func(d Drift) { //nolint:errcheck
		select {
		case drifts <- d:
		default:
		}
	})

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte(editedYAML), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	// WriteFile truncates first, so a reload of the empty file may be
	// reported before the final content.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-drifts:
			if reflect.DeepEqual(d.Policies.Removed, []string{"dq-failure"}) {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not report the edit")
		}
	}
}

func TestWatch_IgnoresUnchangedSave(t *testing.T) {
	p := writeConfig(t, runningYAML)
	running := mustParse(t, runningYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drifts := make(chan Drift, 16)
	go Watch(ctx, p, running, func(d Drift) { drifts <- d }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte(runningYAML), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case d := <-drifts:
		// A truncated intermediate file drops every policy; anything else is
		// a spurious report.
		if len(d.Policies.Removed) != 2 {
			t.Fatalf("unexpected drift for an identical save: %+v", d)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

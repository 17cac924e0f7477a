package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/fsnotify/fsnotify"
)

// Changes names the entries of one config list that differ between two
// configs, keyed by name or id.
type Changes struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Drift is the difference between the running monitor config and an edited
// file. Every field needs a restart to take effect.
type Drift struct {
	Policies Changes
	Channels Changes
	Jobs     Changes

	// Settings lists changed scalar keys such as "window".
	Settings []string
}

// Empty reports whether the edit leaves the monitor unchanged.
func (d Drift) Empty() bool {
	return d.Policies.Empty() && d.Channels.Empty() && d.Jobs.Empty() && len(d.Settings) == 0
}

// Diff compares an edited monitor config against the running one.
func Diff(running, edited MonitorConfig) Drift {
	d := Drift{
		Policies: diffNamed(running.Policies, edited.Policies, func(p PolicyConfig) string { return p.Name }),
		Channels: diffNamed(running.Channels, edited.Channels, func(c ChannelConfig) string { return c.ID }),
		Jobs:     diffNamed(running.Jobs, edited.Jobs, func(j JobConfig) string { return j.Name }),
	}
	settings := []struct {
		key  string
		a, b any
	}{
		{"http_port", running.HTTPPort, edited.HTTPPort},
		{"log_level", running.LogLevel, edited.LogLevel},
		{"window", running.Window, edited.Window},
		{"heartbeat_tick", running.HeartbeatTick, edited.HeartbeatTick},
		{"dq_job", running.DQJob, edited.DQJob},
		{"notify_timeout", running.NotifyTimeout, edited.NotifyTimeout},
		{"ingest", running.Ingest, edited.Ingest},
		{"smtp", running.SMTP, edited.SMTP},
	}
	for _, s := range settings {
		if !reflect.DeepEqual(s.a, s.b) {
			d.Settings = append(d.Settings, s.key)
		}
	}
	return d
}

func diffNamed[T any](running, edited []T, name func(T) string) Changes {
	old := make(map[string]T, len(running))
	for _, v := range running {
		old[name(v)] = v
	}
	var c Changes
	seen := make(map[string]bool, len(edited))
	for _, v := range edited {
		n := name(v)
		seen[n] = true
		prev, ok := old[n]
		switch {
		case !ok:
			c.Added = append(c.Added, n)
		case !reflect.DeepEqual(prev, v):
			c.Changed = append(c.Changed, n)
		}
	}
	for n := range old {
		if !seen[n] {
			c.Removed = append(c.Removed, n)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}

// Watch monitors path and calls onDrift whenever a saved edit differs from
// running. It runs until ctx is cancelled.
//
// Policies and channels are fixed once the monitor starts, so onDrift reports
// what a restart would change rather than applying it. An edit that fails to
// parse or validate is logged and skipped.
func Watch(ctx context.Context, path string, running MonitorConfig, onDrift func(Drift)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so atomic saves that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	slog.Info("config: watching for changes", "path", path)

	var last Drift
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: edited file rejected", "path", path, "err", err)
				continue
			}
			d := Diff(running, cfg.Monitor)
			if reflect.DeepEqual(d, last) {
				continue
			}
			last = d
			if !d.Empty() {
				onDrift(d)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

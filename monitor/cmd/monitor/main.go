package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipewatch/pipewatch/monitor/internal/alerts"
	"github.com/pipewatch/pipewatch/monitor/internal/api"
	"github.com/pipewatch/pipewatch/monitor/internal/auth"
	"github.com/pipewatch/pipewatch/monitor/internal/config"
	"github.com/pipewatch/pipewatch/monitor/internal/control"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/ingest"
	"github.com/pipewatch/pipewatch/monitor/internal/notify"
	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/monitor/internal/ws"
	"github.com/pipewatch/pipewatch/pkg/types"
)

func main() {
	configPath := flag.String("config", "pipewatch.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("pipewatch-monitor starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	m := cfg.Monitor
	if err := level.UnmarshalText([]byte(m.LogLevel)); err != nil {
		slog.Error("invalid log level", "log_level", m.LogLevel, "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", m.HTTPPort,
		"window", m.Window,
		"heartbeat_tick", m.HeartbeatTick,
		"jobs", len(m.Jobs),
		"channels", len(m.Channels),
		"policies", len(m.Policies),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := telemetry.NewPrometheusSink(reg)

	notifier, err := notify.NewRegistry(m.Channels, m.SMTP, m.NotifyTimeout, sink)
	if err != nil {
		slog.Error("failed to build notification channels", "err", err)
		os.Exit(1)
	}
	engine, err := alerts.New(m, notifier, sink)
	if err != nil {
		slog.Error("failed to build alert policies", "err", err)
		os.Exit(1)
	}

	extractor := counters.New(m.Window, m.DQJob, sink)
	hb := heartbeat.New(m.SilenceWindows(), time.Now(), sink)
	st := status.New(status.DefaultRetention)
	loop := control.New(extractor, hb, st, engine, m.HeartbeatTick)
	dec := ingest.NewDecoder(types.NewCatalog(m.JobNames()...), loop.Handle, sink)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	deps := api.Deps{
		Status:    st,
		Heartbeat: hb,
		Extractor: extractor,
		Engine:    engine,
		Decoder:   dec,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if m.Ingest.HTTP.Enabled {
		deps.Push = auth.RequireAPIKey(m.Ingest.HTTP.EffectiveHeader(), m.Ingest.HTTP.Key(), ingest.NewPushHandler(dec))
	}
	snapshotDeps := deps
	hub := ws.New(func() api.SnapshotResponse { return api.BuildSnapshot(snapshotDeps) }, ws.DefaultKeepalive)
	loop.OnChange(hub.Publish)
	deps.Stream = hub
	run(func() { hub.Run(ctx) })
	run(func() { loop.Run(ctx) })

	// Ingest sources.
	if m.Ingest.File.Path != "" {
		tailer := ingest.NewFileTailer(m.Ingest.File.Path, m.Ingest.File.FromStart, dec)
		run(func() {
			if err := tailer.Run(ctx); err != nil {
				slog.Error("events file tailer stopped", "err", err)
			}
		})
	}
	if m.Ingest.Redis.Addr != "" {
		sub := ingest.NewRedisSubscriber(m.Ingest.Redis, dec)
		run(func() {
			sub.Run(ctx)
			sub.Close() //nolint:errcheck
		})
	}

	// Policies and channels are fixed for the life of the process.
	run(func() {
		err := config.Watch(ctx, *configPath, m, func(d config.Drift) {
			slog.Warn("config file changed; restart required to apply",
				"path", *configPath,
				"policies", d.Policies,
				"channels", d.Channels,
				"jobs", d.Jobs,
				"settings", d.Settings,
			)
		})
		if err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", m.HTTPPort),
		Handler:           api.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", m.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("pipewatch-monitor shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	wg.Wait()
	notifier.Wait()
	slog.Info("pipewatch-monitor stopped")
}

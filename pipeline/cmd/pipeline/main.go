package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pipeline/internal/config"
	"github.com/pipewatch/pipewatch/pipeline/internal/jobs"
	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
	"github.com/pipewatch/pipewatch/pipeline/internal/quotes"
	"github.com/pipewatch/pipewatch/pipeline/internal/runner"
	"github.com/pipewatch/pipewatch/pipeline/internal/schedule"
	"github.com/pipewatch/pipewatch/pipeline/internal/trigger"
	"github.com/pipewatch/pipewatch/pkg/types"
)

var configFile string

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipewatch-pipeline",
		Short:         "Daily market-data pipeline jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "pipewatch.yaml", "config file path")

	root.AddCommand(buildServeCommand())
	root.AddCommand(buildRunCommand())
	root.AddCommand(buildJobsCommand())
	return root
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP job trigger and run the cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func buildRunCommand() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job for one reference date and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.OutOrStdout(), args[0], date)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "reference date YYYY-MM-DD (default today in the configured time zone)")
	return cmd
}

func buildJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs and their schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return listJobs(cmd.OutOrStdout(), cfg.Pipeline)
		},
	}
}

func listJobs(w io.Writer, p config.PipelineConfig) error {
	schedules := make(map[string]string, len(p.Jobs))
	for _, j := range p.Jobs {
		schedules[j.Name] = j.Schedule
	}
	for _, name := range jobs.Names() {
		s, ok := schedules[name]
		switch {
		case !ok:
			s = "(not configured)"
		case s == "":
			s = "(trigger only)"
		}
		if _, err := fmt.Fprintf(w, "%-18s %s\n", name, s); err != nil {
			return err
		}
	}
	return nil
}

// app holds the wiring shared by serve and run.
type app struct {
	cfg     config.PipelineConfig
	loc     *time.Location
	store   *partition.Store
	runner  *runner.Runner
	reg     *prometheus.Registry
	closers []io.Closer
}

func setup(ctx context.Context) (*app, error) {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	p := cfg.Pipeline
	if err := level.UnmarshalText([]byte(p.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", p.LogLevel, err)
	}
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: p, loc: loc, reg: prometheus.NewRegistry()}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := partition.Open(ctx, p.Database.Driver, p.Database.ResolvedDSN())
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store)

	env := &jobs.Env{
		Store:          store,
		Symbols:        p.Symbols,
		CandleInterval: p.CandleInterval,
		FastSMA:        p.SMA.Fast,
		SlowSMA:        p.SMA.Slow,
		SignalWebhook:  p.SignalWebhook(),
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	}
	if p.QuoteSource.URL != "" {
		qc, err := quotes.New(p.QuoteSource)
		if err != nil {
			a.close()
			return nil, err
		}
		env.Quotes = qc
	}

	events, err := runner.OpenEventLog(p.Events.Path)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, events)
	emitters := []runner.Emitter{events}
	if p.Events.Redis.Addr != "" {
		pub := runner.NewRedisPublisher(p.Events.Redis)
		a.closers = append(a.closers, pub)
		emitters = append(emitters, pub)
	}

	a.runner = runner.New(env, runner.NewMetrics(a.reg), emitters...)

	slog.Info("config loaded",
		"driver", p.Database.Driver,
		"timezone", p.Timezone,
		"symbols", len(p.Symbols),
		"events", p.Events.Path,
		"redis", p.Events.Redis.Addr != "",
	)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close() //nolint:errcheck
	}
}

func runOnce(w io.Writer, job, date string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		slog.Error("failed to start", "err", err)
		return err
	}
	defer a.close()

	if date == "" {
		date = time.Now().In(a.loc).Format(types.DateLayout)
	}
	out, err := a.runner.Run(ctx, job, date)
	if err != nil {
		slog.Error("run rejected", "job", job, "err", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if out.Status == types.StatusError {
		return errors.New(out.Reason)
	}
	return nil
}

func serve() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		slog.Error("failed to start", "err", err)
		return err
	}
	defer a.close()

	slog.Info("pipewatch-pipeline starting", "config", configFile)

	sched, err := schedule.New(a.cfg.Jobs, a.runner, a.loc)
	if err != nil {
		slog.Error("failed to build schedule", "err", err)
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	for _, e := range sched.Entries() {
		slog.Info("job scheduled", "job", e.Job, "schedule", e.Schedule)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           trigger.New(a.runner, a.loc, promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", a.cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("pipewatch-pipeline shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	wg.Wait()
	slog.Info("pipewatch-pipeline stopped")
	return nil
}

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pipewatch/pipewatch/pipeline/internal/config"
	"github.com/pipewatch/pipewatch/pipeline/internal/runner"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// JobRunner runs one job for one date.
type JobRunner interface {
	Run(ctx context.Context, job, date string) (runner.Outcome, error)
}

// Entry describes one scheduled job.
type Entry struct {
	Job      string    `json:"job"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

type scheduled struct {
	entry Entry
	spec  cron.Schedule
}

// Scheduler holds the parsed job schedules. The cron instance that fires
// them lives for one call to Run.
type Scheduler struct {
	jobs   []scheduled
	runner JobRunner
	loc    *time.Location
	now    func() time.Time
}

// Parser accepts standard five-field expressions.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New builds a scheduler for every job with a non-empty schedule.
func New(jobs []config.JobConfig, r JobRunner, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{runner: r, loc: loc, now: time.Now}
	for _, j := range jobs {
		if j.Schedule == "" {
			continue
		}
		spec, err := Parser.Parse(j.Schedule)
		if err != nil {
			return nil, fmt.Errorf("schedule: job %q: parse %q: %w", j.Name, j.Schedule, err)
		}
		s.jobs = append(s.jobs, scheduled{entry: Entry{Job: j.Name, Schedule: j.Schedule}, spec: spec})
	}
	sort.Slice(s.jobs, func(a, b int) bool { return s.jobs[a].entry.Job < s.jobs[b].entry.Job })
	return s, nil
}

func (s *Scheduler) fire(ctx context.Context, job string) {
	date := s.now().In(s.loc).Format(types.DateLayout)
	slog.Info("schedule: firing job", "job", job, "reference_date", date)
	if _, err := s.runner.Run(ctx, job, date); err != nil {
		slog.Error("schedule: job rejected", "job", job, "err", err)
	}
}

// Entries returns the scheduled jobs with their next activation, ordered by
// job name.
func (s *Scheduler) Entries() []Entry {
	now := s.now().In(s.loc)
	out := make([]Entry, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.entry
		out[i].Next = j.spec.Next(now)
	}
	return out
}

// Run starts firing jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish. Runs are not cancelled by ctx.
func (s *Scheduler) Run(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	for _, j := range s.jobs {
		job := j.entry.Job
		c.Schedule(j.spec, cron.FuncJob(func() { s.fire(runCtx, job) }))
	}

	c.Start()
	slog.Info("schedule: started", "jobs", len(s.jobs), "location", s.loc.String())
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("schedule: stopped")
}

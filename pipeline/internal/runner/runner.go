package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/pipeline/internal/jobs"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// Input errors. A rejected request is not a run and emits no event.
var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrInvalidDate = errors.New("invalid reference date")
)

// Outcome summarises one run.
type Outcome struct {
	RunID         string          `json:"run_id"`
	Job           string          `json:"job_name"`
	ReferenceDate string          `json:"reference_date"`
	Status        types.Status    `json:"status"`
	Rows          int64           `json:"rows"`
	Reason        string          `json:"reason,omitempty"`
	Checks        []types.DQCheck `json:"checks,omitempty"`
	Duration      time.Duration   `json:"-"`
}

// Runner executes jobs against a shared Env. It keeps no per-run state, so
// concurrent runs are independent.
type Runner struct {
	env      *jobs.Env
	emitters []Emitter
	metrics  *Metrics

	lookup func(string) (jobs.Func, bool)
	now    func() time.Time
	newID  func() string
}

// New returns a Runner that emits every terminal event to each emitter in order.
func New(env *jobs.Env, metrics *Metrics, emitters ...Emitter) *Runner {
	return &Runner{
		env:      env,
		emitters: emitters,
		metrics:  metrics,
		lookup:   jobs.Lookup,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Jobs returns the names the runner accepts.
func (r *Runner) Jobs() []string {
	return jobs.Names()
}

// Run executes job for date (YYYY-MM-DD) and emits its terminal event. The
// returned error is non-nil only when the request is rejected before the run
// starts; job failures are reported through Outcome.Status.
func (r *Runner) Run(ctx context.Context, job, date string) (Outcome, error) {
	fn, ok := r.lookup(job)
	if !ok {
		return Outcome{}, fmt.Errorf("%w %q", ErrUnknownJob, job)
	}
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return Outcome{}, fmt.Errorf("%w %q: want YYYY-MM-DD", ErrInvalidDate, date)
	}

	out := Outcome{RunID: r.newID(), Job: job, ReferenceDate: date}
	log := slog.With("job", job, "run_id", out.RunID, "reference_date", date)
	log.Info("runner: job started")

	start := r.now()
	res, err := r.execute(ctx, fn, date)
	out.Duration = r.now().Sub(start)

	switch {
	case err != nil:
		out.Status = types.StatusError
		out.Reason = err.Error()
		log.Error("runner: job failed", "err", err, "duration", out.Duration)
	default:
		out.Status = res.Status
		if out.Status == "" {
			out.Status = types.StatusOK
		}
		out.Rows = res.Rows
		out.Reason = res.Reason
		out.Checks = res.Checks
		log.Info("runner: job finished", "status", out.Status, "rows", out.Rows, "duration", out.Duration)
	}

	r.metrics.observe(job, out.Status, out.Rows, out.Duration)
	r.emit(ctx, r.event(out))
	return out, nil
}

// execute runs fn, converting a panic into an error.
func (r *Runner) execute(ctx context.Context, fn jobs.Func, date string) (res jobs.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, r.env, date)
}

func (r *Runner) event(out Outcome) types.JobEvent {
	details := map[string]any{
		"rows":        out.Rows,
		"duration_ms": out.Duration.Milliseconds(),
	}
	if len(out.Checks) > 0 {
		details["checks"] = out.Checks
	}
	return types.JobEvent{
		JobName:       out.Job,
		RunID:         out.RunID,
		Status:        out.Status,
		ReferenceDate: out.ReferenceDate,
		Timestamp:     r.now().UTC(),
		Reason:        out.Reason,
		Details:       details,
	}
}

// emit delivers ev to every emitter. The run has already finished, so a
// delivery failure is logged and never changes the outcome. Emission
// survives cancellation of ctx.
func (r *Runner) emit(ctx context.Context, ev types.JobEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range r.emitters {
		if err := e.Emit(ctx, ev); err != nil {
			slog.Error("runner: event emit failed", "job", ev.JobName, "run_id", ev.RunID, "err", err)
		}
	}
}

// Package jobs runs the clinic's scheduled work (reminders, alert digests,
// cleanup) on cron schedules in the clinic timezone. Any job can also be run
// once on demand.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/telemetry"
)

// Func is one unit of scheduled work.
type Func func(ctx context.Context) error

var ErrUnknownJob = errors.New("unknown job")

// DefaultTimeout bounds a single run.
const DefaultTimeout = 5 * time.Minute

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type job struct {
	name     string
	schedule string
	fn       Func
}

type Runner struct {
	mu      sync.Mutex
	jobs    map[string]*job
	cron    *cron.Cron
	loc     *time.Location
	timeout time.Duration
	logger  zerolog.Logger
	base    context.Context
}

func NewRunner(loc *time.Location, logger zerolog.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "jobs").Logger()
	return &Runner{
		jobs:    make(map[string]*job),
		loc:     loc,
		timeout: DefaultTimeout,
		logger:  l,
		base:    context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
			cron.WithLogger(cronLogger{l}),
		),
	}
}

// SetTimeout changes the per-run deadline.
func (r *Runner) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register adds a job. An empty schedule registers it for on-demand runs
// only.
func (r *Runner) Register(name, schedule string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	if schedule != "" {
		if _, err := parser.Parse(schedule); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", name, schedule, err)
		}
		if _, err := r.cron.AddFunc(schedule, func() { _ = r.run(r.base, j) }); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}
	r.jobs[name] = j
	return nil
}

// Names lists registered jobs in order.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunOnce runs name immediately and returns its error.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, j)
}

func (r *Runner) run(ctx context.Context, j *job) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(start)
	telemetry.RecordJobRun(j.name, elapsed, err)

	if err != nil {
		r.logger.Error().Err(err).Str("job", j.name).Dur("duration", elapsed).Msg("job failed")
		return err
	}
	r.logger.Info().Str("job", j.name).Dur("duration", elapsed).Msg("job finished")
	return nil
}

// Start begins scheduling. Runs triggered by the scheduler inherit ctx, so
// cancelling it aborts in-flight jobs.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
	r.cron.Start()
	for _, e := range r.cron.Entries() {
		r.logger.Debug().Time("next", e.Next).Msg("job scheduled")
	}
	r.logger.Info().Strs("jobs", r.Names()).Str("timezone", r.loc.String()).Msg("scheduler started")
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.logger.Warn().Msg("scheduler stop timed out")
	}
}

// Next returns the next scheduled time for name after t.
func (r *Runner) Next(name string, t time.Time) (time.Time, error) {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.schedule == "" {
		return time.Time{}, nil
	}
	sched, err := parser.Parse(j.schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(r.loc)), nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

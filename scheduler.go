package steward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one recurring background task. Run must honor ctx cancellation;
// the scheduler wraps each run in the job's timeout.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Enabled  bool
	Run      func(ctx context.Context) error
}

// JobStatus is the last observed outcome of a job.
type JobStatus struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
}

// Scheduler runs registered jobs on fixed intervals, one goroutine per job.
// A tick that arrives while the previous run is still in flight is skipped,
// never queued. Job failures are logged and counted; they never stop the
// ticker or affect other jobs.
type Scheduler struct {
	jobs   []*scheduledJob
	tracer Tracer
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	grace  time.Duration
}

type scheduledJob struct {
	job      Job
	inFlight atomic.Bool
	mu       sync.Mutex
	lastRun  time.Time
	lastErr  string
	runs     atomic.Int64
	failures atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithSchedulerTracer sets the tracer.
func WithSchedulerTracer(t Tracer) SchedulerOption {
	return func(s *Scheduler) { s.tracer = t }
}

// WithShutdownGrace bounds how long Stop waits for in-flight runs (default 10s).
func WithShutdownGrace(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.grace = d }
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{logger: nopLogger, grace: 10 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a job before Start. Intervals must be positive.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("register job: empty name")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("register job %q: non-positive interval", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("register job %q: nil run func", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = job.Interval
	}
	for _, existing := range s.jobs {
		if existing.job.Name == job.Name {
			return fmt.Errorf("register job %q: already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, &scheduledJob{job: job})
	return nil
}

// Start launches one ticker goroutine per enabled job. Disabled jobs stay
// registered for Status visibility but never run.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, sj := range s.jobs {
		if !sj.job.Enabled {
			continue
		}
		s.wg.Add(1)
		go s.runLoop(ctx, sj)
	}
}

// Stop cancels all tickers and waits up to the shutdown grace for in-flight
// runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		s.logger.Warn("scheduler shutdown grace expired with jobs still running")
	}
}

// Status reports every registered job.
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, sj := range s.jobs {
		sj.mu.Lock()
		st := JobStatus{
			Name:      sj.job.Name,
			Enabled:   sj.job.Enabled,
			Running:   sj.inFlight.Load(),
			LastRun:   sj.lastRun,
			LastError: sj.lastErr,
			Runs:      sj.runs.Load(),
			Failures:  sj.failures.Load(),
		}
		sj.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) runLoop(ctx context.Context, sj *scheduledJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(sj.job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, sj)
		}
	}
}

// runOnce executes one job run with overlap skip, a per-run timeout, and
// panic isolation.
func (s *Scheduler) runOnce(ctx context.Context, sj *scheduledJob) {
	if !sj.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("job still running, tick skipped", "job", sj.job.Name)
		return
	}
	defer sj.inFlight.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, sj.job.Timeout)
	defer cancel()
	runCtx, span := startSpan(runCtx, s.tracer, "job.run", StringAttr("job", sj.job.Name))
	defer endSpan(span)

	start := time.Now()
	err := s.safeRun(runCtx, sj.job)
	sj.runs.Add(1)

	sj.mu.Lock()
	sj.lastRun = start
	if err != nil {
		sj.lastErr = err.Error()
	} else {
		sj.lastErr = ""
	}
	sj.mu.Unlock()

	if err != nil {
		sj.failures.Add(1)
		spanError(span, err)
		s.logger.Error("job failed", "job", sj.job.Name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job completed", "job", sj.job.Name, "duration", time.Since(start))
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %q panic: %v", job.Name, p)
		}
	}()
	return job.Run(ctx)
}

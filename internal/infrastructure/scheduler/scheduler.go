// Package scheduler runs the engine's periodic background jobs on top of
// gocron: expiring multiplier sweeps and snapshot flushes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobPanic                = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
	ErrSchedulerStopped        = errors.New("scheduler was stopped")
)

// ══════════════════════════════════════════════════════════════════════════════
// JOBS AND SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work. Run receives a context that is cancelled
// on Stop or when the per-run timeout elapses.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule tells gocron when a job is due.
type Schedule interface {
	definition() (gocron.JobDefinition, error)
	String() string
}

// IntervalSchedule fires every Interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a fixed-interval schedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) definition() (gocron.JobDefinition, error) {
	if s.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidSchedule, s.Interval)
	}
	return gocron.DurationJob(s.Interval), nil
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// CronSchedule fires on a 5-field crontab expression such as "0 3 * * *".
type CronSchedule struct {
	Expression string
}

func (s *CronSchedule) definition() (gocron.JobDefinition, error) {
	if n := len(strings.Fields(s.Expression)); n != 5 {
		return nil, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidSchedule, s.Expression, n)
	}
	return gocron.CronJob(s.Expression, false), nil
}

func (s *CronSchedule) String() string { return s.Expression }

// ParseSchedule accepts either a Go duration ("30s", "5m") or a crontab
// expression.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	var s Schedule = &CronSchedule{Expression: expr}
	if d, err := time.ParseDuration(expr); err == nil {
		s = NewIntervalSchedule(d)
	}
	if _, err := s.definition(); err != nil {
		return nil, err
	}
	return s, nil
}

// JobResult describes one run.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	Manual    bool
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone for cron schedules.
	Timezone *time.Location

	// JobTimeout bounds every run. Zero means no limit.
	JobTimeout time.Duration
}

// DefaultSchedulerConfig returns UTC with a 30s run limit.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:     slog.Default(),
		Timezone:   time.UTC,
		JobTimeout: 30 * time.Second,
	}
}

// Scheduler owns a gocron scheduler and the jobs registered on it.
type Scheduler struct {
	cron       gocron.Scheduler
	logger     *slog.Logger
	jobTimeout time.Duration
	metrics    *SchedulerMetrics

	// ctx is cancelled by Stop and parents every run.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*entry
	running bool
}

type entry struct {
	job      Job
	schedule Schedule
	handle   gocron.Job
	last     *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(cfg.Timezone))
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron,
		logger:     cfg.Logger.With("component", "scheduler"),
		jobTimeout: cfg.JobTimeout,
		metrics:    NewSchedulerMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*entry),
	}, nil
}

// Register adds job under its name. Runs of one job never overlap: a tick
// that arrives while the previous run is still going is skipped.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}
	def, err := schedule.definition()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{job: job, schedule: schedule}
	e.handle, err = s.cron.NewJob(def,
		gocron.NewTask(func() { s.run(s.ctx, e, false) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchedule, name, err)
	}
	s.jobs[name] = e

	s.logger.Info("job registered", "job", name, "schedule", schedule.String(), "description", job.Description())
	return nil
}

// Start begins firing registered jobs. A stopped scheduler cannot restart.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.running:
		return ErrSchedulerAlreadyRunning
	case s.ctx.Err() != nil:
		return ErrSchedulerStopped
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels in-flight runs and waits for them. Stopping a scheduler that
// never started only releases gocron.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running && s.ctx.Err() != nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown gocron: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether Start succeeded and Stop was not called.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.run(ctx, e, true)
	return res, res.Err
}

func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	name := e.job.Name()
	res := JobResult{JobName: name, StartedAt: time.Now(), Manual: manual}
	res.Err = safeRun(ctx, e.job)
	res.Duration = time.Since(res.StartedAt)

	s.metrics.RecordExecution(name, res.Duration, res.Err == nil)
	s.mu.Lock()
	e.last = &res
	s.mu.Unlock()

	if res.Err != nil {
		s.logger.Error("job failed", "job", name, "manual", manual, "duration", res.Duration.String(), "error", res.Err)
	} else {
		s.logger.Debug("job completed", "job", name, "manual", manual, "duration", res.Duration.String())
	}
	return res
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobStatus is the health view of one job.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Status is the health view of the scheduler.
type Status struct {
	Running bool            `json:"running"`
	Jobs    []JobStatus     `json:"jobs"`
	Metrics MetricsSnapshot `json:"metrics"`
}

// Status reports every job sorted by name together with run metrics.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Running: s.running, Metrics: s.metrics.Snapshot()}
	for name, e := range s.jobs {
		js := JobStatus{Name: name, Schedule: e.schedule.String()}
		if s.running {
			if next, err := e.handle.NextRun(); err == nil && !next.IsZero() {
				js.NextRun = &next
			}
		}
		if e.last != nil {
			at := e.last.StartedAt
			js.LastRun = &at
			if e.last.Err != nil {
				js.LastError = e.last.Err.Error()
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	slices.SortFunc(st.Jobs, func(a, b JobStatus) int { return strings.Compare(a.Name, b.Name) })
	return st
}

// Metrics returns the run counters.
func (s *Scheduler) Metrics() *SchedulerMetrics {
	return s.metrics
}

// SchedulerMetrics counts runs across all jobs.
type SchedulerMetrics struct {
	mu            sync.Mutex
	executions    int64
	failures      int64
	totalDuration time.Duration
	failuresByJob map[string]int64
}

// NewSchedulerMetrics creates empty counters.
func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{failuresByJob: make(map[string]int64)}
}

// RecordExecution counts one run.
func (m *SchedulerMetrics) RecordExecution(job string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions++
	m.totalDuration += d
	if !ok {
		m.failures++
		m.failuresByJob[job]++
	}
}

// MetricsSnapshot is a copy of the counters.
type MetricsSnapshot struct {
	TotalExecutions int64            `json:"total_executions"`
	TotalFailures   int64            `json:"total_failures"`
	FailuresByJob   map[string]int64 `json:"failures_by_job"`
	SuccessRate     float64          `json:"success_rate"`
	AverageDuration time.Duration    `json:"average_duration_ns"`
}

// Snapshot copies the counters.
func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalExecutions: m.executions,
		TotalFailures:   m.failures,
		FailuresByJob:   make(map[string]int64, len(m.failuresByJob)),
	}
	for k, v := range m.failuresByJob {
		snap.FailuresByJob[k] = v
	}
	if m.executions > 0 {
		snap.AverageDuration = m.totalDuration / time.Duration(m.executions)
		snap.SuccessRate = float64(m.executions-m.failures) / float64(m.executions)
	}
	return snap
}

// Package maintenance runs periodic housekeeping for a keepsake store:
// age-based cleanup, scheduled backups and backup retention.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job names
const (
	JobCleanup   = "cleanup"
	JobBackup    = "backup"
	JobRetention = "retention"
)

// Cleaner removes stale records
type Cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Backups creates and prunes backups
type Backups interface {
	CreateBackup(ctx context.Context) (string, error)
	CleanupOldBackups(ctx context.Context, maxCount int) (int, error)
}

// Config holds cron schedules for each job. An empty schedule disables the job.
type Config struct {
	CleanupSchedule   string
	CleanupMaxAge     time.Duration
	BackupSchedule    string
	RetentionSchedule string
	RetainBackups     int
	JobTimeout        time.Duration
}

// DefaultConfig returns nightly cleanup, backup and retention
func DefaultConfig() Config {
	return Config{
		CleanupSchedule:   "0 3 * * *",
		CleanupMaxAge:     30 * 24 * time.Hour,
		BackupSchedule:    "0 4 * * *",
		RetentionSchedule: "30 4 * * *",
		RetainBackups:     10,
		JobTimeout:        5 * time.Minute,
	}
}

// JobResult is the outcome of the last run of a job
type JobResult struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail"`
	Error    string        `json:"error,omitempty"`
}

// JobInfo describes a scheduled job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (string, error)
	entry    cron.EntryID
}

// Runner schedules maintenance jobs with cron. Jobs never overlap.
type Runner struct {
	cfg     Config
	cleaner Cleaner
	backups Backups
	log     *logrus.Logger
	cron    *cron.Cron
	jobs    []*job

	runMu   sync.Mutex
	mu      sync.Mutex
	results map[string]JobResult
}

// NewRunner validates the schedules and registers the enabled jobs
func NewRunner(cleaner Cleaner, backups Backups, cfg Config, log *logrus.Logger) (*Runner, error) {
	if log == nil {
		log = logrus.New()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}

	r := &Runner{
		cfg:     cfg,
		cleaner: cleaner,
		backups: backups,
		log:     log,
		results: make(map[string]JobResult),
	}
	r.cron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log))))

	if cfg.CleanupSchedule != "" {
		if cleaner == nil {
			return nil, fmt.Errorf("cleanup job requires a cleaner")
		}
		if cfg.CleanupMaxAge <= 0 {
			return nil, fmt.Errorf("cleanup max age must be positive")
		}
		r.jobs = append(r.jobs, &job{name: JobCleanup, schedule: cfg.CleanupSchedule, run: r.cleanup})
	}
	if cfg.BackupSchedule != "" {
		if backups == nil {
			return nil, fmt.Errorf("backup job requires a backup manager")
		}
		r.jobs = append(r.jobs, &job{name: JobBackup, schedule: cfg.BackupSchedule, run: r.backup})
	}
	if cfg.RetentionSchedule != "" {
		if backups == nil {
			return nil, fmt.Errorf("retention job requires a backup manager")
		}
		if cfg.RetainBackups < 1 {
			return nil, fmt.Errorf("retention must keep at least one backup, got %d", cfg.RetainBackups)
		}
		r.jobs = append(r.jobs, &job{name: JobRetention, schedule: cfg.RetentionSchedule, run: r.retention})
	}

	for _, j := range r.jobs {
		j := j
		id, err := r.cron.AddFunc(j.schedule, func() { r.runJob(context.Background(), j) })
		if err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", j.name, j.schedule, err)
		}
		j.entry = id
	}
	return r, nil
}

func (r *Runner) cleanup(ctx context.Context) (string, error) {
	n, err := r.cleaner.Cleanup(ctx, r.cfg.CleanupMaxAge)
	return fmt.Sprintf("removed %d records", n), err
}

func (r *Runner) backup(ctx context.Context) (string, error) {
	id, err := r.backups.CreateBackup(ctx)
	return fmt.Sprintf("created %s", id), err
}

func (r *Runner) retention(ctx context.Context) (string, error) {
	n, err := r.backups.CleanupOldBackups(ctx, r.cfg.RetainBackups)
	return fmt.Sprintf("deleted %d backups", n), err
}

func (r *Runner) runJob(ctx context.Context, j *job) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	log := r.log.WithField("job", j.name)
	log.Debug("maintenance job started")

	detail, err := j.run(ctx)
	res := JobResult{Name: j.name, Started: start, Duration: time.Since(start), Detail: detail}
	if err != nil {
		res.Error = err.Error()
		log.WithError(err).Error("maintenance job failed")
	} else {
		log.WithField("detail", detail).Info("maintenance job finished")
	}

	r.mu.Lock()
	r.results[j.name] = res
	r.mu.Unlock()
	return err
}

// RunOnce runs every enabled job immediately, in cleanup, backup, retention
// order. Later jobs still run when an earlier one fails.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range r.jobs {
		if err := r.runJob(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

// ErrUnknownJob is returned by RunJob for a job that is not enabled
var ErrUnknownJob = errors.New("unknown or disabled job")

// RunJob runs a single enabled job immediately and returns its result
func (r *Runner) RunJob(ctx context.Context, name string) (JobResult, error) {
	for _, j := range r.jobs {
		if j.name != name {
			continue
		}
		err := r.runJob(ctx, j)
		r.mu.Lock()
		res := r.results[name]
		r.mu.Unlock()
		return res, err
	}
	return JobResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Start begins running jobs on their schedules
func (r *Runner) Start() {
	r.cron.Start()
	for _, info := range r.Jobs() {
		r.log.WithFields(logrus.Fields{
			"job":      info.Name,
			"schedule": info.Schedule,
			"next":     info.Next,
		}).Info("maintenance job scheduled")
	}
}

// Stop stops scheduling and waits for a running job to finish or ctx to end
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the enabled jobs with their next run time
func (r *Runner) Jobs() []JobInfo {
	out := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, JobInfo{
			Name:     j.name,
			Schedule: j.schedule,
			Next:     r.cron.Entry(j.entry).Next,
		})
	}
	return out
}

// LastResults returns the most recent result of each job that has run
func (r *Runner) LastResults() []JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobResult, 0, len(r.results))
	for _, j := range r.jobs {
		if res, ok := r.results[j.name]; ok {
			out = append(out, res)
		}
	}
	return out
}

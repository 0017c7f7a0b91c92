package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
)

// Job is one scheduled unit of work; Run should be idempotent since a
// crashed leader's lock can expire and be re-acquired by another instance
// mid-run.
type Job struct {
	Name          string
	Schedule      DailyTime
	LockAtMostFor time.Duration
	Run           func(ctx context.Context) error
}

// DailyTime is a time-of-day (hour, minute) a job fires at, in the
// process's local time zone.
type DailyTime struct {
	Hour, Minute int
	Weekday      *time.Weekday // nil = every day
}

// Runner ticks once a minute and fires any Job whose DailyTime matches the
// current local time, guarded by the Group's leader lock so only the
// elected instance executes a given tick.
type Runner struct {
	group *Group
	jobs  []Job

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewRunner builds a Runner bound to group.
func NewRunner(group *Group, jobs []Job) *Runner {
	return &Runner{group: group, jobs: jobs, stopCh: make(chan struct{})}
}

// Start begins the minute-resolution tick loop.
func (r *Runner) Start() {
	go r.run()
}

// Stop stops the loop started by Start.
func (r *Runner) Stop() {
	close(r.stopCh)
}

func (r *Runner) run() {
	logger := log.WithComponent("schedule")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	logger.Info().Msg("job runner started")
	for {
		select {
		case now := <-ticker.C:
			r.tick(now)
		case <-r.stopCh:
			logger.Info().Msg("job runner stopped")
			return
		}
	}
}

func (r *Runner) tick(now time.Time) {
	logger := log.WithComponent("schedule")
	for _, job := range r.jobs {
		if !matches(job.Schedule, now) {
			continue
		}

		acquired, err := r.group.AcquireJobLock(job.Name, job.LockAtMostFor)
		if err != nil {
			logger.Error().Err(err).Str("job", job.Name).Msg("failed to acquire job lock")
			continue
		}
		if !acquired {
			continue
		}

		timer := metrics.NewTimer()
		ctx, cancel := context.WithTimeout(context.Background(), job.LockAtMostFor)
		err = job.Run(ctx)
		cancel()
		timer.ObserveDurationVec(metrics.ScheduledJobDuration, job.Name)

		if err != nil {
			logger.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
		} else {
			logger.Info().Str("job", job.Name).Msg("scheduled job completed")
		}

		if err := r.group.ReleaseJobLock(job.Name); err != nil {
			logger.Warn().Err(err).Str("job", job.Name).Msg("failed to release job lock")
		}
	}
}

func matches(d DailyTime, now time.Time) bool {
	if now.Hour() != d.Hour || now.Minute() != d.Minute {
		return false
	}
	if d.Weekday != nil && now.Weekday() != *d.Weekday {
		return false
	}
	return true
}

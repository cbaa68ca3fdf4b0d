package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/ibeckermayer/renew4me/internal/logging"
)

// RenewJobName is the name the renewal job is registered under
const RenewJobName = "renew"

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

type entry struct {
	id       cron.EntryID
	schedule string
	job      Job
	running  sync.Mutex
}

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	log      logging.Logger

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a new scheduler with the given timezone. Every job run is
// bounded by timeout; zero means unbounded.
func New(timezone string, timeout time.Duration) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %s", timezone)
	}

	log := logging.New("scheduler")
	cronLog := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	return &Scheduler{
		cron:     c,
		jobs:     make(map[string]*entry),
		timezone: loc,
		timeout:  timeout,
		log:      log,
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "0 */6 * * *" (every six hours on the hour)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return errors.Errorf("job %s already scheduled", name)
	}

	e := &entry{schedule: schedule, job: job}
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(context.Background(), name, e); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.WithField("job", name).WithError(err).Error("job failed")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule job %s", name)
	}

	e.id = entryID
	s.jobs[name] = e
	s.log.WithField("job", name).WithField("schedule", schedule).Info("added job")

	return nil
}

// AddRenewJob schedules the renewal job
func (s *Scheduler) AddRenewJob(schedule string, job Job) error {
	return s.AddJob(RenewJobName, schedule, job)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.log.WithField("job", name).Info("removed job")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.WithField("timezone", s.timezone.String()).Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a registered job. It returns ErrJobRunning
// instead of overlapping a run already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}

	return s.execute(ctx, name, e)
}

func (s *Scheduler) execute(ctx context.Context, name string, e *entry) error {
	log := s.log.WithField("job", name)
	if !e.running.TryLock() {
		log.Warn("previous run still in progress, skipping")
		return ErrJobRunning
	}
	defer e.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Info("starting job")
	start := time.Now()

	if err := e.job(ctx); err != nil {
		return err
	}
	log.WithField("took", time.Since(start).Round(time.Millisecond)).Info("job completed")
	return nil
}

// ListJobs returns info about scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))

	for name, e := range s.jobs {
		for _, ce := range entries {
			if ce.ID == e.id {
				infos = append(infos, JobInfo{
					Name:     name,
					Schedule: e.schedule,
					NextRun:  ce.Next,
					LastRun:  ce.Prev,
				})
				break
			}
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

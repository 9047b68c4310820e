package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"

	"authd/cmd/internal/auth/session"
)

// JobTokenStats is the hourly stats snapshot job.
const JobTokenStats = "token_stats"

// Maintenance is the subset of session.Service the scheduler drives.
type Maintenance interface {
	CleanupExpiredTokens(ctx context.Context) (int, error)
	SweepInactiveSessions(ctx context.Context) (int, error)
	PurgeRevokedTokens(ctx context.Context) (int, error)
	TokenStats(ctx context.Context) (session.TokenStats, error)
}

// Observer is notified after every job run.
type Observer interface {
	SweepRun(job string, err error)
}

// Config controls scheduling.
type Config struct {
	// Location is used for cron expressions. Defaults to UTC.
	Location *time.Location

	// Timeout bounds each job run. Defaults to 5 minutes.
	Timeout time.Duration

	// Locker, when set, makes every job singleton across replicas.
	Locker gocron.Locker
}

type job struct {
	name string
	def  gocron.JobDefinition
	run  func(ctx context.Context) (int, error)
}

// Scheduler runs the maintenance jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	svc       Maintenance
	log       *slog.Logger
	obs       Observer
	timeout   time.Duration
	jobs      map[string]job
}

// New builds a scheduler with all jobs registered. Call Start to begin running them.
func New(cfg Config, svc Maintenance, log *slog.Logger, obs Observer) (*Scheduler, error) {
	if svc == nil {
		return nil, fmt.Errorf("sweep: nil maintenance service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	opts := []gocron.SchedulerOption{gocron.WithLocation(cfg.Location)}
	if cfg.Locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(cfg.Locker))
	}
	gs, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("sweep: new scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: gs,
		svc:       svc,
		log:       log,
		obs:       obs,
		timeout:   cfg.Timeout,
		jobs:      make(map[string]job),
	}

	for _, j := range s.definitions() {
		j := j
		s.jobs[j.name] = j

		_, err := gs.NewJob(
			j.def,
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
				defer cancel()
				_, _ = s.execute(ctx, j)
			}),
			gocron.WithName(j.name),
			gocron.WithTags("maintenance", j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = gs.Shutdown()
			return nil, fmt.Errorf("sweep: register %s: %w", j.name, err)
		}
		log.Info("sweep.job.registered", "job", j.name)
	}

	return s, nil
}

func (s *Scheduler) definitions() []job {
	return []job{
		{
			name: session.JobExpiredTokens,
			def:  gocron.CronJob("0 2 * * *", false),
			run:  s.svc.CleanupExpiredTokens,
		},
		{
			name: session.JobInactiveSessions,
			def:  gocron.CronJob("0 3 * * *", false),
			run:  s.svc.SweepInactiveSessions,
		},
		{
			name: session.JobRevokedPurge,
			def:  gocron.CronJob("0 4 * * 0", false),
			run:  s.svc.PurgeRevokedTokens,
		},
		{
			name: JobTokenStats,
			def:  gocron.DurationJob(time.Hour),
			run: func(ctx context.Context) (int, error) {
				st, err := s.svc.TokenStats(ctx)
				return int(st.Active), err
			},
		},
	}
}

// Start begins scheduling. It does not block.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.log.Info("sweep.started", "jobs", s.Jobs())
}

// Shutdown stops scheduling and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes the named job synchronously, bypassing the schedule and lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	j, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("sweep: unknown job %q (known: %v)", name, s.Jobs())
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j job) (int, error) {
	start := time.Now()
	n, err := j.run(ctx)
	if s.obs != nil {
		s.obs.SweepRun(j.name, err)
	}
	if err != nil {
		s.log.Error("sweep.job.fail", "job", j.name, "err", err, "duration", time.Since(start))
		return 0, err
	}
	s.log.Info("sweep.job.ok", "job", j.name, "count", n, "duration", time.Since(start))
	return n, nil
}

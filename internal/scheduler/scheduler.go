// Package scheduler keeps one recurring inbox job per eligible user. Jobs
// run in their own goroutines; cross-process mutual exclusion is the state
// store's active flag, so overlapping ticks only cost a rejected begin.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
	"inboxvetter/pkg/metrics"
)

const (
	// MinInterval is the floor below which requested intervals are raised.
	MinInterval = 60 * time.Second
	// DefaultInterval applies when a user configured no interval.
	DefaultInterval = 5 * time.Minute
)

// RunExecutor is the run lifecycle the scheduler drives.
type RunExecutor interface {
	Execute(ctx context.Context, email string, overrides runconfig.Values, trigger string, nextRunAt *time.Time) (*model.ReportRecord, error)
}

// UserDirectory resolves the accounts and billing state jobs are gated on.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	GetSubscription(ctx context.Context, email string) (*model.Subscription, error)
}

// CredentialChecker reports whether a user has usable mailbox credentials.
type CredentialChecker interface {
	HasCredentials(ctx context.Context, email string) (bool, error)
}

type job struct {
	email    string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns the map of per-user recurring jobs.
type Scheduler struct {
	executor    RunExecutor
	users       UserDirectory
	credentials CredentialChecker
	logger      *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

func New(executor RunExecutor, users UserDirectory, credentials CredentialChecker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		executor:    executor,
		users:       users,
		credentials: credentials,
		logger:      logger,
		jobs:        make(map[string]*job),
	}
}

// NormalizeInterval clamps a requested interval to the supported range.
func NormalizeInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return DefaultInterval
	}
	if interval < MinInterval {
		return MinInterval
	}
	return interval
}

// IntervalFromSettings reads the user's configured run interval.
func IntervalFromSettings(settings model.Settings) time.Duration {
	var raw any
	if settings != nil {
		raw = settings["runIntervalSeconds"]
	}
	seconds := runconfig.NumberFrom(raw, DefaultInterval.Seconds(), runconfig.Bounds{Min: 1, Round: true})
	return NormalizeInterval(time.Duration(seconds) * time.Second)
}

// StartForUser schedules a recurring job for the user. Starting an already
// scheduled user with the same interval is a no-op; a different interval
// replaces the job. The first run fires immediately.
func (s *Scheduler) StartForUser(ctx context.Context, email string, interval time.Duration) {
	interval = NormalizeInterval(interval)

	s.mu.Lock()
	if existing, ok := s.jobs[email]; ok {
		if existing.interval == interval {
			s.mu.Unlock()
			return
		}
		s.stopLocked(existing)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		email:    email,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.jobs[email] = j
	metrics.ScheduledJobs.Inc()
	s.mu.Unlock()

	s.logger.Info("Scheduled recurring inbox job",
		zap.String("email", email),
		zap.Duration("interval", interval),
	)
	go s.loop(jobCtx, j)
}

// StopForUser cancels the user's job if one exists.
func (s *Scheduler) StopForUser(email string) {
	s.mu.Lock()
	j, ok := s.jobs[email]
	if ok {
		s.stopLocked(j)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Info("Stopped inbox job", zap.String("email", email))
	}
}

// StopAll cancels every job and waits for their loops to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	for _, j := range jobs {
		s.stopLocked(j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		<-j.done
	}
}

// Scheduled reports whether the user currently has a job.
func (s *Scheduler) Scheduled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[email]
	return ok
}

// Bootstrap schedules jobs for every eligible user. Called once at startup
// so jobs survive process restarts.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return err
	}

	started := 0
	for _, user := range users {
		if !s.eligible(ctx, user.Email) {
			continue
		}
		s.StartForUser(ctx, user.Email, IntervalFromSettings(user.Settings))
		started++
	}
	s.logger.Info("Scheduler bootstrap complete",
		zap.Int("users", len(users)),
		zap.Int("scheduled", started),
	)
	return nil
}

// caller must hold s.mu
func (s *Scheduler) stopLocked(j *job) {
	j.cancel()
	if current, ok := s.jobs[j.email]; ok && current == j {
		delete(s.jobs, j.email)
		metrics.ScheduledJobs.Dec()
	}
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	if !s.tick(ctx, j) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, j) {
				return
			}
		}
	}
}

// tick runs one scheduled pass. Returns false when the job should stop.
func (s *Scheduler) tick(ctx context.Context, j *job) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.eligible(ctx, j.email) {
		s.logger.Info("Skipping scheduled run, user not eligible", zap.String("email", j.email))
		return true
	}

	// Stopping the job only suppresses future ticks. A run already in
	// flight finishes on its own, so it executes detached from jobCtx.
	next := time.Now().UTC().Add(j.interval)
	_, err := s.executor.Execute(context.WithoutCancel(ctx), j.email, nil, "scheduled", &next)
	switch {
	case err == nil:
	case errors.Is(err, inbox.ErrCredentialsMissing):
		s.logger.Warn("Mailbox credentials missing, unscheduling user", zap.String("email", j.email))
		s.mu.Lock()
		s.stopLocked(j)
		s.mu.Unlock()
		return false
	default:
		var active *inbox.AlreadyActiveError
		if errors.As(err, &active) {
			s.logger.Info("Scheduled run skipped, previous run still active", zap.String("email", j.email))
			return true
		}
		s.logger.Warn("Scheduled run failed", zap.String("email", j.email), zap.Error(err))
	}
	return true
}

// eligible gates a scheduled run on billing state and credentials. Manual
// runs bypass this check entirely.
func (s *Scheduler) eligible(ctx context.Context, email string) bool {
	sub, err := s.users.GetSubscription(ctx, email)
	if err != nil {
		s.logger.Warn("Subscription lookup failed", zap.String("email", email), zap.Error(err))
		return false
	}
	if !sub.ShouldAutoRun(time.Now().UTC()) {
		return false
	}

	ok, err := s.credentials.HasCredentials(ctx, email)
	if err != nil {
		s.logger.Warn("Credential check failed", zap.String("email", email), zap.Error(err))
		return false
	}
	return ok
}

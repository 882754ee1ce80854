package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	ctxs  []context.Context
	err   error
	ran   chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{ran: make(chan string, 16)}
}

func (e *fakeExecutor) Execute(ctx context.Context, email string, overrides runconfig.Values, trigger string, nextRunAt *time.Time) (*model.ReportRecord, error) {
	e.mu.Lock()
	e.calls = append(e.calls, email)
	e.ctxs = append(e.ctxs, ctx)
	err := e.err
	e.mu.Unlock()
	e.ran <- email
	if err != nil {
		return nil, err
	}
	return &model.ReportRecord{Email: email}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeExecutor) lastCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctxs[len(e.ctxs)-1]
}

type fakeDirectory struct {
	users []*model.User
	subs  map[string]*model.Subscription
}

func (d *fakeDirectory) ListUsers(ctx context.Context) ([]*model.User, error) {
	return d.users, nil
}

func (d *fakeDirectory) GetSubscription(ctx context.Context, email string) (*model.Subscription, error) {
	if sub, ok := d.subs[email]; ok {
		return sub, nil
	}
	return &model.Subscription{Email: email, Plan: model.PlanFree}, nil
}

type fakeCredentials struct {
	missing map[string]bool
}

func (c *fakeCredentials) HasCredentials(ctx context.Context, email string) (bool, error) {
	return !c.missing[email], nil
}

func proSub(email string) *model.Subscription {
	return &model.Subscription{Email: email, Plan: "pro", Status: "active"}
}

func testScheduler(exec RunExecutor, dir *fakeDirectory, creds *fakeCredentials) *Scheduler {
	if dir == nil {
		dir = &fakeDirectory{subs: map[string]*model.Subscription{"u@x.com": proSub("u@x.com")}}
	}
	if creds == nil {
		creds = &fakeCredentials{missing: map[string]bool{}}
	}
	return New(exec, dir, creds, zap.NewNop())
}

func waitRun(t *testing.T, e *fakeExecutor) string {
	t.Helper()
	select {
	case email := <-e.ran:
		return email
	case <-time.After(2 * time.Second):
		t.Fatal("no run happened in time")
		return ""
	}
}

func waitUnscheduled(t *testing.T, s *Scheduler, email string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Scheduled(email) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not stop in time")
}

func TestNormalizeInterval(t *testing.T) {
	be.Equal(t, NormalizeInterval(0), DefaultInterval)
	be.Equal(t, NormalizeInterval(-time.Minute), DefaultInterval)
	be.Equal(t, NormalizeInterval(10*time.Second), MinInterval)
	be.Equal(t, NormalizeInterval(10*time.Minute), 10*time.Minute)
}

func TestIntervalFromSettings(t *testing.T) {
	be.Equal(t, IntervalFromSettings(nil), DefaultInterval)
	be.Equal(t, IntervalFromSettings(model.Settings{"runIntervalSeconds": float64(120)}), 2*time.Minute)
	be.Equal(t, IntervalFromSettings(model.Settings{"runIntervalSeconds": float64(5)}), MinInterval)
}

func TestStartForUserRunsImmediately(t *testing.T) {
	exec := newFakeExecutor()
	s := testScheduler(exec, nil, nil)
	defer s.StopAll()

	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	be.Equal(t, waitRun(t, exec), "u@x.com")
	be.True(t, s.Scheduled("u@x.com"))
}

func TestStartForUserIdempotent(t *testing.T) {
	exec := newFakeExecutor()
	s := testScheduler(exec, nil, nil)
	defer s.StopAll()

	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	waitRun(t, exec)

	// same interval again: no new job, no extra immediate run
	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	time.Sleep(50 * time.Millisecond)
	be.Equal(t, exec.callCount(), 1)
}

func TestStartForUserReplacesInterval(t *testing.T) {
	exec := newFakeExecutor()
	s := testScheduler(exec, nil, nil)
	defer s.StopAll()

	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	waitRun(t, exec)

	// different interval replaces the job, which fires immediately again
	s.StartForUser(context.Background(), "u@x.com", 2*time.Hour)
	waitRun(t, exec)
	be.True(t, s.Scheduled("u@x.com"))
}

func TestStopForUser(t *testing.T) {
	exec := newFakeExecutor()
	s := testScheduler(exec, nil, nil)

	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	waitRun(t, exec)

	s.StopForUser("u@x.com")
	be.True(t, !s.Scheduled("u@x.com"))
}

func TestStopLeavesRunContextLive(t *testing.T) {
	exec := newFakeExecutor()
	s := testScheduler(exec, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.StartForUser(ctx, "u@x.com", time.Hour)
	waitRun(t, exec)

	// stopping the job and killing its parent context only stops future
	// ticks; the context a run executes under stays live
	s.StopForUser("u@x.com")
	cancel()
	waitUnscheduled(t, s, "u@x.com")
	be.Err(t, exec.lastCtx().Err(), nil)
}

func TestCredentialsMissingSelfStops(t *testing.T) {
	exec := newFakeExecutor()
	exec.err = inbox.ErrCredentialsMissing
	s := testScheduler(exec, nil, nil)

	s.StartForUser(context.Background(), "u@x.com", time.Hour)
	waitRun(t, exec)
	waitUnscheduled(t, s, "u@x.com")
}

func TestIneligibleUserSkipsRun(t *testing.T) {
	exec := newFakeExecutor()
	dir := &fakeDirectory{subs: map[string]*model.Subscription{
		"free@x.com": {Email: "free@x.com", Plan: model.PlanFree},
	}}
	s := testScheduler(exec, dir, nil)
	defer s.StopAll()

	s.StartForUser(context.Background(), "free@x.com", time.Hour)
	time.Sleep(50 * time.Millisecond)
	be.Equal(t, exec.callCount(), 0)
	// the job stays scheduled so an upgrade takes effect on the next tick
	be.True(t, s.Scheduled("free@x.com"))
}

func TestBootstrapSchedulesEligibleUsers(t *testing.T) {
	exec := newFakeExecutor()
	dir := &fakeDirectory{
		users: []*model.User{
			{Email: "pro@x.com", Settings: model.Settings{"runIntervalSeconds": float64(3600)}},
			{Email: "free@x.com"},
			{Email: "nocreds@x.com"},
		},
		subs: map[string]*model.Subscription{
			"pro@x.com":     proSub("pro@x.com"),
			"nocreds@x.com": proSub("nocreds@x.com"),
		},
	}
	creds := &fakeCredentials{missing: map[string]bool{"nocreds@x.com": true}}
	s := testScheduler(exec, dir, creds)
	defer s.StopAll()

	be.Err(t, s.Bootstrap(context.Background()), nil)
	be.True(t, s.Scheduled("pro@x.com"))
	be.True(t, !s.Scheduled("free@x.com"))
	be.True(t, !s.Scheduled("nocreds@x.com"))
	be.Equal(t, waitRun(t, exec), "pro@x.com")
}

func TestStopAll(t *testing.T) {
	exec := newFakeExecutor()
	dir := &fakeDirectory{subs: map[string]*model.Subscription{
		"a@x.com": proSub("a@x.com"),
		"b@x.com": proSub("b@x.com"),
	}}
	s := testScheduler(exec, dir, nil)

	s.StartForUser(context.Background(), "a@x.com", time.Hour)
	s.StartForUser(context.Background(), "b@x.com", time.Hour)
	waitRun(t, exec)
	waitRun(t, exec)

	s.StopAll()
	be.True(t, !s.Scheduled("a@x.com"))
	be.True(t, !s.Scheduled("b@x.com"))
}

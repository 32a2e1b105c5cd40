package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	if err := NewScheduler(nil).Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryRefresh, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "refresh", Schedule: "50ms", Action: ActionRegistryRefresh,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{Name: "unknown", Schedule: "100ms", Action: "does_not_exist"})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerDuplicateTask(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionAuditRetention, func(context.Context) error { return nil })

	task := ScheduledTask{Name: "retention", Schedule: "@daily", Action: ActionAuditRetention}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(task); err == nil {
		t.Error("expected error for duplicate task name")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionAuditRetention, func(context.Context) error { return nil })

	err := s.AddTask(ScheduledTask{Name: "bad", Schedule: "every tuesday", Action: ActionAuditRetention})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestSchedulerOneShotAndTasks(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryRefresh, func(context.Context) error {
		count.Add(1)
		return nil
	})
	s.RegisterAction(ActionAuditRetention, func(context.Context) error {
		return errors.New("disk full")
	})
	s.AddTask(ScheduledTask{Name: "once", Schedule: "30ms", Action: ActionRegistryRefresh, OneShot: true})
	s.AddTask(ScheduledTask{Name: "retention", Schedule: "30ms", Action: ActionAuditRetention})

	if got := len(s.Tasks()); got != 2 {
		t.Fatalf("Tasks() = %d entries, want 2", got)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, want 1", c)
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Name != "retention" {
		t.Fatalf("Tasks() after run = %+v, want only retention", tasks)
	}
	if tasks[0].LastErr != "disk full" {
		t.Errorf("LastErr = %q, want %q", tasks[0].LastErr, "disk full")
	}
	if tasks[0].LastRun.IsZero() {
		t.Error("LastRun not recorded")
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "0 */10 * * * *", "@hourly", "@every 1h", "30m", "10ms"}
	for _, s := range valid {
		if _, err := parseSchedule(s); err != nil {
			t.Errorf("parseSchedule(%q): %v", s, err)
		}
	}
	invalid := []string{"", "not-a-schedule", "-5m", "0s"}
	for _, s := range invalid {
		if _, err := parseSchedule(s); err == nil {
			t.Errorf("parseSchedule(%q) = nil error, want error", s)
		}
	}
}

func TestConstantDelay(t *testing.T) {
	sched, err := parseSchedule("90s")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(now); !got.Equal(now.Add(90 * time.Second)) {
		t.Errorf("Next = %v, want %v", got, now.Add(90*time.Second))
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 17, 0, 0, time.UTC)
	got, err := NextRun("@hourly", now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
	if _, err := NextRun("bogus", now); err == nil {
		t.Error("NextRun(bogus) = nil error, want error")
	}
}

func TestTasksFromConfig(t *testing.T) {
	got := TasksFromConfig([]config.ScheduledTaskConfig{
		{Name: "r", Schedule: "1h", Action: "registry_refresh", OneShot: true},
	})
	if len(got) != 1 || got[0].Action != ActionRegistryRefresh || !got[0].OneShot {
		t.Errorf("TasksFromConfig = %+v", got)
	}
}

type fakeRegistry struct {
	calls int
	err   error
}

func (f *fakeRegistry) Refresh(context.Context) ([]domain.AgentRecord, error) {
	f.calls++
	return []domain.AgentRecord{{ID: "a"}}, f.err
}

type fakeFile struct {
	maxAge time.Duration
	err    error
}

func (f *fakeFile) EnforceRetention(_ context.Context, maxAge time.Duration) (int, error) {
	f.maxAge = maxAge
	return 3, f.err
}

type fakeStore struct{ before time.Time }

func (f *fakeStore) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 1, nil
}

func TestHousekeeping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg, file, store := &fakeRegistry{}, &fakeFile{}, &fakeStore{}

	s := NewScheduler(newTestLogger())
	Housekeeping{
		Registry: reg,
		File:     file,
		Store:    store,
		MaxAge:   24 * time.Hour,
		Now:      func() time.Time { return now },
	}.Register(s)

	if err := s.actions[ActionRegistryRefresh](context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if reg.calls != 1 {
		t.Errorf("registry refreshed %d times, want 1", reg.calls)
	}

	if err := s.actions[ActionAuditRetention](context.Background()); err != nil {
		t.Fatalf("retention: %v", err)
	}
	if file.maxAge != 24*time.Hour {
		t.Errorf("file maxAge = %v", file.maxAge)
	}
	if want := now.Add(-24 * time.Hour); !store.before.Equal(want) {
		t.Errorf("store prune before = %v, want %v", store.before, want)
	}
}

func TestHousekeepingErrors(t *testing.T) {
	reg := &fakeRegistry{err: fmt.Errorf("%w: nanda down", domain.ErrRegistryUnavailable)}
	file := &fakeFile{err: errors.New("locked")}

	s := NewScheduler(newTestLogger())
	Housekeeping{Registry: reg, File: file, Store: &fakeStore{}, MaxAge: time.Hour}.Register(s)

	if err := s.actions[ActionRegistryRefresh](context.Background()); !errors.Is(err, domain.ErrRegistryUnavailable) {
		t.Errorf("refresh error = %v, want ErrRegistryUnavailable", err)
	}
	if err := s.actions[ActionAuditRetention](context.Background()); err == nil {
		t.Error("expected retention error")
	}
}

func TestHousekeepingRetentionDisabled(t *testing.T) {
	store := &fakeStore{}
	s := NewScheduler(newTestLogger())
	Housekeeping{Store: store}.Register(s)

	if err := s.actions[ActionAuditRetention](context.Background()); err != nil {
		t.Fatalf("retention: %v", err)
	}
	if !store.before.IsZero() {
		t.Error("store pruned with retention disabled")
	}
}

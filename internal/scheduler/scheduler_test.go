package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerRejectsOverlap(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs atomic.Int32

	if err := s.Register(Task{Name: "pipeline", Run: func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := s.Trigger(context.Background(), "pipeline"); err != nil {
		t.Fatalf("first Trigger() error = %v", err)
	}
	<-started

	if err := s.Trigger(context.Background(), "pipeline"); !errors.Is(err, ErrTaskRunning) {
		t.Errorf("second Trigger() error = %v, want ErrTaskRunning", err)
	}
	if err := s.RunNow(context.Background(), "pipeline"); !errors.Is(err, ErrTaskRunning) {
		t.Errorf("RunNow() error = %v, want ErrTaskRunning", err)
	}

	close(release)
	s.Stop()

	if err := s.RunNow(context.Background(), "pipeline"); err != nil {
		t.Errorf("RunNow() after release error = %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestTriggerSurvivesCallerCancellation(t *testing.T) {
	s := New()
	result := make(chan error, 1)
	_ = s.Register(Task{Name: "t", Run: func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		result <- ctx.Err()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Trigger(ctx, "t"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	cancel()
	s.Stop()

	if err := <-result; err != nil {
		t.Errorf("task saw ctx error %v after caller cancelled", err)
	}
}

func TestTasksAreIndependent(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_ = s.Register(Task{Name: "slow", Run: func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}})
	_ = s.Register(Task{Name: "fast", Run: func(context.Context) error { return nil }})

	_ = s.Trigger(context.Background(), "slow")
	<-started
	if err := s.RunNow(context.Background(), "fast"); err != nil {
		t.Errorf("fast task blocked by slow task: %v", err)
	}
	close(release)
	s.Stop()
}

func TestUnknownAndDuplicateTasks(t *testing.T) {
	s := New()
	if err := s.Trigger(context.Background(), "missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Trigger(missing) error = %v", err)
	}
	_ = s.Register(Task{Name: "a", Run: func(context.Context) error { return nil }})
	if err := s.Register(Task{Name: "a", Run: func(context.Context) error { return nil }}); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if err := s.Register(Task{Name: "b"}); err == nil {
		t.Error("Register() without Run should fail")
	}
}

func TestRunNowReturnsTaskError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	_ = s.Register(Task{Name: "a", Run: func(context.Context) error { return boom }})
	if err := s.RunNow(context.Background(), "a"); !errors.Is(err, boom) {
		t.Errorf("RunNow() error = %v, want boom", err)
	}
}

func TestStartRunsOnInterval(t *testing.T) {
	s := New()
	var runs atomic.Int32
	_ = s.Register(Task{Name: "index", Interval: 5 * time.Millisecond, RunOnStart: true, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	_ = s.Register(Task{Name: "manual-only", Run: func(context.Context) error {
		t.Error("task without interval should not be scheduled")
		return nil
	}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if runs.Load() < 3 {
		t.Errorf("runs = %d, want at least 3", runs.Load())
	}
}

func TestTickSkipsWhileTriggeredRunHoldsLease(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs atomic.Int32
	_ = s.Register(Task{Name: "pipeline", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return nil
	}})

	_ = s.Trigger(context.Background(), "pipeline")
	<-started
	_ = s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if runs.Load() != 1 {
		t.Errorf("runs while lease held = %d, want 1", runs.Load())
	}
	close(release)
	s.Stop()
}

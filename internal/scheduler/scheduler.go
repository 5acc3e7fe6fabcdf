// Package scheduler runs named periodic tasks. Every task holds its own
// lease, so a task never overlaps with itself regardless of whether it was
// started by a tick or a manual trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"narrativeos/internal/logger"
)

var (
	// ErrTaskRunning is returned when a task's lease is already held.
	ErrTaskRunning = errors.New("task is already running")
	// ErrUnknownTask is returned for a name that was never registered.
	ErrUnknownTask = errors.New("unknown task")
)

// Task is a named unit of periodic work. Interval zero means the task only
// runs when triggered.
type Task struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type entry struct {
	Task
	lease sync.Mutex
}

// Scheduler owns the task loops.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	order   []string
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		tasks: make(map[string]*entry),
		log:   logger.Get(),
	}
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("task needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("task %q already registered", t.Name)
	}
	s.tasks[t.Name] = &entry{Task: t}
	s.order = append(s.order, t.Name)
	return nil
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches a loop for every task with an interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	for _, name := range s.order {
		e := s.tasks[name]
		if e.Interval <= 0 {
			continue
		}
		s.log.Info("Scheduling task", "task", name, "interval", e.Interval.String())
		s.wg.Add(1)
		go s.loop(ctx, e, s.done)
	}
	return nil
}

// Stop ends the loops and waits for in-flight runs to finish. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.done)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Trigger starts a task in the background. It returns ErrTaskRunning
// immediately when the task is already in progress. The run is detached
// from ctx cancellation but keeps its values.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !e.lease.TryLock() {
		return ErrTaskRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.lease.Unlock()
		s.execute(context.WithoutCancel(ctx), e, "trigger")
	}()
	return nil
}

// RunNow runs a task synchronously and returns its error, or
// ErrTaskRunning when it is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !e.lease.TryLock() {
		return ErrTaskRunning
	}
	defer e.lease.Unlock()
	return s.execute(ctx, e, "manual")
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return e, nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	if e.RunOnStart {
		s.tick(ctx, e)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.tick(ctx, e)
		}
	}
}

// tick runs the task unless its lease is held.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	if !e.lease.TryLock() {
		s.log.Warn("Skipping tick, task still running", "task", e.Name)
		return
	}
	defer e.lease.Unlock()
	s.execute(ctx, e, "tick")
}

func (s *Scheduler) execute(ctx context.Context, e *entry, cause string) error {
	start := time.Now()
	s.log.Info("Task started", "task", e.Name, "cause", cause)
	err := e.Run(ctx)
	if err != nil {
		s.log.Error("Task failed", "task", e.Name, "cause", cause, "duration", time.Since(start).String(), "error", err)
		return err
	}
	s.log.Info("Task finished", "task", e.Name, "cause", cause, "duration", time.Since(start).String())
	return nil
}

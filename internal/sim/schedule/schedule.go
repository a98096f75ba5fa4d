package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task runs Run every Every, first after Delay. A zero Delay means the first
// run happens after one full interval.
type Task struct {
	Name  string
	Every time.Duration
	Delay time.Duration
	Run   func(ctx context.Context)
}

type Scheduler struct {
	log   *zap.Logger
	tasks []Task

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   map[string]uint64
}

func New(log *zap.Logger, tasks ...Task) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log, tasks: tasks, runs: map[string]uint64{}}
}

func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Start launches one goroutine per task. It fails if a task has no interval
// or the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	for _, t := range s.tasks {
		if t.Every <= 0 || t.Run == nil {
			return fmt.Errorf("task %q: interval and func required", t.Name)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runOnce(ctx, t)
	}
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				zap.String("task", t.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	t.Run(ctx)
	s.mu.Lock()
	s.runs[t.Name]++
	s.mu.Unlock()
	if d := time.Since(start); d > t.Every {
		s.log.Warn("task overran its interval", zap.String("task", t.Name), zap.Duration("took", d))
	}
}

// Stop cancels every task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Runs reports how many times the named task completed.
func (s *Scheduler) Runs(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name]
}

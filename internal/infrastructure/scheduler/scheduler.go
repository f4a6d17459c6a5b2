// Package scheduler runs background tasks on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of periodic background work
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// Name returns the task name
func (f TaskFunc) Name() string { return f.TaskName }

// Run calls Fn
func (f TaskFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// Config holds scheduler configuration
type Config struct {
	Interval time.Duration
	// Timeout bounds a single run, including retries
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// RunOnStart runs every task once when the scheduler starts
	RunOnStart bool
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		Timeout:       time.Minute,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: negative timeout or retry setting", ErrInvalidConfig)
	}
	return nil
}

// RunStats describes the last run of a task
type RunStats struct {
	Runs        int
	Failures    int
	LastRun     time.Time
	LastError   error
	LastAttempt int
}

// Scheduler runs registered tasks every interval, one goroutine per task.
// A task never overlaps with itself.
type Scheduler struct {
	config Config
	logger *zap.Logger

	tasks     []Task
	stats     map[string]*RunStats
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// New creates a scheduler
func New(config Config, logger *zap.Logger) (*Scheduler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config: config,
		logger: logger,
		stats:  make(map[string]*RunStats),
	}, nil
}

// Register adds a task; tasks cannot be added once the scheduler runs
func (s *Scheduler) Register(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrSchedulerRunning
	}
	if _, exists := s.stats[task.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name())
	}
	s.tasks = append(s.tasks, task)
	s.stats[task.Name()] = &RunStats{}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runLoop(ctx, task)
	}

	s.logger.Info("Scheduler started",
		zap.Int("tasks", len(tasks)),
		zap.Duration("interval", s.config.Interval),
		zap.Duration("timeout", s.config.Timeout),
	)
	return nil
}

// Stop cancels running tasks and waits for them to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// Stats returns a copy of the run statistics of a task
func (s *Scheduler) Stats(name string) (RunStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		return RunStats{}, false
	}
	return *st, true
}

func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.runTask(ctx, task)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, task)
		}
	}
}

// runTask runs the task with retries inside one timeout window
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	runCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	log := s.logger.With(zap.String("task", task.Name()))
	var err error
	attempt := 0
	for {
		attempt++
		err = task.Run(runCtx)
		if err == nil || attempt > s.config.RetryAttempts || runCtx.Err() != nil {
			break
		}
		log.Warn("Task failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", s.config.RetryDelay),
			zap.Error(err),
		)
		select {
		case <-runCtx.Done():
		case <-time.After(s.config.RetryDelay):
		}
	}

	s.mu.Lock()
	st := s.stats[task.Name()]
	st.Runs++
	st.LastRun = time.Now()
	st.LastError = err
	st.LastAttempt = attempt
	if err != nil {
		st.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("Task failed", zap.Int("attempts", attempt), zap.Error(err))
		return
	}
	log.Debug("Task completed", zap.Int("attempts", attempt))
}

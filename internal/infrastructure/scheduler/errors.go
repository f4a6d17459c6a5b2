package scheduler

import "errors"

var (
	// ErrSchedulerRunning is returned when registering a task on a started scheduler
	ErrSchedulerRunning = errors.New("scheduler is already running")

	// ErrDuplicateTask is returned when two tasks share a name
	ErrDuplicateTask = errors.New("task already registered")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func counterTask(name string, calls *atomic.Int32, failFirst int32) TaskFunc {
	return TaskFunc{TaskName: name, Fn: func(ctx context.Context) error {
		if n := calls.Add(1); n <= failFirst {
			return errors.New("transient")
		}
		return nil
	}}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, 2, cfg.RetryAttempts)
	assert.False(t, cfg.RunOnStart)
	assert.NoError(t, cfg.validate())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero interval", Config{}},
		{"negative timeout", Config{Interval: time.Second, Timeout: -1}},
		{"negative retries", Config{Interval: time.Second, RetryAttempts: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestScheduler_RunsTasksPeriodically(t *testing.T) {
	s, err := New(Config{Interval: 10 * time.Millisecond, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, s.Register(counterTask("count", &calls, 0)))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	stats, ok := s.Stats("count")
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.Runs, 3)
	assert.Zero(t, stats.Failures)
	assert.NoError(t, stats.LastError)
}

func TestScheduler_RetriesFailedRun(t *testing.T) {
	s, err := New(Config{
		Interval:      time.Hour,
		Timeout:       time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		RunOnStart:    true,
	}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, s.Register(counterTask("flaky", &calls, 2)))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		st, _ := s.Stats("flaky")
		return st.Runs == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	st, _ := s.Stats("flaky")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, st.LastAttempt)
	assert.NoError(t, st.LastError)
	assert.Zero(t, st.Failures)
}

func TestScheduler_RecordsExhaustedRetries(t *testing.T) {
	s, err := New(Config{Interval: time.Hour, RetryAttempts: 1, RunOnStart: true}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, s.Register(counterTask("broken", &calls, 100)))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		st, _ := s.Stats("broken")
		return st.Runs == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	st, _ := s.Stats("broken")
	assert.Equal(t, 1, st.Failures)
	assert.Error(t, st.LastError)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_Register(t *testing.T) {
	s, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, s.Register(counterTask("a", &calls, 0)))
	assert.ErrorIs(t, s.Register(counterTask("a", &calls, 0)), ErrDuplicateTask)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Register(counterTask("b", &calls, 0)), ErrSchedulerRunning)
	require.NoError(t, s.Stop(context.Background()))

	_, ok := s.Stats("b")
	assert.False(t, ok)
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	s, err := New(Config{Interval: time.Hour, RunOnStart: true}, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	require.NoError(t, s.Register(TaskFunc{TaskName: "block", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Stop(ctx))
}

// internal/engine/pool_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

func newTestConfig(workers, queueSize int) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.EngineCfg.WorkerConcurrency = workers
	cfg.EngineCfg.QueueSize = queueSize
	return cfg
}

func newTask(name string) *schemas.ComparisonTask {
	return &schemas.ComparisonTask{RuleFile: name, URLs: []string{"http://" + name + "/"}}
}

// -- Test Cases --

func TestNew_Validation(t *testing.T) {
	noop := ProcessorFunc(func(context.Context, *schemas.ComparisonTask) error { return nil })
	logger := zap.NewNop()

	testCases := []struct {
		name      string
		cfg       config.Interface
		processor Processor
		logger    *zap.Logger
		wantErr   string
	}{
		{"nil config", nil, noop, logger, "config cannot be nil"},
		{"nil processor", newTestConfig(1, 1), nil, logger, "processor cannot be nil"},
		{"nil logger", newTestConfig(1, 1), noop, nil, "logger cannot be nil"},
		{"zero workers", newTestConfig(0, 1), noop, logger, "worker concurrency must be positive"},
		{"zero queue", newTestConfig(1, 0), noop, logger, "queue size must be positive"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pool, err := New(tc.cfg, tc.processor, tc.logger)
			require.Error(t, err)
			assert.Nil(t, pool)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestPool_CompletesEveryTask(t *testing.T) {
	// -- Setup --
	var processed sync.Map
	var calls atomic.Int64
	processor := ProcessorFunc(func(_ context.Context, task *schemas.ComparisonTask) error {
		calls.Add(1)
		_, loaded := processed.LoadOrStore(task.RuleFile, true)
		if loaded {
			return fmt.Errorf("task %s processed twice", task.RuleFile)
		}
		return nil
	})

	pool, err := New(newTestConfig(4, 3), processor, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	// -- Execution --
	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, pool.Enqueue(ctx, newTask(fmt.Sprintf("rule-%d.xml", i))))
	}
	require.NoError(t, pool.Wait(ctx))

	// -- Assertions --
	assert.EqualValues(t, total, pool.Completed())
	assert.EqualValues(t, total, calls.Load())
	assert.Zero(t, pool.Failed())
}

func TestPool_CompletesTasksThatFail(t *testing.T) {
	// -- Setup --
	core, logs := observer.New(zapcore.ErrorLevel)
	var calls atomic.Int64
	processor := ProcessorFunc(func(_ context.Context, task *schemas.ComparisonTask) error {
		n := calls.Add(1)
		if n%2 == 0 {
			panic("boom: " + task.RuleFile)
		}
		return errors.New("processing exploded")
	})

	pool, err := New(newTestConfig(2, 2), processor, zap.New(core))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	// -- Execution --
	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, pool.Enqueue(ctx, newTask(fmt.Sprintf("bad-%d.xml", i))))
	}
	require.NoError(t, pool.Wait(ctx), "failing tasks must still be marked complete")

	// -- Assertions --
	assert.EqualValues(t, total, pool.Completed())
	assert.EqualValues(t, total, pool.Failed())
	assert.Equal(t, total/2, logs.FilterMessage("Recovered from panic while processing task").Len())
	assert.Equal(t, total/2, logs.FilterMessage("Task processing failed").Len())

	entry := logs.FilterMessage("Task processing failed").All()[0]
	assert.Contains(t, entry.ContextMap()["rule_file"], "bad-")
	assert.Contains(t, entry.ContextMap(), "worker_id")
}

func TestPool_WorkerSurvivesPanic(t *testing.T) {
	// -- Setup --
	done := make(chan string, 1)
	processor := ProcessorFunc(func(_ context.Context, task *schemas.ComparisonTask) error {
		if task.RuleFile == "poison.xml" {
			panic("always fails")
		}
		done <- task.RuleFile
		return nil
	})

	// A single worker means the same goroutine must handle both tasks.
	pool, err := New(newTestConfig(1, 1), processor, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	// -- Execution --
	require.NoError(t, pool.Enqueue(ctx, newTask("poison.xml")))
	require.NoError(t, pool.Enqueue(ctx, newTask("healthy.xml")))

	// -- Assertions --
	select {
	case name := <-done:
		assert.Equal(t, "healthy.xml", name)
	case <-ctx.Done():
		t.Fatal("worker did not process the task following a panic")
	}
	require.NoError(t, pool.Wait(ctx))
	assert.EqualValues(t, 2, pool.Completed())
	assert.EqualValues(t, 1, pool.Failed())
}

func TestPool_EnqueueBlocksAtCapacity(t *testing.T) {
	// -- Setup --
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	processor := ProcessorFunc(func(ctx context.Context, _ *schemas.ComparisonTask) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	const capacity = 2
	pool, err := New(newTestConfig(1, capacity), processor, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	// The single worker takes the first task and blocks on it.
	require.NoError(t, pool.Enqueue(ctx, newTask("held.xml")))
	<-started

	// -- Execution --
	for i := 0; i < capacity; i++ {
		require.NoError(t, pool.Enqueue(ctx, newTask(fmt.Sprintf("buffered-%d.xml", i))))
	}
	assert.Equal(t, capacity, pool.Len())

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	err = pool.Enqueue(shortCtx, newTask("overflow.xml"))

	// -- Assertions --
	require.ErrorIs(t, err, context.DeadlineExceeded, "enqueue beyond capacity must block")
	assert.LessOrEqual(t, pool.Len(), capacity)

	// Once a slot frees the producer proceeds.
	unblocked := make(chan error, 1)
	go func() { unblocked <- pool.Enqueue(ctx, newTask("late.xml")) }()
	release <- struct{}{}
	require.NoError(t, <-unblocked)

	close(release)
	require.NoError(t, pool.Wait(ctx))
	// The timed out enqueue is not counted.
	assert.EqualValues(t, 1+capacity+1, pool.Completed())
}

func TestPool_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	processor := ProcessorFunc(func(context.Context, *schemas.ComparisonTask) error {
		<-release
		return nil
	})

	pool, err := New(newTestConfig(1, 1), processor, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(ctx, newTask("slow.xml")))

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, pool.Wait(waitCtx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, pool.Wait(ctx))
	pool.Stop()
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	pool, err := New(newTestConfig(1, 1), ProcessorFunc(func(context.Context, *schemas.ComparisonTask) error { return nil }), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)
	pool.Stop()
	pool.Stop() // idempotent

	assert.ErrorIs(t, pool.Enqueue(ctx, newTask("x.xml")), ErrPoolStopped)
	assert.Error(t, pool.Enqueue(ctx, nil))
}

func TestPool_StartTwice(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pool, err := New(newTestConfig(2, 1), ProcessorFunc(func(context.Context, *schemas.ComparisonTask) error { return nil }), zap.New(core))
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)
	pool.Start(ctx)
	pool.Stop()

	assert.Equal(t, 1, logs.FilterMessageSnippet("already running").Len())
}

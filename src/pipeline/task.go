package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/square-key-labs/omni-ai/src/logger"
)

// ErrStopped is returned by Submit after Shutdown began.
var ErrStopped = errors.New("pipeline task runner stopped")

// TaskConfig holds configuration for the task runner
type TaskConfig struct {
	// Timeout bounds each task. Tasks never inherit a request or connection
	// context, so this is their only deadline.
	Timeout time.Duration
}

// DefaultTaskConfig returns default configuration
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{Timeout: 2 * time.Minute}
}

// TaskRunner runs turns through a pipeline on detached goroutines and tracks
// them so shutdown can wait for in-flight work.
type TaskRunner struct {
	pipeline *Pipeline
	config   TaskConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	onFinished func(turn *Turn, err error)
	log        *logger.Logger
}

// NewTaskRunner creates a runner for pipeline.
func NewTaskRunner(pipeline *Pipeline, config TaskConfig) *TaskRunner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTaskConfig().Timeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		pipeline: pipeline,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.WithPrefix("PipelineTask"),
	}
}

// OnFinished sets a callback invoked after each task, with the pipeline error
// or a recovered panic.
func (r *TaskRunner) OnFinished(callback func(turn *Turn, err error)) {
	r.onFinished = callback
}

// Submit starts processing turn in the background. It never blocks on the
// pipeline itself.
func (r *TaskRunner) Submit(turn Turn) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(&turn)
	return nil
}

func (r *TaskRunner) run(turn *Turn) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
	defer cancel()

	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			r.log.Error("Task for %s panicked: %v\n%s", turn.CustomerID, rec, debug.Stack())
		}
		if err != nil {
			r.log.Warn("Task for %s failed: %v", turn.CustomerID, err)
		} else if len(turn.Trace) > 0 {
			r.log.Debug("Task for %s: %s", turn.CustomerID, turn.Trace)
		}
		if r.onFinished != nil {
			r.onFinished(turn, err)
		}
	}()

	err = r.pipeline.Run(ctx, turn)
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx
// expires first, running tasks are cancelled and ctx's error is returned
// once they return.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.log.Warn("Shutdown deadline reached, cancelling in-flight tasks")
		r.cancel()
		<-done
		return ctx.Err()
	}
}

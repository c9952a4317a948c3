package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskhub/internal/domain"
	"taskhub/internal/registry"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("task runtime is stopped")
)

// UnitOfWork is a deferred background computation. All parameters are captured
// at enqueue time; the outcome is the returned error.
type UnitOfWork func(ctx context.Context) error

type item struct {
	id   string
	work UnitOfWork
}

// Runtime owns the work queue and the single worker goroutine that drains it.
// Items execute strictly in enqueue order; a failing unit of work is recorded
// against its task and never stops the loop.
type Runtime struct {
	reg    *registry.Registry
	queue  chan item
	logger zerolog.Logger

	stopOnce   sync.Once
	stop       chan struct{}
	done       chan struct{}
	workCancel context.CancelFunc
}

func New(reg *registry.Registry, queueSize int, logger zerolog.Logger) *Runtime {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Runtime{
		reg:    reg,
		queue:  make(chan item, queueSize),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue registers the task record and appends the work item to the queue
// tail. It never blocks the producer: past the high-water mark the item is
// rejected with ErrQueueFull and the record is failed so status queries do not
// report a task that will never run.
func (r *Runtime) Enqueue(taskID, taskType string, work UnitOfWork) error {
	select {
	case <-r.stop:
		return ErrStopped
	default:
	}

	if err := r.reg.Create(taskID, taskType); err != nil {
		return err
	}

	select {
	case r.queue <- item{id: taskID, work: work}:
		r.logger.Info().Str("task_id", taskID).Str("type", taskType).Int("depth", len(r.queue)).Msg("task queued")
		return nil
	default:
		_ = r.reg.Transition(taskID, domain.StatusFailed, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// Submit enqueues work under a fresh task id and returns it.
func (r *Runtime) Submit(taskType string, work UnitOfWork) (string, error) {
	id := "tsk_" + uuid.NewString()
	if err := r.Enqueue(id, taskType, work); err != nil {
		return "", err
	}
	return id, nil
}

// Start launches the worker goroutine. Call once.
func (r *Runtime) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.workCancel = cancel
	go r.run(ctx)
}

func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	r.logger.Info().Int("capacity", cap(r.queue)).Msg("worker started")

	for {
		// stop takes priority over a non-empty queue
		select {
		case <-r.stop:
			r.logger.Info().Msg("worker stopped")
			return
		default:
		}
		select {
		case <-r.stop:
			r.logger.Info().Msg("worker stopped")
			return
		case it := <-r.queue:
			r.process(ctx, it)
		}
	}
}

func (r *Runtime) process(ctx context.Context, it item) {
	if err := r.reg.Transition(it.id, domain.StatusProcessing, ""); err != nil {
		// queue and registry disagree about this task; skip rather than
		// execute work for a record in an unexpected state
		r.logger.Error().Err(err).Str("task_id", it.id).Msg("cannot mark task processing")
		return
	}

	r.logger.Info().Str("task_id", it.id).Msg("processing task")
	if err := execute(ctx, it.work); err != nil {
		if terr := r.reg.Transition(it.id, domain.StatusFailed, err.Error()); terr != nil {
			r.logger.Error().Err(terr).Str("task_id", it.id).Msg("cannot mark task failed")
		}
		r.logger.Error().Err(err).Str("task_id", it.id).Msg("task failed")
		return
	}
	if terr := r.reg.Transition(it.id, domain.StatusCompleted, ""); terr != nil {
		r.logger.Error().Err(terr).Str("task_id", it.id).Msg("cannot mark task completed")
		return
	}
	r.logger.Info().Str("task_id", it.id).Msg("task completed")
}

// execute runs one unit of work, converting a panic into an ordinary failure
// so one bad task cannot take down the worker.
func execute(ctx context.Context, work UnitOfWork) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return work(ctx)
}

// Stop signals the worker to exit after the in-flight item and waits for it up
// to the context deadline. Past the deadline the work context is cancelled so
// a stuck unit of work cannot hold up shutdown. Remaining queued items are
// abandoned; their records stay queued.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.workCancel == nil {
		return nil
	}

	select {
	case <-r.done:
		r.workCancel()
		return nil
	case <-ctx.Done():
		r.workCancel()
		return ctx.Err()
	}
}

// Depth reports the current queue backlog.
func (r *Runtime) Depth() int { return len(r.queue) }

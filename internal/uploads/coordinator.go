// Package uploads coordinates physical media uploads so that every fan-out
// target of a broadcast shares one transfer and one remote URL.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vidfriends/groupcast/internal/models"
)

// DefaultTimeout bounds a single physical upload.
const DefaultTimeout = 5 * time.Minute

// Transport performs the physical transfer of a media artifact and returns
// its remote URL. progress receives percentages in 0..100 and may be called
// from any goroutine.
type Transport interface {
	Upload(ctx context.Context, media models.MediaDescriptor, progress func(percent int)) (string, error)
}

// Config controls coordinator behaviour.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Coordinator owns the table of in-flight and completed upload tasks keyed by
// fingerprint. A task lives in the table from its first Acquire until it has
// failed, or until it is terminal and every attachment has been released.
type Coordinator struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
}

// NewCoordinator constructs a coordinator that uploads through transport.
func NewCoordinator(transport Transport, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		transport: transport,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
	}
}

// Acquire attaches the caller to the task for media, starting the upload if
// none exists. Concurrent calls with the same fingerprint share one task.
// Every successful Acquire must be paired with a Release.
func (c *Coordinator) Acquire(ctx context.Context, media models.MediaDescriptor) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !media.Present() || !media.Kind.Valid() {
		return nil, ErrInvalidMedia
	}
	if c.transport == nil {
		return nil, errors.New("upload transport not configured")
	}

	fingerprint := Fingerprint(media)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if task, ok := c.tasks[fingerprint]; ok {
		task.refs++
		c.metrics.coalesced()
		return task, nil
	}

	task := newTask(fingerprint, media)
	task.refs = 1

	taskCtx, cancel := context.WithTimeout(c.ctx, c.timeout)
	task.cancel = cancel
	c.tasks[fingerprint] = task

	c.metrics.started()
	c.wg.Add(1)
	go c.run(taskCtx, task)

	return task, nil
}

// Release detaches the caller from task. When the last attachment is
// released, a terminal task is evicted and an unfinished one is abandoned.
func (c *Coordinator) Release(task *Task) {
	if task == nil {
		return
	}

	c.mu.Lock()
	if task.refs > 0 {
		task.refs--
	}
	remaining := task.refs
	if remaining == 0 && c.tasks[task.fingerprint] == task {
		delete(c.tasks, task.fingerprint)
	}
	c.mu.Unlock()

	if remaining == 0 && task.cancel != nil {
		task.cancel()
	}
}

// Lookup returns the live task for a fingerprint, if any.
func (c *Coordinator) Lookup(fingerprint string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[fingerprint]
	return task, ok
}

// Len reports the number of tasks currently held in the table.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Shutdown cancels outstanding uploads and waits for their goroutines to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

type uploadResult struct {
	url string
	err error
}

func (c *Coordinator) run(ctx context.Context, task *Task) {
	defer c.wg.Done()
	defer task.cancel()

	logger := c.logger.With("fingerprint", task.fingerprint, "kind", task.media.Kind)
	task.start()

	// The transport runs in its own goroutine so a transport that ignores ctx
	// cannot hold the task past its deadline.
	results := make(chan uploadResult, 1)
	go func() {
		url, err := c.transport.Upload(ctx, task.media, task.report)
		if err == nil && url == "" {
			err = errors.New("transport returned empty remote url")
		}
		results <- uploadResult{url: url, err: err}
	}()

	var res uploadResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res = uploadResult{err: ctx.Err()}
	}

	if res.err != nil {
		res.err = c.classify(ctx, res.err)
	}

	elapsed := time.Since(task.startedAt)
	if res.err != nil {
		// Failed tasks leave the table before waiters wake so a restarted send
		// uploads again.
		c.evict(task)
		task.finish("", res.err)
		logger.Error("upload failed", "error", res.err, "duration", elapsed)
		c.metrics.finished("failed", elapsed)
		return
	}

	task.finish(res.url, nil)
	logger.Info("upload succeeded", "remoteUrl", res.url, "duration", elapsed)
	c.metrics.finished("succeeded", elapsed)

	c.mu.Lock()
	if task.refs == 0 && c.tasks[task.fingerprint] == task {
		delete(c.tasks, task.fingerprint)
	}
	c.mu.Unlock()
}

func (c *Coordinator) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled) && c.ctx.Err() == nil:
		return ErrAbandoned
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrClosed
	default:
		return fmt.Errorf("upload: %w", err)
	}
}

func (c *Coordinator) evict(task *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tasks[task.fingerprint] == task {
		delete(c.tasks, task.fingerprint)
	}
}

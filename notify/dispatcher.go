package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config tunes a Dispatcher.
type Config struct {
	Workers        int           `json:"workers" mapstructure:"workers" yaml:"workers"`
	QueueSize      int           `json:"queue_size" mapstructure:"queue_size" yaml:"queue_size"`
	MaxElapsedTime time.Duration `json:"max_elapsed_time" mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	SendTimeout    time.Duration `json:"send_timeout" mapstructure:"send_timeout" yaml:"send_timeout"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      256,
		MaxElapsedTime: 2 * time.Minute,
		SendTimeout:    10 * time.Second,
	}
}

// FailureFunc is told about tasks that were dropped or exhausted their
// retries.
type FailureFunc func(ctx context.Context, task Task, err error)

// Dispatcher queues notifications and sends them asynchronously.
type Dispatcher struct {
	sender    Sender
	config    Config
	logger    *slog.Logger
	onFailure FailureFunc

	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff

	queue     chan Task
	stopOnce  sync.Once
	abortOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithConfig overrides the defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		if cfg.Workers > 0 {
			d.config.Workers = cfg.Workers
		}
		if cfg.QueueSize > 0 {
			d.config.QueueSize = cfg.QueueSize
		}
		if cfg.MaxElapsedTime > 0 {
			d.config.MaxElapsedTime = cfg.MaxElapsedTime
		}
		if cfg.SendTimeout > 0 {
			d.config.SendTimeout = cfg.SendTimeout
		}
	}
}

// WithFailureHandler registers fn for tasks that could not be delivered.
func WithFailureHandler(fn FailureFunc) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// NewDispatcher creates a dispatcher. A nil sender discards every task.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		config: DefaultConfig(),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Task, d.config.QueueSize)
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(context.WithoutCancel(ctx))
	}
	d.logger.Debug("notification dispatcher started", "workers", d.config.Workers)
}

// Stop stops accepting tasks and waits for queued ones to finish, or for
// ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.abortOnce.Do(func() { close(d.stopCh) })
		return ctx.Err()
	}
}

// Dispatch enqueues task without blocking.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) error {
	if d.sender == nil {
		d.logger.Debug("notification discarded, no sender", "template", string(task.Template))
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.fail(ctx, task, ErrStopped)
		return ErrStopped
	}

	select {
	case d.queue <- task:
		return nil
	default:
		d.fail(ctx, task, ErrQueueFull)
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for task := range d.queue {
		d.deliver(ctx, task)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task Task) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		sendCtx, sendCancel := context.WithTimeout(ctx, d.config.SendTimeout)
		defer sendCancel()

		err := d.sender.SendBillingTemplate(sendCtx, task.UserID, task.Template, task.Data)
		var perm *permanentError
		if errors.As(err, &perm) {
			return struct{}{}, backoff.Permanent(perm.err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxElapsedTime(d.config.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Debug("notification send failed, retrying",
				"notification_id", task.ID.String(),
				"template", string(task.Template),
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		d.fail(ctx, task, err)
		return
	}

	d.logger.Debug("notification sent",
		"notification_id", task.ID.String(),
		"user_id", task.UserID,
		"template", string(task.Template),
		"attempts", attempts,
	)
}

func (d *Dispatcher) fail(ctx context.Context, task Task, err error) {
	d.logger.Warn("notification dropped",
		"notification_id", task.ID.String(),
		"user_id", task.UserID,
		"template", string(task.Template),
		"error", err,
	)
	if d.onFailure != nil {
		d.onFailure(ctx, task, err)
	}
}

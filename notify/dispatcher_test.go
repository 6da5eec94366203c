package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []Task
	failures int32 // fail this many calls first
	err      error
}

func (s *recordingSender) SendBillingTemplate(_ context.Context, userID string, key TemplateKey, data map[string]any) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Task{UserID: userID, Template: key, Data: data})
	return nil
}

func (s *recordingSender) Sent() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.sent))
	copy(out, s.sent)
	return out
}

func newTestDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := NewDispatcher(sender, opts...)
	d.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return d
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(sender)
	d.Start(context.Background())

	require.NoError(t, d.Dispatch(context.Background(), NewTask("u1", PaymentSucceededSubscription, map[string]any{"planName": "Basic"})))
	require.NoError(t, d.Stop(context.Background()))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "u1", sent[0].UserID)
	assert.Equal(t, PaymentSucceededSubscription, sent[0].Template)
	assert.Equal(t, "Basic", sent[0].Data["planName"])
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	sender := &recordingSender{failures: 2, err: errors.New("smtp down")}
	d := newTestDispatcher(sender)
	d.Start(context.Background())

	require.NoError(t, d.Dispatch(context.Background(), NewTask("u1", PaymentFailed, nil)))
	require.NoError(t, d.Stop(context.Background()))

	assert.Len(t, sender.Sent(), 1)
}

func TestDispatcherReportsPermanentFailure(t *testing.T) {
	sender := &recordingSender{failures: 100, err: Permanent(errors.New("unknown template"))}

	var failed []Task
	var mu sync.Mutex
	d := newTestDispatcher(sender, WithFailureHandler(func(_ context.Context, task Task, _ error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, task)
	}))
	d.Start(context.Background())

	require.NoError(t, d.Dispatch(context.Background(), NewTask("u1", SubscriptionCanceled, nil)))
	require.NoError(t, d.Stop(context.Background()))

	assert.Empty(t, sender.Sent())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.Equal(t, SubscriptionCanceled, failed[0].Template)
	assert.Equal(t, int32(99), atomic.LoadInt32(&sender.failures), "permanent errors are not retried")
}

func TestDispatcherQueueFull(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(sender, WithConfig(Config{QueueSize: 1}))
	// Not started: the first task fills the queue.

	require.NoError(t, d.Dispatch(context.Background(), NewTask("u1", PaymentFailed, nil)))
	assert.ErrorIs(t, d.Dispatch(context.Background(), NewTask("u2", PaymentFailed, nil)), ErrQueueFull)
	assert.Equal(t, 1, d.Pending())

	d.Start(context.Background())
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, sender.Sent(), 1)
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := newTestDispatcher(&recordingSender{})
	d.Start(context.Background())
	require.NoError(t, d.Stop(context.Background()))

	assert.ErrorIs(t, d.Dispatch(context.Background(), NewTask("u1", PaymentFailed, nil)), ErrStopped)
	assert.NoError(t, d.Stop(context.Background()), "stop is idempotent")
}

func TestDispatcherNilSenderDiscards(t *testing.T) {
	d := newTestDispatcher(nil)
	d.Start(context.Background())
	assert.NoError(t, d.Dispatch(context.Background(), NewTask("u1", PaymentFailed, nil)))
	assert.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherStopHonorsDeadline(t *testing.T) {
	block := make(chan struct{})
	sender := SenderFunc(func(ctx context.Context, _ string, _ TemplateKey, _ map[string]any) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	d := newTestDispatcher(sender, WithConfig(Config{Workers: 1, SendTimeout: time.Hour, MaxElapsedTime: time.Hour}))
	d.Start(context.Background())
	require.NoError(t, d.Dispatch(context.Background(), NewTask("u1", PaymentFailed, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
	close(block)
}

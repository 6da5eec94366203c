// Package notify delivers billing notifications off the reconciliation
// path. Tasks are queued, sent by a small worker pool and retried with
// exponential backoff; a task that still fails is reported and dropped.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/paysync/id"
)

// TemplateKey names a billing notification template.
type TemplateKey string

const (
	PaymentSucceededSubscription TemplateKey = "paymentSucceededSubscription"
	SubscriptionRenewed          TemplateKey = "subscriptionRenewed"
	PaymentSucceededOneTime      TemplateKey = "paymentSucceededOneTime"
	PaymentFailed                TemplateKey = "paymentFailed"
	SubscriptionCanceled         TemplateKey = "subscriptionCanceled"
	CancelAtPeriodEndSet         TemplateKey = "cancelAtPeriodEndSet"
	SubscriptionResume           TemplateKey = "subscriptionResume"
)

var (
	// ErrQueueFull is returned by Dispatch when the queue has no room.
	ErrQueueFull = errors.New("notify: queue full")

	// ErrStopped is returned by Dispatch after Stop.
	ErrStopped = errors.New("notify: dispatcher stopped")
)

// Sender is the notification collaborator.
type Sender interface {
	SendBillingTemplate(ctx context.Context, userID string, key TemplateKey, data map[string]any) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, userID string, key TemplateKey, data map[string]any) error

// SendBillingTemplate implements Sender.
func (f SenderFunc) SendBillingTemplate(ctx context.Context, userID string, key TemplateKey, data map[string]any) error {
	return f(ctx, userID, key, data)
}

// Task is one queued notification.
type Task struct {
	ID         id.NotificationID
	UserID     string
	Template   TemplateKey
	Data       map[string]any
	EnqueuedAt time.Time
}

// NewTask builds a task with a fresh id.
func NewTask(userID string, key TemplateKey, data map[string]any) Task {
	return Task{
		ID:         id.NewNotificationID(),
		UserID:     userID,
		Template:   key,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Permanent wraps err so the dispatcher does not retry it.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

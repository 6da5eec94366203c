package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/plugin"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

type recorder struct {
	name string
	err  error

	mu    sync.Mutex
	calls []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnWebhookReceived(_ context.Context, evt *webhook.Event) error {
	return r.add("received:" + evt.ID)
}

func (r *recorder) OnPaymentRecorded(_ context.Context, p *payment.Payment, created bool) error {
	if created {
		return r.add("recorded:" + p.ProviderPaymentID)
	}
	return r.add("replayed:" + p.ProviderPaymentID)
}

// receivedOnly implements a single hook.
type receivedOnly struct{ recorder }

func (r *receivedOnly) OnPaymentRecorded() {}

type slowPlugin struct{ release chan struct{} }

func (s *slowPlugin) Name() string { return "slow" }

func (s *slowPlugin) OnSubscriptionSynced(context.Context, *subscription.Subscription) error {
	<-s.release
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	assert.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
}

func TestGetAndList(t *testing.T) {
	r := plugin.NewRegistry()
	a := &recorder{name: "a"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(&recorder{name: "b"}))

	assert.Same(t, a, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.List(), 2)
}

func TestEmitDispatchesInRegistrationOrder(t *testing.T) {
	r := plugin.NewRegistry()
	failing := &recorder{name: "failing", err: errors.New("boom")}
	ok := &recorder{name: "ok"}
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(ok))

	ctx := context.Background()
	r.EmitWebhookReceived(ctx, &webhook.Event{ID: "evt_1"})
	r.EmitPaymentRecorded(ctx, &payment.Payment{ProviderPaymentID: "in_1"}, true)
	r.EmitPaymentRecorded(ctx, &payment.Payment{ProviderPaymentID: "in_1"}, false)

	want := []string{"received:evt_1", "recorded:in_1", "replayed:in_1"}
	assert.Equal(t, want, failing.Calls(), "errors do not stop dispatch")
	assert.Equal(t, want, ok.Calls())
}

func TestEmitSkipsPluginsWithoutHook(t *testing.T) {
	r := plugin.NewRegistry()
	p := &receivedOnly{recorder: recorder{name: "partial"}}
	require.NoError(t, r.Register(p))

	r.EmitPaymentRecorded(context.Background(), &payment.Payment{ProviderPaymentID: "in_1"}, true)
	r.EmitWebhookReceived(context.Background(), &webhook.Event{ID: "evt_1"})

	assert.Equal(t, []string{"received:evt_1"}, p.Calls())
}

func TestEmitTimesOutSlowHooks(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	slow := &slowPlugin{release: make(chan struct{})}
	defer close(slow.release)
	require.NoError(t, r.Register(slow))

	start := time.Now()
	r.EmitSubscriptionSynced(context.Background(), &subscription.Subscription{})
	assert.Less(t, time.Since(start), time.Second)
}

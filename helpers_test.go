package paysync_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync"
	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/store/memory"
	"github.com/xraph/paysync/types"
	"github.com/xraph/paysync/webhook"
)

const fakeName = "fake"

// fakeProvider serves canned events and keeps subscriptions in memory.
type fakeProvider struct {
	mu        sync.Mutex
	events    map[string]*webhook.Event
	subs      map[string]*webhook.SubscriptionSnapshot
	fetchErr  error
	remoteErr error
	calls     []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		events: make(map[string]*webhook.Event),
		subs:   make(map[string]*webhook.SubscriptionSnapshot),
	}
}

func (f *fakeProvider) Name() string { return fakeName }

func (f *fakeProvider) VerifyWebhook(payload []byte, signature string) (*webhook.Event, error) {
	if signature != "valid" {
		return nil, fmt.Errorf("%w: bad signature", webhook.ErrInvalidSignature)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	evt, ok := f.events[string(payload)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload", webhook.ErrMalformedPayload)
	}
	cp := *evt
	return &cp, nil
}

func (f *fakeProvider) deliver(payload string, evt *webhook.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt.Provider = fakeName
	f.events[payload] = evt
}

func (f *fakeProvider) setSubscription(s *webhook.SubscriptionSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.subs[s.ID] = &cp
}

func (f *fakeProvider) FetchSubscription(_ context.Context, id string) (*webhook.SubscriptionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, id string) (*webhook.SubscriptionSnapshot, error) {
	return f.update("cancel:"+id, id, true)
}

func (f *fakeProvider) Resume(_ context.Context, id string) (*webhook.SubscriptionSnapshot, error) {
	return f.update("resume:"+id, id, false)
}

func (f *fakeProvider) update(call, id string, cancel bool) (*webhook.SubscriptionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.remoteErr != nil {
		return nil, f.remoteErr
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	s.CancelAtPeriodEnd = cancel
	cp := *s
	return &cp, nil
}

func (f *fakeProvider) SyncProduct(_ context.Context, spec catalog.ProductSpec, existing *catalog.BillingProduct) (*catalog.RemoteProduct, error) {
	productID := "prod_" + spec.Key
	if existing != nil {
		productID = existing.ProviderProductID
	}
	return &catalog.RemoteProduct{
		ProviderProductID: productID,
		ProviderPriceID:   fmt.Sprintf("price_%s_%s_%d", spec.Key, spec.Currency, spec.Amount),
	}, nil
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingSender collects delivered notifications.
type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Task
}

func (s *recordingSender) SendBillingTemplate(_ context.Context, userID string, key notify.TemplateKey, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, notify.Task{UserID: userID, Template: key, Data: data})
	return nil
}

func (s *recordingSender) Templates() []notify.TemplateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.TemplateKey, len(s.sent))
	for i, t := range s.sent {
		out[i] = t.Template
	}
	return out
}

func (s *recordingSender) Last() notify.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		catalog.Definition{
			Key:    "basic",
			Name:   "Basic",
			Mode:   catalog.ModeSubscription,
			Prices: []catalog.Price{{Amount: 1500, Currency: "usd"}},
			Bonuses: []bonus.Rule{
				{ApplyOn: bonus.ApplyOnFirst, Fields: map[string]int64{"aiCredits": 20}},
			},
		},
		catalog.Definition{
			Key:    "credits-100",
			Name:   "100 Credits",
			Mode:   catalog.ModeOneTime,
			Prices: []catalog.Price{{Amount: 900, Currency: "usd"}},
			Bonuses: []bonus.Rule{
				{ApplyOn: bonus.ApplyOnAlways, Fields: map[string]int64{"aiCredits": 100}},
			},
		},
	)
	require.NoError(t, err)
	return c
}

type harness struct {
	engine   *paysync.Engine
	store    *memory.Store
	provider *fakeProvider
	sender   *recordingSender
	now      time.Time
}

func newHarness(t *testing.T, opts ...paysync.Option) *harness {
	t.Helper()
	return newHarnessAt(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), opts...)
}

// newHarnessAt builds a harness whose clock is fixed at now.
func newHarnessAt(t *testing.T, now time.Time, opts ...paysync.Option) *harness {
	t.Helper()

	clock := types.MonotonicClock(func() time.Time { return now })

	h := &harness{
		store:    memory.New(memory.WithClock(clock)),
		provider: newFakeProvider(),
		sender:   &recordingSender{},
		now:      now,
	}

	base := []paysync.Option{
		paysync.WithProvider(h.provider),
		paysync.WithNotifier(h.sender),
		paysync.WithCatalog(testCatalog(t)),
		paysync.WithClock(clock),
		paysync.WithReconcileInterval(0),
		paysync.WithNotifyConfig(notify.Config{Workers: 1, QueueSize: 16, MaxElapsedTime: time.Second}),
	}
	h.engine = paysync.New(h.store, append(base, opts...)...)

	ctx := context.Background()
	require.NoError(t, h.engine.Start(ctx))
	t.Cleanup(func() { _ = h.engine.Stop(context.Background()) })
	return h
}

// drain stops the engine so every queued notification has been sent.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Stop(context.Background()))
}

func ptr[T any](v T) *T { return &v }

func invoicePaid(id, subID string, amount int64, created time.Time) *webhook.Event {
	return &webhook.Event{
		ID:        "evt_" + id,
		Provider:  fakeName,
		RawType:   "invoice.paid",
		Canonical: webhook.PaymentSucceeded,
		CreatedAt: created,
		Payment: &webhook.PaymentPayload{
			Kind:                   webhook.KindInvoice,
			ProviderPaymentID:      id,
			InvoiceID:              id,
			ProviderSubscriptionID: subID,
			Amount:                 amount,
			Currency:               "usd",
			BillingReason:          "subscription_create",
			InvoiceURL:             "https://invoice.example/" + id,
			PaidAt:                 ptr(created),
			Correlation:            webhook.Correlation{UserID: "u1", PlanKey: "basic"},
		},
	}
}

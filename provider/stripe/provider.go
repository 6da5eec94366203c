// Package stripe implements provider.Provider on top of stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/webhook"
)

// Name is the provider name recorded on payments and subscriptions.
const Name = "stripe"

// idempotencyNamespace scopes deterministic idempotency keys.
var idempotencyNamespace = uuid.MustParse("5b0e3a0c-2f4b-4b8e-9a3e-6f1c0d7a9e21")

// Config holds Stripe credentials.
type Config struct {
	APIKey        string        `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	WebhookSecret string        `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	Tolerance     time.Duration `json:"tolerance" mapstructure:"tolerance" yaml:"tolerance"`
}

// Provider talks to Stripe. The SDK calls are held in fields so tests can
// replace them.
type Provider struct {
	webhookSecret string
	tolerance     time.Duration
	logger        *slog.Logger

	getSubscription    func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	updateSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	newProduct         func(params *stripelib.ProductParams) (*stripelib.Product, error)
	newPrice           func(params *stripelib.PriceParams) (*stripelib.Price, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Stripe provider. A webhook secret is required; without an
// API key only webhook verification works and remote calls fail with
// provider.ErrNotConfigured.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is empty", provider.ErrNotConfigured)
	}

	p := &Provider{
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.Tolerance,
		logger:        slog.Default(),
	}

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		backend := stripelib.GetBackend(stripelib.APIBackend)
		subs := subscription.Client{B: backend, Key: key}
		products := product.Client{B: backend, Key: key}
		prices := price.Client{B: backend, Key: key}
		p.getSubscription = subs.Get
		p.updateSubscription = subs.Update
		p.newProduct = products.New
		p.newPrice = prices.New
	} else {
		notConfigured := fmt.Errorf("%w: stripe api key is empty", provider.ErrNotConfigured)
		p.getSubscription = func(string, *stripelib.SubscriptionParams) (*stripelib.Subscription, error) { return nil, notConfigured }
		p.updateSubscription = p.getSubscription
		p.newProduct = func(*stripelib.ProductParams) (*stripelib.Product, error) { return nil, notConfigured }
		p.newPrice = func(*stripelib.PriceParams) (*stripelib.Price, error) { return nil, notConfigured }
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements catalog.Remote.
func (p *Provider) Name() string { return Name }

// FetchSubscription implements provider.Provider.
func (p *Provider) FetchSubscription(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.getSubscription(providerSubscriptionID, params)
	if err != nil {
		return nil, classify("get subscription "+providerSubscriptionID, err)
	}
	return snapshotFromSDK(sub), nil
}

// CancelAtPeriodEnd implements provider.Provider.
func (p *Provider) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error) {
	return p.setCancelAtPeriodEnd(ctx, providerSubscriptionID, true)
}

// Resume implements provider.Provider.
func (p *Provider) Resume(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error) {
	return p.setCancelAtPeriodEnd(ctx, providerSubscriptionID, false)
}

func (p *Provider) setCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool) (*webhook.SubscriptionSnapshot, error) {
	params := &stripelib.SubscriptionParams{
		CancelAtPeriodEnd: stripelib.Bool(cancel),
	}
	params.Context = ctx
	sub, err := p.updateSubscription(providerSubscriptionID, params)
	if err != nil {
		return nil, classify("update subscription "+providerSubscriptionID, err)
	}
	p.logger.Info("stripe subscription updated",
		"provider_subscription_id", providerSubscriptionID,
		"cancel_at_period_end", cancel,
	)
	return snapshotFromSDK(sub), nil
}

// SyncProduct implements catalog.Remote. Stripe prices are immutable, so
// every change creates a new price under the existing product.
func (p *Provider) SyncProduct(ctx context.Context, spec catalog.ProductSpec, existing *catalog.BillingProduct) (*catalog.RemoteProduct, error) {
	ref := &catalog.RemoteProduct{}
	if existing != nil {
		ref.ProviderProductID = existing.ProviderProductID
	}

	if ref.ProviderProductID == "" {
		name := spec.Name
		if name == "" {
			name = spec.Key
		}
		params := &stripelib.ProductParams{Name: stripelib.String(name)}
		if spec.Description != "" {
			params.Description = stripelib.String(spec.Description)
		}
		params.Context = ctx
		params.AddMetadata("productKey", spec.Key)
		params.AddMetadata("mode", string(spec.Mode))
		params.SetIdempotencyKey(idempotencyKey("product", spec.Key, string(spec.Mode)))

		prod, err := p.newProduct(params)
		if err != nil {
			return nil, classify("create product "+spec.Key, err)
		}
		ref.ProviderProductID = prod.ID
	}

	params := &stripelib.PriceParams{
		Currency:   stripelib.String(spec.Currency),
		UnitAmount: stripelib.Int64(spec.Amount),
		Product:    stripelib.String(ref.ProviderProductID),
	}
	if spec.Mode == catalog.ModeSubscription {
		params.Recurring = &stripelib.PriceRecurringParams{
			Interval: stripelib.String(string(spec.Interval)),
		}
	}
	params.Context = ctx
	params.AddMetadata("productKey", spec.Key)
	params.SetIdempotencyKey(idempotencyKey("price", ref.ProviderProductID, spec.Currency,
		fmt.Sprint(spec.Amount), string(spec.Interval)))

	pr, err := p.newPrice(params)
	if err != nil {
		return nil, classify("create price "+spec.Key, err)
	}
	ref.ProviderPriceID = pr.ID
	return ref, nil
}

// snapshotFromSDK converts an API response. Period bounds come from the
// first item.
func snapshotFromSDK(sub *stripelib.Subscription) *webhook.SubscriptionSnapshot {
	s := &webhook.SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialStart:        unixPtr(sub.TrialStart),
		TrialEnd:          unixPtr(sub.TrialEnd),
		CancelAt:          unixPtr(sub.CancelAt),
		CanceledAt:        unixPtr(sub.CanceledAt),
		EndedAt:           unixPtr(sub.EndedAt),
		Correlation:       webhook.CorrelationFromMetadata(sub.Metadata),
		Metadata:          sub.Metadata,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		s.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		s.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		if item.Price != nil {
			s.PriceID = item.Price.ID
		}
	}
	return s
}

// classify maps SDK failures onto provider sentinels.
func classify(op string, err error) error {
	if errors.Is(err, provider.ErrNotConfigured) {
		return err
	}

	var se *stripelib.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripelib.ErrorCodeResourceMissing:
			return fmt.Errorf("stripe: %s: %w: %w", op, provider.ErrNotFound, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("stripe: %s: %w: %w", op, provider.ErrTransient, err)
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stripe: %s: %w: %w", op, provider.ErrTransient, err)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}

func idempotencyKey(parts ...string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join(parts, "|"))).String()
}

var _ provider.Provider = (*Provider)(nil)

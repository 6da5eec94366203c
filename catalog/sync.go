package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// ProductSpec is what a provider needs to create or update one price.
type ProductSpec struct {
	Key         string
	Name        string
	Description string
	Mode        Mode
	Amount      int64
	Currency    string
	Interval    Interval
	TrialDays   int
}

// RemoteProduct is the provider identity of a synced price.
type RemoteProduct struct {
	ProviderProductID string
	ProviderPriceID   string
}

// Remote creates or updates products and prices on a provider.
type Remote interface {
	Name() string

	// SyncProduct makes the provider carry spec. existing is the cached
	// row, nil on first sync; implementations reuse its product id.
	SyncProduct(ctx context.Context, spec ProductSpec, existing *BillingProduct) (*RemoteProduct, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Synced    []*BillingProduct
	Unchanged int
}

// Syncer pushes catalog definitions to a provider and caches the result.
type Syncer struct {
	store       Store
	catalog     *Catalog
	concurrency int
	clock       types.Clock
	logger      *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncLogger sets the syncer logger.
func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = logger }
}

// WithConcurrency bounds the number of in-flight provider calls.
func WithConcurrency(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewSyncer creates a catalog syncer.
func NewSyncer(s Store, c *Catalog, opts ...SyncerOption) *Syncer {
	sy := &Syncer{
		store:       s,
		catalog:     c,
		concurrency: 4,
		clock:       types.SystemClock,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(sy)
	}
	return sy
}

// Sync pushes every (definition, price) pair to remote. Rows whose cached
// state already matches are left alone. The first provider error cancels
// the remaining work; rows synced before it stay cached.
func (s *Syncer) Sync(ctx context.Context, remote Remote) (*SyncResult, error) {
	var (
		mu     sync.Mutex
		result = &SyncResult{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, def := range s.catalog.Definitions() {
		for _, price := range def.Prices {
			spec := ProductSpec{
				Key:         def.Key,
				Name:        def.Name,
				Description: def.Description,
				Mode:        def.Mode,
				Amount:      price.Amount,
				Currency:    price.Currency,
				Interval:    def.Interval,
				TrialDays:   def.TrialDays,
			}
			g.Go(func() error {
				p, changed, err := s.syncOne(gctx, remote, spec)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if changed {
					result.Synced = append(result.Synced, p)
				} else {
					result.Unchanged++
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	s.logger.Info("catalog synced",
		"provider", remote.Name(),
		"synced", len(result.Synced),
		"unchanged", result.Unchanged,
	)
	return result, nil
}

func (s *Syncer) syncOne(ctx context.Context, remote Remote, spec ProductSpec) (*BillingProduct, bool, error) {
	key := ProductKey{Key: spec.Key, Mode: spec.Mode, Provider: remote.Name(), Currency: spec.Currency}

	existing, err := s.store.GetBillingProduct(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("catalog: load %s/%s: %w", spec.Key, spec.Currency, err)
	}
	if existing != nil && existing.matches(spec) {
		return existing, false, nil
	}

	ref, err := remote.SyncProduct(ctx, spec, existing)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: sync %s/%s: %w", spec.Key, spec.Currency, err)
	}

	row := &BillingProduct{
		ID:                id.NewBillingProductID(),
		Entity:            types.NewEntityAt(s.clock()),
		Key:               spec.Key,
		Mode:              spec.Mode,
		Provider:          remote.Name(),
		Currency:          spec.Currency,
		Name:              spec.Name,
		ProviderProductID: ref.ProviderProductID,
		ProviderPriceID:   ref.ProviderPriceID,
		Amount:            spec.Amount,
		Interval:          spec.Interval,
		TrialDays:         spec.TrialDays,
		Active:            true,
	}
	if spec.Mode == ModeOneTime {
		row.Interval = ""
		row.TrialDays = 0
	}

	stored, err := s.store.UpsertBillingProduct(ctx, row)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: store %s/%s: %w", spec.Key, spec.Currency, err)
	}
	s.logger.Debug("billing product synced",
		"key", spec.Key,
		"currency", spec.Currency,
		"provider_price_id", stored.ProviderPriceID,
	)
	return stored, true, nil
}

// Resolve returns the cached billing product for checkout.
func (s *Syncer) Resolve(ctx context.Context, key ProductKey) (*BillingProduct, error) {
	return s.store.GetBillingProduct(ctx, key)
}

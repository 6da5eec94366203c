package catalog

import "context"

// Store persists the billing product cache.
type Store interface {
	// UpsertBillingProduct writes p keyed by its ProductKey and returns the
	// stored row. ID and CreatedAt of an existing row are preserved.
	UpsertBillingProduct(ctx context.Context, p *BillingProduct) (*BillingProduct, error)
	GetBillingProduct(ctx context.Context, key ProductKey) (*BillingProduct, error)
	ListBillingProducts(ctx context.Context, provider string) ([]*BillingProduct, error)
}

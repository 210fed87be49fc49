package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Catalog is the transactional store behind the writer and the adjuster.
// The Postgres implementation lives in internal/database; MemoryCatalog
// serves tests and dry runs.
type Catalog interface {
	// InTx runs fn in a single transaction. A non-nil error from fn rolls
	// the transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(tx CatalogTx) error) error

	// PriceHistory lists a product's price entries, most recent first.
	PriceHistory(ctx context.Context, productID uuid.UUID, limit int) ([]PriceHistory, error)

	CreateUpload(ctx context.Context, u Upload) error
	UpdateUpload(ctx context.Context, u Upload) error
	// FindCompletedUpload returns nil, nil when no completed upload matches.
	FindCompletedUpload(ctx context.Context, supplierID, checksum string) (*Upload, error)
}

// CatalogTx is the set of operations available inside one transaction.
// Every write carries the supplier ID so the store can refuse rows that
// belong to another supplier.
type CatalogTx interface {
	// LockKey serializes writers on one (supplier, sku) pair until commit.
	LockKey(ctx context.Context, supplierID, sku string) error
	// LockSupplierProduct returns the product FOR UPDATE, or nil if absent.
	LockSupplierProduct(ctx context.Context, supplierID, sku string) (*SupplierProduct, error)
	InsertSupplierProduct(ctx context.Context, p SupplierProduct) error
	UpdateSupplierProduct(ctx context.Context, p SupplierProduct) error

	// CurrentPrice returns the open price row, or nil if none.
	CurrentPrice(ctx context.Context, productID uuid.UUID) (*PriceHistory, error)
	ClosePrice(ctx context.Context, priceID uuid.UUID, at time.Time) error
	InsertPrice(ctx context.Context, p PriceHistory) error

	// LockInventoryByProduct returns the product's inventory FOR UPDATE, or nil.
	LockInventoryByProduct(ctx context.Context, supplierID string, productID uuid.UUID) (*InventoryItem, error)
	// LockInventoryItem returns ErrInventoryNotFound if the item does not exist.
	LockInventoryItem(ctx context.Context, itemID uuid.UUID) (*InventoryItem, error)
	InsertInventoryItem(ctx context.Context, item InventoryItem) error
	SetQuantityOnHand(ctx context.Context, supplierID string, itemID uuid.UUID, onHand int64, at time.Time) error
	AppendMovement(ctx context.Context, m StockMovement) error
}

// RetryableError is implemented by store errors that are safe to retry,
// such as serialization failures and deadlocks.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err (or anything it wraps) is retryable.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re) && re.Retryable()
}

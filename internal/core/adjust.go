package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StockAdjustment is a manual on-hand delta for one inventory item.
type StockAdjustment struct {
	InventoryItemID uuid.UUID `json:"inventoryItemId"`
	Delta           int64     `json:"delta"`
	Reason          string    `json:"reason"`
}

// AdjustmentResult describes an applied adjustment.
type AdjustmentResult struct {
	InventoryItemID  uuid.UUID `json:"inventoryItemId"`
	MovementID       uuid.UUID `json:"movementId"`
	QuantityBefore   int64     `json:"quantityBefore"`
	QuantityOnHand   int64     `json:"quantityOnHand"`
	QuantityReserved int64     `json:"quantityReserved"`
}

// ErrInvalidAdjustment is returned for malformed adjustment requests.
var ErrInvalidAdjustment = errors.New("invalid adjustment")

// StockAdjuster applies single-item deltas under the same invariant as the
// bulk writer.
type StockAdjuster struct {
	catalog Catalog
	now     func() time.Time
}

// NewStockAdjuster creates an adjuster over catalog.
func NewStockAdjuster(catalog Catalog) *StockAdjuster {
	return &StockAdjuster{catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// Adjust locks the item, validates current+delta, and on success writes the
// new quantity and appends a movement in the same transaction. Rejections
// are returned as *InvariantError and nothing is written.
func (a *StockAdjuster) Adjust(ctx context.Context, adj StockAdjustment) (AdjustmentResult, error) {
	if adj.InventoryItemID == uuid.Nil {
		return AdjustmentResult{}, fmt.Errorf("%w: inventory item id is required", ErrInvalidAdjustment)
	}
	if adj.Delta == 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAdjustment)
	}
	reason := strings.TrimSpace(adj.Reason)
	if reason == "" {
		return AdjustmentResult{}, fmt.Errorf("%w: reason is required", ErrInvalidAdjustment)
	}

	var res AdjustmentResult
	err := a.catalog.InTx(ctx, func(tx CatalogTx) error {
		item, err := tx.LockInventoryItem(ctx, adj.InventoryItemID)
		if err != nil {
			return err
		}

		if (adj.Delta > 0 && item.QuantityOnHand > math.MaxInt64-adj.Delta) ||
			(adj.Delta < 0 && item.QuantityOnHand < math.MinInt64-adj.Delta) {
			return fmt.Errorf("%w: delta %d overflows on hand %d", ErrInvalidAdjustment, adj.Delta, item.QuantityOnHand)
		}
		newOnHand := item.QuantityOnHand + adj.Delta
		if err := CheckStockChange(*item, newOnHand); err != nil {
			return err
		}

		now := a.now()
		if err := tx.SetQuantityOnHand(ctx, item.SupplierID, item.ID, newOnHand, now); err != nil {
			return err
		}
		m := StockMovement{
			ID:              uuid.New(),
			InventoryItemID: item.ID,
			SupplierID:      item.SupplierID,
			Delta:           adj.Delta,
			QuantityBefore:  item.QuantityOnHand,
			QuantityAfter:   newOnHand,
			Reason:          reason,
			Source:          MovementAdjustment,
			CreatedAt:       now,
		}
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}

		res = AdjustmentResult{
			InventoryItemID:  item.ID,
			MovementID:       m.ID,
			QuantityBefore:   item.QuantityOnHand,
			QuantityOnHand:   newOnHand,
			QuantityReserved: item.QuantityReserved,
		}
		return nil
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	return res, nil
}

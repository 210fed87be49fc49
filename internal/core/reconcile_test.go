package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func qty(n int64) *int64 { return &n }

func prow(line int, sku, cost string, stock *int64) ParsedProductRow {
	row := ParsedProductRow{Line: line, SupplierSKU: sku, Name: "Item " + sku, StockQty: stock}
	if cost != "" {
		row.CostPrice = dec(cost)
	}
	return row
}

// faultyCatalog wraps MemoryCatalog to inject transaction failures and to
// substitute the transaction seen by the writer.
type faultyCatalog struct {
	*MemoryCatalog
	attempts int
	failTx   func(attempt int) error
	wrap     func(tx CatalogTx) CatalogTx
}

func (c *faultyCatalog) InTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	c.attempts++
	if c.failTx != nil {
		if err := c.failTx(c.attempts); err != nil {
			return err
		}
	}
	return c.MemoryCatalog.InTx(ctx, func(tx CatalogTx) error {
		if c.wrap != nil {
			tx = c.wrap(tx)
		}
		return fn(tx)
	})
}

type serializationError struct{}

func (serializationError) Error() string   { return "could not serialize access due to concurrent update" }
func (serializationError) Retryable() bool { return true }

// failingInsertTx breaks the transaction when a given SKU is inserted.
type failingInsertTx struct {
	CatalogTx
	sku string
}

func (t failingInsertTx) InsertSupplierProduct(ctx context.Context, p SupplierProduct) error {
	if p.SupplierSKU == t.sku {
		return errors.New("insert failed: connection reset by peer")
	}
	return t.CatalogTx.InsertSupplierProduct(ctx, p)
}

// foreignProductTx reports a product owned by another supplier for one SKU.
type foreignProductTx struct {
	CatalogTx
	sku string
}

func (t foreignProductTx) LockSupplierProduct(ctx context.Context, supplierID, sku string) (*SupplierProduct, error) {
	if sku == t.sku {
		return &SupplierProduct{ID: uuid.New(), SupplierID: "someone-else", SupplierSKU: sku}, nil
	}
	return t.CatalogTx.LockSupplierProduct(ctx, supplierID, sku)
}

// foreignInventoryTx reports inventory owned by another supplier.
type foreignInventoryTx struct {
	CatalogTx
}

func (t foreignInventoryTx) LockInventoryByProduct(ctx context.Context, supplierID string, productID uuid.UUID) (*InventoryItem, error) {
	return &InventoryItem{ID: uuid.New(), SupplierProductID: productID, SupplierID: "someone-else"}, nil
}

// numericTx stores costs the way a NUMERIC(18,4) column does.
type numericTx struct {
	CatalogTx
}

func round4(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(4)
	return &r
}

func (t numericTx) InsertSupplierProduct(ctx context.Context, p SupplierProduct) error {
	p.CurrentCost = round4(p.CurrentCost)
	return t.CatalogTx.InsertSupplierProduct(ctx, p)
}

func (t numericTx) UpdateSupplierProduct(ctx context.Context, p SupplierProduct) error {
	p.CurrentCost = round4(p.CurrentCost)
	return t.CatalogTx.UpdateSupplierProduct(ctx, p)
}

func (t numericTx) InsertPrice(ctx context.Context, p PriceHistory) error {
	p.Price = p.Price.Round(4)
	return t.CatalogTx.InsertPrice(ctx, p)
}

func newTestReconciler(c Catalog) *Reconciler {
	r := NewReconciler(c)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestReconcile_CreateThenIdempotent(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)
	rows := []ParsedProductRow{
		prow(2, "A", "10.00", qty(5)),
		prow(3, "B", "2.50", nil),
	}

	res, err := r.Reconcile(ctx, "sup-1", rows, ReconcileOptions{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.PriceChanges)
	assert.Equal(t, 2, res.RowsApplied)
	assert.Equal(t, 1, res.ChunksCommitted)
	require.Len(t, cat.Products(), 2)
	require.Len(t, cat.Movements(), 1)
	assert.Equal(t, int64(5), cat.Movements()[0].Delta)
	assert.Equal(t, MovementImport, cat.Movements()[0].Source)
	assert.Equal(t, "job-1", cat.Movements()[0].JobID)

	res, err = r.Reconcile(ctx, "sup-1", rows, ReconcileOptions{JobID: "job-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)
	assert.Zero(t, res.Created+res.Updated)
	assert.Zero(t, res.PriceChanges)
	assert.Len(t, cat.Movements(), 1, "re-import must not add movements")

	a, ok := cat.Product("sup-1", "A")
	require.True(t, ok)
	assert.Len(t, cat.Prices(a.ID), 1, "re-import must not add prices")
}

func TestReconcile_IdempotentAtStoredScale(t *testing.T) {
	ctx := context.Background()
	cat := &faultyCatalog{
		MemoryCatalog: NewMemoryCatalog(),
		wrap:          func(tx CatalogTx) CatalogTx { return numericTx{CatalogTx: tx} },
	}
	r := newTestReconciler(cat)
	rows := []ParsedProductRow{prow(2, "A", "0.123456", qty(5))}

	res, err := r.Reconcile(ctx, "sup-1", rows, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	for run := 0; run < 2; run++ {
		res, err = r.Reconcile(ctx, "sup-1", rows, ReconcileOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Unchanged, "run %d", run+2)
		assert.Zero(t, res.Updated)
		assert.Zero(t, res.PriceChanges)
	}

	a, _ := cat.Product("sup-1", "A")
	assert.Equal(t, "0.1235", a.CurrentCost.String())
	prices := cat.Prices(a.ID)
	require.Len(t, prices, 1)
	assert.Equal(t, "0.1235", prices[0].Price.String())
}

func TestReconcile_CostOutOfRangeIsRowError(t *testing.T) {
	cat := NewMemoryCatalog()
	res, err := newTestReconciler(cat).Reconcile(context.Background(), "sup-1", []ParsedProductRow{
		prow(2, "A", "1.00", nil),
		prow(3, "HUGE", "100000000000000", qty(1)),
		prow(4, "C", "2.00", nil),
	}, ReconcileOptions{})
	require.NoError(t, err, "an unstorable cost must not abort the chunk")
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Errored)
	assert.Equal(t, CodeCostOutOfRange, res.Outcomes[1].Code)

	_, ok := cat.Product("sup-1", "HUGE")
	assert.False(t, ok)
}

func TestReconcile_DuplicateSKULastWriteWins(t *testing.T) {
	ctx := context.Background()

	for _, chunkSize := range []int{2, 10} {
		t.Run(fmt.Sprintf("chunk=%d", chunkSize), func(t *testing.T) {
			cat := NewMemoryCatalog()
			res, err := newTestReconciler(cat).Reconcile(ctx, "sup-1", []ParsedProductRow{
				prow(2, "A", "10", qty(5)),
				prow(3, "B", "1", nil),
				prow(4, "A", "12", qty(7)),
			}, ReconcileOptions{ChunkSize: chunkSize})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Created)
			assert.Equal(t, 1, res.Updated)

			a, ok := cat.Product("sup-1", "A")
			require.True(t, ok)
			assert.True(t, a.CurrentCost.Equal(decimal.NewFromInt(12)))
			inv, _ := cat.InventoryFor(a.ID)
			assert.Equal(t, int64(7), inv.QuantityOnHand)

			prices := cat.Prices(a.ID)
			require.Len(t, prices, 2)
			assert.True(t, prices[1].IsCurrent)
			assert.True(t, prices[1].Price.Equal(decimal.NewFromInt(12)))
			assert.False(t, prices[0].IsCurrent)
		})
	}
}

func TestReconcile_ConcurrentRunsSameSupplier(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, cost := range []string{"10", "20"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows := []ParsedProductRow{prow(2, "A", cost, qty(3)), prow(3, "B", cost, nil)}
			_, errs[i] = r.Reconcile(ctx, "sup-1", rows, ReconcileOptions{ChunkSize: 1})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, cat.Products(), 2, "one product per key")
	for _, p := range cat.Products() {
		current := 0
		for _, price := range cat.Prices(p.ID) {
			if price.IsCurrent {
				current++
				assert.True(t, price.Price.Equal(*p.CurrentCost), "current price matches product cost")
			}
		}
		assert.Equal(t, 1, current, p.SupplierSKU)
	}
}

func TestReconcile_PriceChangeVersionsHistory(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "10.00", nil)}, ReconcileOptions{})
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "12.00", nil)}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.PriceChanges)
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].PriceChanged)

	a, _ := cat.Product("sup-1", "A")
	assert.True(t, a.CurrentCost.Equal(decimal.RequireFromString("12")))

	prices := cat.Prices(a.ID)
	require.Len(t, prices, 2)
	assert.False(t, prices[0].IsCurrent)
	require.NotNil(t, prices[0].ValidTo)
	assert.True(t, prices[1].IsCurrent)
	assert.Nil(t, prices[1].ValidTo)
	assert.Equal(t, DefaultCurrency, prices[1].Currency)

	current := 0
	for _, p := range prices {
		if p.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestReconcile_CurrencyChangeIsPriceChange(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "10", nil)}, ReconcileOptions{})
	require.NoError(t, err)

	row := prow(2, "A", "10", nil)
	row.Currency = "EUR"
	res, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{row}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PriceChanges)

	a, _ := cat.Product("sup-1", "A")
	prices := cat.Prices(a.ID)
	require.Len(t, prices, 2)
	assert.Equal(t, "EUR", prices[1].Currency)
}

func TestReconcile_StockChangeAppendsMovement(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "", qty(5))}, ReconcileOptions{})
	require.NoError(t, err)
	res, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "", qty(8))}, ReconcileOptions{JobID: "job-9"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.True(t, res.Outcomes[0].StockChanged)

	a, _ := cat.Product("sup-1", "A")
	inv, ok := cat.InventoryFor(a.ID)
	require.True(t, ok)
	assert.Equal(t, int64(8), inv.QuantityOnHand)

	moves := cat.Movements()
	require.Len(t, moves, 2)
	last := moves[1]
	assert.Equal(t, int64(3), last.Delta)
	assert.Equal(t, int64(5), last.QuantityBefore)
	assert.Equal(t, int64(8), last.QuantityAfter)
	assert.Equal(t, "job-9", last.JobID)
}

func TestReconcile_EmptyCellsKeepStoredValues(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "10", qty(5))}, ReconcileOptions{})
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{{Line: 2, SupplierSKU: "A"}}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	a, _ := cat.Product("sup-1", "A")
	assert.Equal(t, "Item A", a.Name)
	assert.True(t, a.CurrentCost.Equal(decimal.NewFromInt(10)))
	inv, _ := cat.InventoryFor(a.ID)
	assert.Equal(t, int64(5), inv.QuantityOnHand)
}

func TestReconcile_StockBelowReserved(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{
		prow(2, "A", "10", qty(10)),
		prow(3, "B", "5", qty(1)),
	}, ReconcileOptions{})
	require.NoError(t, err)

	a, _ := cat.Product("sup-1", "A")
	inv, _ := cat.InventoryFor(a.ID)
	require.NoError(t, cat.Reserve(inv.ID, 6))

	res, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{
		prow(2, "A", "11", qty(4)),
		prow(3, "B", "5", qty(3)),
	}, ReconcileOptions{})
	require.NoError(t, err, "row rejections never fail the run")
	assert.Equal(t, 1, res.Errored)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.RowsApplied)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, RowError, res.Outcomes[0].Status)
	assert.Equal(t, CodeStockBelowReserved, res.Outcomes[0].Code)

	// The rejected row left product, price, and stock untouched.
	a, _ = cat.Product("sup-1", "A")
	assert.True(t, a.CurrentCost.Equal(decimal.NewFromInt(10)))
	assert.Len(t, cat.Prices(a.ID), 1)
	inv, _ = cat.InventoryFor(a.ID)
	assert.Equal(t, int64(10), inv.QuantityOnHand)
	assert.Equal(t, int64(6), inv.QuantityReserved)
}

func TestReconcile_SuppliersAreIsolated(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()
	r := newTestReconciler(cat)

	_, err := r.Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "10", qty(1))}, ReconcileOptions{})
	require.NoError(t, err)
	res, err := r.Reconcile(ctx, "sup-2", []ParsedProductRow{prow(2, "A", "20", qty(2))}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	p1, _ := cat.Product("sup-1", "A")
	p2, _ := cat.Product("sup-2", "A")
	assert.NotEqual(t, p1.ID, p2.ID)
	assert.True(t, p1.CurrentCost.Equal(decimal.NewFromInt(10)))
}

func TestReconcile_IsolationViolation(t *testing.T) {
	ctx := context.Background()

	t.Run("product", func(t *testing.T) {
		cat := &faultyCatalog{
			MemoryCatalog: NewMemoryCatalog(),
			wrap:          func(tx CatalogTx) CatalogTx { return foreignProductTx{CatalogTx: tx, sku: "STOLEN"} },
		}
		res, err := newTestReconciler(cat).Reconcile(ctx, "sup-1", []ParsedProductRow{
			prow(2, "A", "1", nil),
			prow(3, "STOLEN", "1", nil),
		}, ReconcileOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, 1, res.Errored)
		assert.Equal(t, CodeSupplierIsolationViolation, res.Outcomes[1].Code)
		_, ok := cat.Product("sup-1", "STOLEN")
		assert.False(t, ok)
	})

	t.Run("inventory", func(t *testing.T) {
		mem := NewMemoryCatalog()
		_, err := newTestReconciler(mem).Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "1", qty(1))}, ReconcileOptions{})
		require.NoError(t, err)

		cat := &faultyCatalog{
			MemoryCatalog: mem,
			wrap:          func(tx CatalogTx) CatalogTx { return foreignInventoryTx{CatalogTx: tx} },
		}
		res, err := newTestReconciler(cat).Reconcile(ctx, "sup-1", []ParsedProductRow{prow(2, "A", "2", qty(9))}, ReconcileOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Errored)
		assert.Equal(t, CodeSupplierIsolationViolation, res.Outcomes[0].Code)
	})
}

func manyRows(n int) []ParsedProductRow {
	rows := make([]ParsedProductRow, n)
	for i := range rows {
		rows[i] = prow(i+2, fmt.Sprintf("SKU-%02d", i), "1.00", qty(1))
	}
	return rows
}

func TestReconcile_CancelBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cat := NewMemoryCatalog()

	var calls int
	res, err := newTestReconciler(cat).Reconcile(ctx, "sup-1", manyRows(10), ReconcileOptions{
		ChunkSize: 2,
		OnChunk: func(applied, committed, total int) {
			calls++
			assert.Equal(t, 5, total)
			if committed == 2 {
				cancel()
			}
		},
	})

	assert.Equal(t, CodeCancelled, CodeOf(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.ChunksCommitted)
	assert.Equal(t, 5, res.ChunksTotal)
	assert.Equal(t, 4, res.RowsApplied)
	assert.Len(t, cat.Products(), 4, "committed chunks are kept")
}

func TestReconcile_DeadlineBeforeFirstChunk(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := newTestReconciler(NewMemoryCatalog()).Reconcile(ctx, "sup-1", manyRows(3), ReconcileOptions{})
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Zero(t, res.ChunksCommitted)
}

func TestReconcile_TxFailureKeepsCommittedChunks(t *testing.T) {
	cat := &faultyCatalog{
		MemoryCatalog: NewMemoryCatalog(),
		wrap:          func(tx CatalogTx) CatalogTx { return failingInsertTx{CatalogTx: tx, sku: "FAIL"} },
	}
	rows := []ParsedProductRow{
		prow(2, "A", "1", nil),
		prow(3, "B", "1", nil),
		prow(4, "C", "1", nil),
		prow(5, "FAIL", "1", nil),
		prow(6, "E", "1", nil),
	}

	res, err := newTestReconciler(cat).Reconcile(context.Background(), "sup-1", rows, ReconcileOptions{ChunkSize: 2})
	assert.Equal(t, CodeTxFailed, CodeOf(err))
	assert.Equal(t, 1, res.ChunksCommitted)
	assert.Equal(t, 2, res.RowsApplied)
	assert.Equal(t, 2, cat.attempts, "non-retryable errors are not retried")

	_, ok := cat.Product("sup-1", "C")
	assert.False(t, ok, "failed chunk rolled back")
	_, ok = cat.Product("sup-1", "E")
	assert.False(t, ok, "later chunks never ran")
	assert.Len(t, cat.Products(), 2)
}

func TestReconcile_RetriesTransientErrors(t *testing.T) {
	cat := &faultyCatalog{
		MemoryCatalog: NewMemoryCatalog(),
		failTx: func(attempt int) error {
			if attempt <= 2 {
				return fmt.Errorf("commit: %w", serializationError{})
			}
			return nil
		},
	}
	r := newTestReconciler(cat)
	var backoffs []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	res, err := r.Reconcile(context.Background(), "sup-1", manyRows(3), ReconcileOptions{ChunkRetries: 3, RetryBackoff: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, cat.attempts)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, backoffs)
}

func TestReconcile_RetriesExhausted(t *testing.T) {
	cat := &faultyCatalog{
		MemoryCatalog: NewMemoryCatalog(),
		failTx:        func(int) error { return serializationError{} },
	}

	res, err := newTestReconciler(cat).Reconcile(context.Background(), "sup-1", manyRows(3), ReconcileOptions{ChunkRetries: 1})
	assert.Equal(t, CodeTxFailed, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2, cat.attempts)
	assert.Zero(t, res.RowsApplied)
	assert.Empty(t, cat.Products())
}

func TestReconcile_NoRows(t *testing.T) {
	res, err := newTestReconciler(NewMemoryCatalog()).Reconcile(context.Background(), "sup-1", nil, ReconcileOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.ChunksTotal)
	assert.Empty(t, res.Outcomes)
}

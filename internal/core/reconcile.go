package core

// reconcile.go merges normalized rows into the catalog.
//
// Rows are written in file order, in chunks, one transaction per chunk.
// Row-level problems become outcomes and never abort a chunk; a failed
// transaction aborts its chunk and the run, keeping what earlier chunks
// committed. Cancellation and the job deadline are only observed between
// chunks so a transaction is never abandoned halfway.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Writer defaults.
const (
	DefaultChunkSize    = 500
	DefaultChunkRetries = 3
	DefaultRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
	DefaultCurrency     = "USD"
)

// CostScale is the number of decimal places the catalog keeps for costs.
// Costs are compared after rounding to it so re-imports stay unchanged.
const CostScale = 4

// MaxCost is the exclusive upper bound of a storable cost.
var MaxCost = decimal.New(1, 14)

// CostInRange reports whether d fits the catalog's cost columns.
func CostInRange(d decimal.Decimal) bool {
	return d.Round(CostScale).LessThan(MaxCost)
}

// ReconcileOptions tunes one reconciliation run.
type ReconcileOptions struct {
	JobID           string
	ChunkSize       int
	ChunkRetries    int
	RetryBackoff    time.Duration
	DefaultCurrency string
	// OnChunk is called after every committed chunk.
	OnChunk func(rowsApplied, chunksCommitted, chunksTotal int)
}

// ReconcileResult aggregates the committed work of a run.
type ReconcileResult struct {
	Outcomes        []RowOutcome
	Created         int
	Updated         int
	Unchanged       int
	Errored         int
	PriceChanges    int
	RowsApplied     int
	ChunksCommitted int
	ChunksTotal     int
}

func (r *ReconcileResult) add(outcomes []RowOutcome) {
	for _, o := range outcomes {
		switch o.Status {
		case RowCreated:
			r.Created++
		case RowUpdated:
			r.Updated++
		case RowUnchanged:
			r.Unchanged++
		case RowError:
			r.Errored++
			continue
		}
		r.RowsApplied++
		if o.PriceChanged {
			r.PriceChanges++
		}
	}
	r.Outcomes = append(r.Outcomes, outcomes...)
	r.ChunksCommitted++
}

// Reconciler is the bulk catalog writer.
type Reconciler struct {
	catalog Catalog
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReconciler creates a writer over catalog.
func NewReconciler(catalog Catalog) *Reconciler {
	return &Reconciler{
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
	}
}

// Reconcile writes rows for supplierID. On a transaction failure, timeout,
// or cancellation it returns the committed result together with a *JobError.
func (r *Reconciler) Reconcile(ctx context.Context, supplierID string, rows []ParsedProductRow, opts ReconcileOptions) (*ReconcileResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkRetries < 0 {
		opts.ChunkRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = DefaultCurrency
	}

	res := &ReconcileResult{ChunksTotal: (len(rows) + opts.ChunkSize - 1) / opts.ChunkSize}

	// Store calls must not be interrupted by a user cancel, only by the
	// job's wall-clock budget.
	dbCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		dbCtx, cancel = context.WithDeadline(dbCtx, deadline)
		defer cancel()
	}

	for start := 0; start < len(rows); start += opts.ChunkSize {
		if err := boundaryError(ctx, res); err != nil {
			return res, err
		}

		chunk := rows[start:min(start+opts.ChunkSize, len(rows))]
		outcomes, err := r.writeChunkWithRetry(ctx, dbCtx, supplierID, chunk, opts, res)
		if err != nil {
			if errors.Is(dbCtx.Err(), context.DeadlineExceeded) {
				return res, &JobError{Code: CodeTimeout, Message: fmt.Sprintf("job deadline exceeded after %d rows applied", res.RowsApplied), Err: err}
			}
			var je *JobError
			if errors.As(err, &je) {
				return res, err
			}
			return res, &JobError{
				Code:    CodeTxFailed,
				Message: fmt.Sprintf("chunk %d of %d failed after %d rows applied", res.ChunksCommitted+1, res.ChunksTotal, res.RowsApplied),
				Err:     err,
			}
		}

		res.add(outcomes)
		if opts.OnChunk != nil {
			opts.OnChunk(res.RowsApplied, res.ChunksCommitted, res.ChunksTotal)
		}
	}
	return res, nil
}

// boundaryError reports cancellation or timeout observed between chunks.
func boundaryError(ctx context.Context, res *ReconcileResult) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &JobError{Code: CodeTimeout, Message: fmt.Sprintf("job deadline exceeded, %d rows applied", res.RowsApplied), Err: ctx.Err()}
	default:
		return &JobError{Code: CodeCancelled, Message: fmt.Sprintf("cancelled, %d rows applied", res.RowsApplied), Err: ctx.Err()}
	}
}

func (r *Reconciler) writeChunkWithRetry(ctx, dbCtx context.Context, supplierID string, chunk []ParsedProductRow, opts ReconcileOptions, res *ReconcileResult) ([]RowOutcome, error) {
	backoff := opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		outcomes, err := r.writeChunk(dbCtx, supplierID, chunk, opts)
		if err == nil {
			return outcomes, nil
		}
		if attempt >= opts.ChunkRetries || !IsRetryable(err) {
			return nil, err
		}

		slog.Warn("retrying chunk after transient store error",
			"job_id", opts.JobID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		// The chunk has not committed, so this is still a boundary.
		if serr := r.sleep(ctx, backoff); serr != nil {
			return nil, boundaryError(ctx, res)
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (r *Reconciler) writeChunk(ctx context.Context, supplierID string, chunk []ParsedProductRow, opts ReconcileOptions) ([]RowOutcome, error) {
	var outcomes []RowOutcome
	err := r.catalog.InTx(ctx, func(tx CatalogTx) error {
		outcomes = make([]RowOutcome, 0, len(chunk))
		now := r.now()
		for i := range chunk {
			o, err := r.applyRow(ctx, tx, supplierID, &chunk[i], now, opts)
			if err != nil {
				return fmt.Errorf("line %d: %w", chunk[i].Line, err)
			}
			outcomes = append(outcomes, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// applyRow merges one row. Row-level rejections come back as an error
// outcome with a nil error; a non-nil error means the transaction is broken.
func (r *Reconciler) applyRow(ctx context.Context, tx CatalogTx, supplierID string, row *ParsedProductRow, now time.Time, opts ReconcileOptions) (RowOutcome, error) {
	out := RowOutcome{Line: row.Line, SupplierSKU: row.SupplierSKU}
	reject := func(code ReasonCode, msg string) (RowOutcome, error) {
		out.Status = RowError
		out.Code = code
		out.Message = msg
		return out, nil
	}

	if row.CostPrice != nil {
		if !CostInRange(*row.CostPrice) {
			return reject(CodeCostOutOfRange, fmt.Sprintf("cost %s exceeds the storable maximum", row.CostPrice))
		}
		cost := row.CostPrice.Round(CostScale)
		scaled := *row
		scaled.CostPrice = &cost
		row = &scaled
	}

	if err := tx.LockKey(ctx, supplierID, row.SupplierSKU); err != nil {
		return out, err
	}
	product, err := tx.LockSupplierProduct(ctx, supplierID, row.SupplierSKU)
	if err != nil {
		return out, err
	}
	if product != nil && product.SupplierID != supplierID {
		return reject(CodeSupplierIsolationViolation, fmt.Sprintf("product %s belongs to another supplier", product.ID))
	}

	var inv *InventoryItem
	if product != nil {
		if inv, err = tx.LockInventoryByProduct(ctx, supplierID, product.ID); err != nil {
			return out, err
		}
		if inv != nil && inv.SupplierID != supplierID {
			return reject(CodeSupplierIsolationViolation, fmt.Sprintf("inventory item %s belongs to another supplier", inv.ID))
		}
	}

	// Stock is validated before anything is written so a rejected row
	// leaves product, price, and stock untouched.
	if row.StockQty != nil {
		current := InventoryItem{}
		if inv != nil {
			current = *inv
		}
		if err := CheckStockChange(current, *row.StockQty); err != nil {
			var ie *InvariantError
			if errors.As(err, &ie) && ie.Code == CodeReservedExceedsStock {
				return reject(CodeStockBelowReserved, fmt.Sprintf("stock %d is below reserved %d", ie.Requested, ie.Reserved))
			}
			return reject(CodeOf(err), err.Error())
		}
	}

	changed := false
	if product == nil {
		product = &SupplierProduct{
			ID:          uuid.New(),
			SupplierID:  supplierID,
			SupplierSKU: row.SupplierSKU,
			Name:        row.Name,
			CurrentCost: row.CostPrice,
			Attributes:  row.Attributes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertSupplierProduct(ctx, *product); err != nil {
			return out, err
		}
		out.Status = RowCreated
	} else if applyProductFields(product, row) {
		product.UpdatedAt = now
		if err := tx.UpdateSupplierProduct(ctx, *product); err != nil {
			return out, err
		}
		changed = true
	}
	out.ProductID = product.ID

	if row.CostPrice != nil {
		currency := row.Currency
		if currency == "" {
			currency = opts.DefaultCurrency
		}
		moved, err := r.recordPrice(ctx, tx, product.ID, *row.CostPrice, currency, now)
		if err != nil {
			return out, err
		}
		out.PriceChanged = moved
		changed = changed || moved
	}

	if inv == nil {
		var onHand int64
		if row.StockQty != nil {
			onHand = *row.StockQty
		}
		inv = &InventoryItem{
			ID:                uuid.New(),
			SupplierProductID: product.ID,
			SupplierID:        supplierID,
			QuantityOnHand:    onHand,
			UpdatedAt:         now,
		}
		if err := tx.InsertInventoryItem(ctx, *inv); err != nil {
			return out, err
		}
		if onHand != 0 {
			if err := tx.AppendMovement(ctx, importMovement(inv, 0, onHand, opts.JobID, now)); err != nil {
				return out, err
			}
			out.StockChanged = true
		}
	} else if row.StockQty != nil && *row.StockQty != inv.QuantityOnHand {
		before := inv.QuantityOnHand
		if err := tx.SetQuantityOnHand(ctx, supplierID, inv.ID, *row.StockQty, now); err != nil {
			return out, err
		}
		if err := tx.AppendMovement(ctx, importMovement(inv, before, *row.StockQty, opts.JobID, now)); err != nil {
			return out, err
		}
		out.StockChanged = true
	}
	changed = changed || out.StockChanged

	switch {
	case out.Status == RowCreated:
	case changed:
		out.Status = RowUpdated
	default:
		out.Status = RowUnchanged
	}
	return out, nil
}

// applyProductFields copies mutable fields from row into p and reports
// whether anything changed. Empty cells never erase stored values.
func applyProductFields(p *SupplierProduct, row *ParsedProductRow) bool {
	changed := false
	if row.Name != "" && row.Name != p.Name {
		p.Name = row.Name
		changed = true
	}
	if row.CostPrice != nil && (p.CurrentCost == nil || !p.CurrentCost.Equal(*row.CostPrice)) {
		cost := *row.CostPrice
		p.CurrentCost = &cost
		changed = true
	}
	if len(row.Attributes) > 0 && !maps.Equal(p.Attributes, row.Attributes) {
		p.Attributes = row.Attributes
		changed = true
	}
	return changed
}

// recordPrice closes the current price and opens a new one when the price
// moved. Equal prices are a no-op.
func (r *Reconciler) recordPrice(ctx context.Context, tx CatalogTx, productID uuid.UUID, price decimal.Decimal, currency string, now time.Time) (bool, error) {
	current, err := tx.CurrentPrice(ctx, productID)
	if err != nil {
		return false, err
	}
	if current != nil && current.Price.Equal(price) && current.Currency == currency {
		return false, nil
	}
	if current != nil {
		if err := tx.ClosePrice(ctx, current.ID, now); err != nil {
			return false, err
		}
	}
	err = tx.InsertPrice(ctx, PriceHistory{
		ID:                uuid.New(),
		SupplierProductID: productID,
		Price:             price,
		Currency:          currency,
		ValidFrom:         now,
		IsCurrent:         true,
	})
	return err == nil, err
}

func importMovement(inv *InventoryItem, before, after int64, jobID string, now time.Time) StockMovement {
	return StockMovement{
		ID:              uuid.New(),
		InventoryItemID: inv.ID,
		SupplierID:      inv.SupplierID,
		Delta:           after - before,
		QuantityBefore:  before,
		QuantityAfter:   after,
		Reason:          "pricelist import",
		Source:          MovementImport,
		JobID:           jobID,
		CreatedAt:       now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

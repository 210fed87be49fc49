package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/core"
)

// Catalog is the Postgres implementation of core.Catalog.
type Catalog struct {
	pool *pgxpool.Pool
	q    *Queries
}

var _ core.Catalog = (*Catalog)(nil)

// NewCatalog returns a catalog backed by pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool, q: New(pool)}
}

// InTx implements core.Catalog. Errors returned by fn are passed through
// unchanged; begin and commit failures are classified for retry.
func (c *Catalog) InTx(ctx context.Context, fn func(tx core.CatalogTx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&catalogTx{q: c.q.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// PriceHistory implements core.Catalog.
func (c *Catalog) PriceHistory(ctx context.Context, productID uuid.UUID, limit int) ([]core.PriceHistory, error) {
	exists, err := c.q.SupplierProductExists(ctx, pgUUID(productID))
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if !exists {
		return nil, core.ErrProductNotFound
	}

	rows, err := c.q.ListPriceHistory(ctx, ListPriceHistoryParams{
		SupplierProductID: pgUUID(productID),
		Limit:             int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	out := make([]core.PriceHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, priceFromRow(r))
	}
	return out, nil
}

// CreateUpload implements core.Catalog.
func (c *Catalog) CreateUpload(ctx context.Context, u core.Upload) error {
	errs, err := marshalDiagnostics(u.Errors)
	if err != nil {
		return err
	}
	return c.q.InsertUpload(ctx, InsertUploadParams{
		ID:         pgUUID(u.ID),
		FileName:   u.FileName,
		SupplierID: u.SupplierID,
		Checksum:   u.Checksum,
		ReceivedAt: pgTime(u.ReceivedAt),
		Status:     string(u.Status),
		RowCount:   int32(u.RowCount),
		ErrorsJson: errs,
	})
}

// UpdateUpload implements core.Catalog. Terminal uploads are left untouched.
func (c *Catalog) UpdateUpload(ctx context.Context, u core.Upload) error {
	errs, err := marshalDiagnostics(u.Errors)
	if err != nil {
		return err
	}
	n, err := c.q.UpdateUploadStatus(ctx, UpdateUploadStatusParams{
		ID:         pgUUID(u.ID),
		Status:     string(u.Status),
		Checksum:   u.Checksum,
		RowCount:   int32(u.RowCount),
		ErrorsJson: errs,
	})
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	if n > 0 {
		return nil
	}

	status, err := c.q.GetUploadStatus(ctx, pgUUID(u.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrUploadNotFound
	}
	if err != nil {
		return fmt.Errorf("read upload status: %w", err)
	}
	return fmt.Errorf("upload %s is %s and cannot change", u.ID, status)
}

// FindCompletedUpload implements core.Catalog.
func (c *Catalog) FindCompletedUpload(ctx context.Context, supplierID, checksum string) (*core.Upload, error) {
	row, err := c.q.FindCompletedUpload(ctx, FindCompletedUploadParams{
		SupplierID: supplierID,
		Checksum:   checksum,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find upload: %w", err)
	}

	u := &core.Upload{
		ID:         uuid.UUID(row.ID.Bytes),
		FileName:   row.FileName,
		SupplierID: row.SupplierID,
		Checksum:   row.Checksum,
		ReceivedAt: row.ReceivedAt.Time,
		Status:     core.UploadStatus(row.Status),
		RowCount:   int(row.RowCount),
	}
	if len(row.ErrorsJson) > 0 {
		if err := json.Unmarshal(row.ErrorsJson, &u.Errors); err != nil {
			return nil, fmt.Errorf("decode upload errors: %w", err)
		}
	}
	return u, nil
}

type catalogTx struct {
	q *Queries
}

// LockKey takes a transaction-scoped advisory lock on the pair.
func (t *catalogTx) LockKey(ctx context.Context, supplierID, sku string) error {
	return classify(t.q.AdvisoryXactLock(ctx, LockKey(supplierID, sku)))
}

func (t *catalogTx) LockSupplierProduct(ctx context.Context, supplierID, sku string) (*core.SupplierProduct, error) {
	row, err := t.q.GetSupplierProductForUpdate(ctx, GetSupplierProductForUpdateParams{
		SupplierID:  supplierID,
		SupplierSku: sku,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	p := &core.SupplierProduct{
		ID:          uuid.UUID(row.ID.Bytes),
		SupplierID:  row.SupplierID,
		SupplierSKU: row.SupplierSku,
		Name:        row.Name,
		CurrentCost: decimalPtr(row.CurrentCost),
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
	}
	if len(row.AttrsJson) > 0 {
		if err := json.Unmarshal(row.AttrsJson, &p.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (t *catalogTx) InsertSupplierProduct(ctx context.Context, p core.SupplierProduct) error {
	attrs, err := marshalAttributes(p.Attributes)
	if err != nil {
		return err
	}
	return classify(t.q.InsertSupplierProduct(ctx, InsertSupplierProductParams{
		ID:          pgUUID(p.ID),
		SupplierID:  p.SupplierID,
		SupplierSku: p.SupplierSKU,
		Name:        p.Name,
		CurrentCost: pgNumeric(p.CurrentCost),
		AttrsJson:   attrs,
		CreatedAt:   pgTime(p.CreatedAt),
		UpdatedAt:   pgTime(p.UpdatedAt),
	}))
}

func (t *catalogTx) UpdateSupplierProduct(ctx context.Context, p core.SupplierProduct) error {
	attrs, err := marshalAttributes(p.Attributes)
	if err != nil {
		return err
	}
	n, err := t.q.UpdateSupplierProduct(ctx, UpdateSupplierProductParams{
		ID:          pgUUID(p.ID),
		SupplierID:  p.SupplierID,
		Name:        p.Name,
		CurrentCost: pgNumeric(p.CurrentCost),
		AttrsJson:   attrs,
		UpdatedAt:   pgTime(p.UpdatedAt),
	})
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return core.ErrProductNotFound
	}
	return nil
}

func (t *catalogTx) CurrentPrice(ctx context.Context, productID uuid.UUID) (*core.PriceHistory, error) {
	row, err := t.q.GetCurrentPrice(ctx, pgUUID(productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	ph := priceFromRow(row)
	return &ph, nil
}

func (t *catalogTx) ClosePrice(ctx context.Context, priceID uuid.UUID, at time.Time) error {
	n, err := t.q.ClosePrice(ctx, ClosePriceParams{ID: pgUUID(priceID), ValidTo: pgTime(at)})
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("price %s not found or already closed", priceID)
	}
	return nil
}

func (t *catalogTx) InsertPrice(ctx context.Context, p core.PriceHistory) error {
	validTo := pgtype.Timestamptz{}
	if p.ValidTo != nil {
		validTo = pgTime(*p.ValidTo)
	}
	return classify(t.q.InsertPrice(ctx, InsertPriceParams{
		ID:                pgUUID(p.ID),
		SupplierProductID: pgUUID(p.SupplierProductID),
		Price:             pgNumeric(&p.Price),
		Currency:          p.Currency,
		ValidFrom:         pgTime(p.ValidFrom),
		ValidTo:           validTo,
		IsCurrent:         p.IsCurrent,
	}))
}

// LockInventoryByProduct looks the item up by product only so the writer can
// detect an item owned by another supplier and reject the row.
func (t *catalogTx) LockInventoryByProduct(ctx context.Context, _ string, productID uuid.UUID) (*core.InventoryItem, error) {
	row, err := t.q.GetInventoryByProductForUpdate(ctx, pgUUID(productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	item := inventoryFromRow(row)
	return &item, nil
}

func (t *catalogTx) LockInventoryItem(ctx context.Context, itemID uuid.UUID) (*core.InventoryItem, error) {
	row, err := t.q.GetInventoryItemForUpdate(ctx, pgUUID(itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrInventoryNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	item := inventoryFromRow(row)
	return &item, nil
}

func (t *catalogTx) InsertInventoryItem(ctx context.Context, item core.InventoryItem) error {
	return classify(t.q.InsertInventoryItem(ctx, InsertInventoryItemParams{
		ID:                pgUUID(item.ID),
		SupplierProductID: pgUUID(item.SupplierProductID),
		SupplierID:        item.SupplierID,
		QuantityOnHand:    item.QuantityOnHand,
		QuantityReserved:  item.QuantityReserved,
		Backorderable:     item.Backorderable,
		UpdatedAt:         pgTime(item.UpdatedAt),
	}))
}

func (t *catalogTx) SetQuantityOnHand(ctx context.Context, supplierID string, itemID uuid.UUID, onHand int64, at time.Time) error {
	n, err := t.q.SetQuantityOnHand(ctx, SetQuantityOnHandParams{
		ID:             pgUUID(itemID),
		SupplierID:     supplierID,
		QuantityOnHand: onHand,
		UpdatedAt:      pgTime(at),
	})
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return core.ErrInventoryNotFound
	}
	return nil
}

func (t *catalogTx) AppendMovement(ctx context.Context, m core.StockMovement) error {
	return classify(t.q.InsertStockMovement(ctx, InsertStockMovementParams{
		ID:              pgUUID(m.ID),
		InventoryItemID: pgUUID(m.InventoryItemID),
		SupplierID:      m.SupplierID,
		Delta:           m.Delta,
		QuantityBefore:  m.QuantityBefore,
		QuantityAfter:   m.QuantityAfter,
		Reason:          m.Reason,
		Source:          string(m.Source),
		JobID:           m.JobID,
		CreatedAt:       pgTime(m.CreatedAt),
	}))
}

// LockKey maps a (supplier, sku) pair onto the advisory lock keyspace.
func LockKey(supplierID, sku string) int64 {
	return int64(xxhash.Sum64String(supplierID + "|" + sku))
}

// ============================================================================
// Conversions
// ============================================================================

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func pgNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func decimalPtr(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return nil
	}
	d := decimal.NewFromBigInt(n.Int, n.Exp)
	return &d
}

func priceFromRow(r PriceHistory) core.PriceHistory {
	ph := core.PriceHistory{
		ID:                uuid.UUID(r.ID.Bytes),
		SupplierProductID: uuid.UUID(r.SupplierProductID.Bytes),
		Currency:          r.Currency,
		ValidFrom:         r.ValidFrom.Time,
		IsCurrent:         r.IsCurrent,
	}
	if d := decimalPtr(r.Price); d != nil {
		ph.Price = *d
	}
	if r.ValidTo.Valid {
		to := r.ValidTo.Time
		ph.ValidTo = &to
	}
	return ph
}

func inventoryFromRow(r InventoryItem) core.InventoryItem {
	return core.InventoryItem{
		ID:                uuid.UUID(r.ID.Bytes),
		SupplierProductID: uuid.UUID(r.SupplierProductID.Bytes),
		SupplierID:        r.SupplierID,
		QuantityOnHand:    r.QuantityOnHand,
		QuantityReserved:  r.QuantityReserved,
		Backorderable:     r.Backorderable,
		UpdatedAt:         r.UpdatedAt.Time,
	}
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return b, nil
}

func marshalDiagnostics(diags []core.Diagnostic) ([]byte, error) {
	if len(diags) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(diags)
	if err != nil {
		return nil, fmt.Errorf("encode diagnostics: %w", err)
	}
	return b, nil
}

package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field is a canonical product field that a pricelist column can map to.
type Field string

const (
	FieldSKU      Field = "sku"
	FieldName     Field = "name"
	FieldCost     Field = "cost"
	FieldStock    Field = "stock"
	FieldBrand    Field = "brand"
	FieldCategory Field = "category"
	FieldBarcode  Field = "barcode"
	FieldUOM      Field = "uom"
)

// FieldMatch records which source column was chosen for a canonical field.
type FieldMatch struct {
	Field      Field   `json:"field"`
	Column     int     `json:"column"`
	Header     string  `json:"header"`
	Confidence float64 `json:"confidence"`
}

// ColumnMapping is the inferred layout of one file. It is computed once per
// file and shared read-only by every row of that file.
type ColumnMapping struct {
	Fields     map[Field]FieldMatch `json:"fields"`
	Confidence float64              `json:"confidence"`
	HeaderRow  int                  `json:"headerRow"` // 0-indexed row within the sheet
	Headers    []string             `json:"headers"`
	Sheet      string               `json:"sheet,omitempty"`
}

// Column returns the source column index for a field.
func (m *ColumnMapping) Column(f Field) (int, bool) {
	if m == nil {
		return 0, false
	}
	match, ok := m.Fields[f]
	if !ok {
		return 0, false
	}
	return match.Column, true
}

// Mapped reports whether the column at index is claimed by any field.
func (m *ColumnMapping) Mapped(col int) bool {
	for _, match := range m.Fields {
		if match.Column == col {
			return true
		}
	}
	return false
}

// ParsedProductRow is one normalized pricelist row.
type ParsedProductRow struct {
	Line        int               `json:"line"` // 1-indexed line in the source sheet
	SupplierSKU string            `json:"supplierSku"`
	Name        string            `json:"name,omitempty"`
	CostPrice   *decimal.Decimal  `json:"costPrice,omitempty"`
	Currency    string            `json:"currency,omitempty"` // detected from the cost cell, empty if none
	StockQty    *int64            `json:"stockQty,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// SupplierProduct is the durable catalog identity keyed by (SupplierID, SupplierSKU).
type SupplierProduct struct {
	ID          uuid.UUID
	SupplierID  string
	SupplierSKU string
	Name        string
	CurrentCost *decimal.Decimal
	Attributes  map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceHistory is one entry of a product's append-only price ledger.
type PriceHistory struct {
	ID                uuid.UUID       `json:"id"`
	SupplierProductID uuid.UUID       `json:"supplierProductId"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency"`
	ValidFrom         time.Time       `json:"validFrom"`
	ValidTo           *time.Time      `json:"validTo"`
	IsCurrent         bool            `json:"isCurrent"`
}

// InventoryItem holds stock state for one supplier product.
// Invariant: 0 <= QuantityReserved <= QuantityOnHand.
type InventoryItem struct {
	ID                uuid.UUID
	SupplierProductID uuid.UUID
	SupplierID        string
	QuantityOnHand    int64
	QuantityReserved  int64
	Backorderable     bool
	UpdatedAt         time.Time
}

// MovementSource identifies which entry point produced a stock movement.
type MovementSource string

const (
	MovementAdjustment MovementSource = "adjustment"
	MovementImport     MovementSource = "import"
)

// StockMovement is an immutable audit record of an on-hand change.
type StockMovement struct {
	ID              uuid.UUID
	InventoryItemID uuid.UUID
	SupplierID      string
	Delta           int64
	QuantityBefore  int64
	QuantityAfter   int64
	Reason          string
	Source          MovementSource
	JobID           string
	CreatedAt       time.Time
}

// UploadStatus is the lifecycle state of a submitted file.
type UploadStatus string

const (
	UploadReceived  UploadStatus = "received"
	UploadParsing   UploadStatus = "parsing"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// Terminal reports whether the upload can no longer change.
func (s UploadStatus) Terminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// Upload identifies one submitted file.
type Upload struct {
	ID         uuid.UUID    `json:"uploadId"`
	FileName   string       `json:"filename"`
	SupplierID string       `json:"supplierId"`
	Checksum   string       `json:"checksum,omitempty"`
	ReceivedAt time.Time    `json:"receivedAt"`
	Status     UploadStatus `json:"status"`
	RowCount   int          `json:"rowCount"`
	Errors     []Diagnostic `json:"errors,omitempty"`
}

// Severity distinguishes row failures from soft warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a row-level finding produced by the normalizer or writer.
type Diagnostic struct {
	Line     int        `json:"line"`
	Field    Field      `json:"field,omitempty"`
	Code     ReasonCode `json:"code"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Value    string     `json:"value,omitempty"`
}

// RowStatus is the per-row outcome of reconciliation.
type RowStatus string

const (
	RowCreated   RowStatus = "created"
	RowUpdated   RowStatus = "updated"
	RowUnchanged RowStatus = "unchanged"
	RowError     RowStatus = "error"
)

// RowOutcome reports what the writer did with one row.
type RowOutcome struct {
	Line         int        `json:"line"`
	SupplierSKU  string     `json:"supplierSku"`
	Status       RowStatus  `json:"status"`
	ProductID    uuid.UUID  `json:"productId,omitempty"`
	PriceChanged bool       `json:"priceChanged,omitempty"`
	StockChanged bool       `json:"stockChanged,omitempty"`
	Code         ReasonCode `json:"code,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// JobPhase indicates the current stage of a running job.
type JobPhase string

const (
	PhaseQueued      JobPhase = "queued"
	PhaseReading     JobPhase = "reading"
	PhaseInferring   JobPhase = "inferring"
	PhaseNormalizing JobPhase = "normalizing"
	PhaseWriting     JobPhase = "writing"
	PhaseDone        JobPhase = "done"
)

// JobProgress is a point-in-time view of a job's work.
type JobProgress struct {
	Phase           JobPhase `json:"phase"`
	RowsTotal       int      `json:"rowsTotal"`
	RowsApplied     int      `json:"rowsApplied"`
	ChunksTotal     int      `json:"chunksTotal"`
	ChunksCommitted int      `json:"chunksCommitted"`
}

// Percent returns the progress as a percentage (0-100).
func (p JobProgress) Percent() int {
	if p.RowsTotal > 0 {
		return (p.RowsApplied * 100) / p.RowsTotal
	}
	return 0
}

// JobResult is the retained outcome of one ingestion.
type JobResult struct {
	UploadID        string         `json:"uploadId"`
	SupplierID      string         `json:"supplierId"`
	FileName        string         `json:"fileName"`
	Checksum        string         `json:"checksum,omitempty"`
	Mapping         *ColumnMapping `json:"mapping,omitempty"`
	TotalRows       int            `json:"totalRows"`
	Created         int            `json:"created"`
	Updated         int            `json:"updated"`
	Unchanged       int            `json:"unchanged"`
	Skipped         int            `json:"skipped"`
	Errored         int            `json:"errored"`
	Warnings        int            `json:"warnings"`
	PriceChanges    int            `json:"priceChanges"`
	RowsApplied     int            `json:"rowsApplied"`
	ChunksCommitted int            `json:"chunksCommitted"`
	Diagnostics     []Diagnostic   `json:"diagnostics,omitempty"`
	Truncated       int            `json:"diagnosticsTruncated,omitempty"`
	Duration        time.Duration  `json:"duration"`
}

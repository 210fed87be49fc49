package core

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// NumericPolicy controls what happens to cost/stock cells that fail to parse.
type NumericPolicy int

const (
	// PolicySoft nulls the field and records a warning.
	PolicySoft NumericPolicy = iota
	// PolicyStrict rejects the whole row with INVALID_NUMBER.
	PolicyStrict
)

func (p NumericPolicy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "soft"
}

// RawRow is one data row as read from the sheet.
type RawRow struct {
	Line  int
	Cells []string
}

// NormalizedRow pairs a row (nil when skipped) with its diagnostics.
type NormalizedRow struct {
	Line        int
	Row         *ParsedProductRow
	Diagnostics []Diagnostic
}

// Skipped reports whether the row was rejected by the normalizer.
func (n NormalizedRow) Skipped() bool { return n.Row == nil }

// attributeFields are mapped fields that are stored as attributes rather
// than dedicated columns.
var attributeFields = []Field{FieldBrand, FieldCategory, FieldBarcode, FieldUOM}

// normalizeBlock is the number of rows handed to one goroutine.
const normalizeBlock = 256

// NormalizeRow converts one raw row using the file's mapping. It is a pure
// function of its arguments.
func NormalizeRow(line int, cells []string, m *ColumnMapping, policy NumericPolicy) (*ParsedProductRow, []Diagnostic) {
	var diags []Diagnostic
	cell := func(f Field) string {
		col, ok := m.Column(f)
		if !ok || col >= len(cells) {
			return ""
		}
		return CleanCell(cells[col])
	}

	sku := cell(FieldSKU)
	if sku == "" {
		return nil, []Diagnostic{{
			Line:     line,
			Field:    FieldSKU,
			Code:     CodeMissingSKU,
			Severity: SeverityError,
			Message:  "supplier SKU is blank",
		}}
	}

	row := &ParsedProductRow{
		Line:        line,
		SupplierSKU: sku,
		Name:        cell(FieldName),
	}

	rejected := false
	numberIssue := func(f Field, raw string) {
		d := Diagnostic{Line: line, Field: f, Code: CodeInvalidNumber, Value: raw}
		if policy == PolicyStrict {
			d.Severity = SeverityError
			d.Message = string(f) + " is not a valid number"
			rejected = true
		} else {
			d.Severity = SeverityWarning
			d.Message = string(f) + " is not a valid number, left empty"
		}
		diags = append(diags, d)
	}
	negative := func(f Field, raw string) {
		diags = append(diags, Diagnostic{
			Line:     line,
			Field:    f,
			Code:     CodeNegativeValue,
			Severity: SeverityWarning,
			Message:  string(f) + " is negative, left empty",
			Value:    raw,
		})
	}

	if raw := cell(FieldCost); raw != "" {
		d, currency, err := ParseDecimal(raw)
		switch {
		case err != nil:
			numberIssue(FieldCost, raw)
		case d.IsNegative():
			negative(FieldCost, raw)
		case !CostInRange(d):
			diags = append(diags, Diagnostic{
				Line:     line,
				Field:    FieldCost,
				Code:     CodeCostOutOfRange,
				Severity: SeverityError,
				Message:  "cost exceeds the storable maximum",
				Value:    raw,
			})
			rejected = true
		default:
			if rounded := d.Round(CostScale); !rounded.Equal(d) {
				diags = append(diags, Diagnostic{
					Line:     line,
					Field:    FieldCost,
					Code:     CodeCostRounded,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("cost rounded to %d decimal places", CostScale),
					Value:    raw,
				})
				d = rounded
			}
			row.CostPrice = &d
			row.Currency = currency
		}
	}

	if raw := cell(FieldStock); raw != "" {
		n, err := ParseInteger(raw)
		switch {
		case err != nil:
			numberIssue(FieldStock, raw)
		case n < 0:
			negative(FieldStock, raw)
		default:
			row.StockQty = &n
		}
	}

	if rejected {
		return nil, diags
	}

	attrs := make(map[string]string)
	for _, f := range attributeFields {
		if v := cell(f); v != "" {
			attrs[string(f)] = v
		}
	}
	for col, raw := range cells {
		if m.Mapped(col) || col >= len(m.Headers) {
			continue
		}
		key := strings.ToLower(CleanCell(m.Headers[col]))
		if v := CleanCell(raw); key != "" && v != "" {
			if _, exists := attrs[key]; !exists {
				attrs[key] = v
			}
		}
	}
	if len(attrs) > 0 {
		row.Attributes = attrs
	}

	return row, diags
}

// Normalizer runs NormalizeRow across a file in parallel.
type Normalizer struct {
	workers int
}

// NewNormalizer creates a normalizer using up to workers goroutines.
// Zero selects GOMAXPROCS.
func NewNormalizer(workers int) *Normalizer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Normalizer{workers: workers}
}

// NormalizeAll normalizes every row. Output index i always corresponds to
// input index i, so file order is preserved regardless of scheduling.
func (n *Normalizer) NormalizeAll(ctx context.Context, rows []RawRow, m *ColumnMapping, policy NumericPolicy) ([]NormalizedRow, error) {
	out := make([]NormalizedRow, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)

	for start := 0; start < len(rows); start += normalizeBlock {
		end := min(start+normalizeBlock, len(rows))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				row, diags := NormalizeRow(rows[i].Line, rows[i].Cells, m, policy)
				out[i] = NormalizedRow{Line: rows[i].Line, Row: row, Diagnostics: diags}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

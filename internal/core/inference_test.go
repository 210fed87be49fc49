package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfer_BasicHeaders(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})
	headers := []string{"SKU", "Desc", "Cost", "Qty"}
	sample := [][]string{
		{"A-1", "Widget blue", "12.50", "10"},
		{"A-2", "Widget red", "13.75", "4"},
		{"B-9", "Gadget large", "99.99", "0"},
	}

	m, err := engine.Infer(headers, sample)
	require.NoError(t, err)

	want := map[Field]int{FieldSKU: 0, FieldName: 1, FieldCost: 2, FieldStock: 3}
	assert.Len(t, m.Fields, len(want))
	for f, col := range want {
		got, ok := m.Column(f)
		require.True(t, ok, "field %s not mapped", f)
		assert.Equal(t, col, got, "field %s", f)
	}
	assert.GreaterOrEqual(t, m.Confidence, 0.9)
	assert.Equal(t, "Desc", m.Fields[FieldName].Header)
}

func TestInfer_SynonymsAndExtraColumns(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})
	headers := []string{"Item Code", "Product Description", "Brand", "Dealer Price", "Stock On Hand", "Warranty"}
	sample := [][]string{
		{"X100", "Cordless drill 18V", "Makita", "1,299.00", "12", "2 years"},
		{"X101", "Impact driver kit", "Bosch", "899.50", "3", "1 year"},
	}

	m, err := engine.Infer(headers, sample)
	require.NoError(t, err)

	for f, col := range map[Field]int{FieldSKU: 0, FieldName: 1, FieldBrand: 2, FieldCost: 3, FieldStock: 4} {
		got, ok := m.Column(f)
		require.True(t, ok, "field %s not mapped", f)
		assert.Equal(t, col, got, "field %s", f)
	}
	assert.False(t, m.Mapped(5), "warranty column should stay unmapped")
}

func TestInfer_ColumnsClaimedOnce(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})
	headers := []string{"SKU", "Price", "Unit Price"}
	sample := [][]string{{"A", "1.50", "1.50"}}

	m, err := engine.Infer(headers, sample)
	require.NoError(t, err)

	seen := make(map[int]Field)
	for f, match := range m.Fields {
		if prev, dup := seen[match.Column]; dup {
			t.Fatalf("column %d claimed by %s and %s", match.Column, prev, f)
		}
		seen[match.Column] = f
	}
}

func TestInfer_LowConfidence(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})

	m, err := engine.Infer([]string{"foo", "bar"}, nil)
	assert.Nil(t, m)
	assert.Equal(t, CodeLowConfidence, CodeOf(err))
}

func TestInfer_MissingRequiredField(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})
	headers := []string{"Description", "Price"}
	sample := [][]string{
		{"Blue widget large", "12.50"},
		{"Red widget small", "13.75"},
	}

	m, err := engine.Infer(headers, sample)
	assert.Equal(t, CodeMappingFailed, CodeOf(err))
	require.NotNil(t, m, "partial mapping is returned for diagnostics")
	_, ok := m.Column(FieldSKU)
	assert.False(t, ok)
	_, ok = m.Column(FieldCost)
	assert.True(t, ok)
}

func TestDetectHeaderRow(t *testing.T) {
	engine := NewInferenceEngine(nil, ScoreWeights{})

	tests := []struct {
		name     string
		rows     [][]string
		want     int
		wantCode ReasonCode
	}{
		{
			name: "first row",
			rows: [][]string{{"SKU", "Name", "Price"}, {"A", "Thing", "1"}},
			want: 0,
		},
		{
			name: "below banner rows",
			rows: [][]string{
				{"ACME Pricelist 2024"},
				{""},
				{"Prices valid until end of month", ""},
				{"SKU", "Description", "Price", "Stock"},
				{"A1", "Thing one", "1.00", "3"},
			},
			want: 3,
		},
		{
			name: "falls back to first non-empty row",
			rows: [][]string{{"", ""}, {"foo", "bar"}, {"1", "2"}},
			want: 1,
		},
		{
			name:     "no rows",
			rows:     nil,
			wantCode: CodeEmptyFile,
		},
		{
			name:     "only blank rows",
			rows:     [][]string{{""}, {" ", ""}},
			wantCode: CodeEmptyFile,
		},
		{
			name:     "data beyond search window",
			rows:     append(make([][]string, MaxHeaderSearchRows), []string{"SKU", "Price"}),
			wantCode: CodeNoHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.DetectHeaderRow(tt.rows)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSample(t *testing.T) {
	rows := [][]string{{"SKU"}, {"A"}, {""}, {"B"}, {"C"}}

	assert.Equal(t, [][]string{{"A"}, {"B"}}, Sample(rows, 0, 2))
	assert.Len(t, Sample(rows, 0, 0), 3)
}

func TestHeaderSimilarity(t *testing.T) {
	syn := []string{"part number", "sku"}

	assert.Equal(t, 1.0, headerSimilarity("SKU", syn))
	assert.Equal(t, 1.0, headerSimilarity("Part-Number", syn))
	assert.Equal(t, 1.0, headerSimilarity("PartNumber", syn))
	assert.InDelta(t, 0.8, headerSimilarity("Supplier Part Number", syn), 0.2)
	assert.Greater(t, headerSimilarity("Supplier Part Number", syn), 0.8)
	assert.InDelta(t, 0.3, headerSimilarity("Part", syn), 0.001)
	assert.Zero(t, headerSimilarity("", syn))
	assert.Zero(t, headerSimilarity("Colour", syn))
}

func TestContentPlausibility(t *testing.T) {
	assert.Equal(t, 1.0, contentPlausibility(ContentDecimal, []string{"1.50", "$2.75"}))
	assert.InDelta(t, 0.8, contentPlausibility(ContentDecimal, []string{"1", "2"}), 0.001)
	assert.Equal(t, 1.0, contentPlausibility(ContentInteger, []string{"1", "2,000"}))
	assert.Equal(t, 0.5, contentPlausibility(ContentInteger, []string{"1", "2.5"}))
	assert.Equal(t, 1.0, contentPlausibility(ContentBarcode, []string{"6001234567890", "12345678"}))
	assert.Zero(t, contentPlausibility(ContentBarcode, []string{"ABC"}))
	assert.Zero(t, contentPlausibility(ContentText, nil))
}

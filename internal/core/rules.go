package core

// rules.go holds the declarative scoring tables for column inference.
//
// Adding a field or tuning a threshold is a data change here; the scoring
// loop in inference.go never special-cases a field by name.

// ContentKind describes what a field's cells are expected to look like.
type ContentKind int

const (
	ContentIdentifier ContentKind = iota // short, unique, no spaces
	ContentText                          // letter-bearing, often multi-word
	ContentDecimal                       // money-like numbers
	ContentInteger                       // whole counts
	ContentBarcode                       // 8-14 digit codes
	ContentLabel                         // short non-numeric labels
)

// Position priors.
const (
	PriorLeading = iota // favours the first few columns
	PriorNeutral
)

// FieldRule configures how one canonical field is located.
type FieldRule struct {
	Field         Field
	Synonyms      []string
	Content       ContentKind
	Prior         int
	MinConfidence float64
	Required      bool
}

// ScoreWeights combine the three evidence sources. They sum to 1.
type ScoreWeights struct {
	Header   float64
	Content  float64
	Position float64
}

// DefaultWeights favour header text, then cell content, then position.
var DefaultWeights = ScoreWeights{Header: 0.55, Content: 0.35, Position: 0.10}

// DefaultRules is the rule table used by the service.
var DefaultRules = []FieldRule{
	{
		Field: FieldSKU,
		Synonyms: []string{
			"sku", "code", "item code", "product code", "part", "part number",
			"part no", "partno", "p/n", "item no", "item number", "article",
			"article number", "supplier sku", "vendor code", "supplier code",
			"mfg code", "stock code", "ref", "reference", "model",
		},
		Content:       ContentIdentifier,
		Prior:         PriorLeading,
		MinConfidence: 0.45,
		Required:      true,
	},
	{
		Field: FieldName,
		Synonyms: []string{
			"name", "product name", "item name", "description", "desc",
			"product description", "item description", "title", "product", "item",
		},
		Content:       ContentText,
		Prior:         PriorLeading,
		MinConfidence: 0.40,
	},
	{
		Field: FieldCost,
		Synonyms: []string{
			"cost", "cost price", "price", "unit price", "unit cost", "dealer price",
			"dealer cost", "wholesale", "wholesale price", "buy price",
			"purchase price", "net price", "trade price", "amount", "excl vat",
		},
		Content:       ContentDecimal,
		Prior:         PriorNeutral,
		MinConfidence: 0.45,
	},
	{
		Field: FieldStock,
		Synonyms: []string{
			"stock", "qty", "quantity", "soh", "stock on hand", "on hand",
			"available", "availability", "inventory", "stock qty", "qty available",
			"units",
		},
		Content:       ContentInteger,
		Prior:         PriorNeutral,
		MinConfidence: 0.45,
	},
	{
		Field:         FieldBrand,
		Synonyms:      []string{"brand", "make", "manufacturer", "mfr", "mfg", "maker", "oem"},
		Content:       ContentLabel,
		Prior:         PriorNeutral,
		MinConfidence: 0.50,
	},
	{
		Field:         FieldCategory,
		Synonyms:      []string{"category", "cat", "type", "class", "group", "family", "department"},
		Content:       ContentLabel,
		Prior:         PriorNeutral,
		MinConfidence: 0.50,
	},
	{
		Field:         FieldBarcode,
		Synonyms:      []string{"barcode", "ean", "ean13", "upc", "gtin", "bar code"},
		Content:       ContentBarcode,
		Prior:         PriorNeutral,
		MinConfidence: 0.50,
	},
	{
		Field:         FieldUOM,
		Synonyms:      []string{"uom", "unit", "unit of measure", "pack", "pack size", "per"},
		Content:       ContentLabel,
		Prior:         PriorNeutral,
		MinConfidence: 0.50,
	},
}

// positionalPrior scores column idx for a prior kind.
func positionalPrior(prior, idx int) float64 {
	switch prior {
	case PriorLeading:
		p := 1 - float64(idx)*0.25
		if p < 0 {
			return 0
		}
		return p
	default:
		return 0.5
	}
}

package core

import (
	"sort"
	"strings"
	"unicode"
)

// MaxHeaderSearchRows limits how far down a sheet we look for the header row.
const MaxHeaderSearchRows = 20

// DefaultSampleRows is how many data rows feed content scoring.
const DefaultSampleRows = 50

// InferenceEngine scores columns against a rule table.
// It holds no per-file state and is safe for concurrent use.
type InferenceEngine struct {
	rules   []FieldRule
	weights ScoreWeights
}

// NewInferenceEngine creates an engine. Nil rules select DefaultRules.
func NewInferenceEngine(rules []FieldRule, weights ScoreWeights) *InferenceEngine {
	if rules == nil {
		rules = DefaultRules
	}
	if weights == (ScoreWeights{}) {
		weights = DefaultWeights
	}
	return &InferenceEngine{rules: rules, weights: weights}
}

type candidate struct {
	rule    *FieldRule
	col     int
	score   float64
	content float64
}

// Infer builds a ColumnMapping from a header row and a sample of data rows.
// It returns a *JobError with LOW_CONFIDENCE when no field clears its
// threshold, or MAPPING_FAILED when a required field is missing.
func (e *InferenceEngine) Infer(headers []string, sample [][]string) (*ColumnMapping, error) {
	width := len(headers)
	for _, row := range sample {
		if len(row) > width {
			width = len(row)
		}
	}

	var candidates []candidate
	for i := range e.rules {
		rule := &e.rules[i]
		for col := 0; col < width; col++ {
			header := ""
			if col < len(headers) {
				header = headers[col]
			}
			h := headerSimilarity(header, rule.Synonyms)
			c := contentPlausibility(rule.Content, columnValues(sample, col))
			p := positionalPrior(rule.Prior, col)

			score := e.weights.Header*h + e.weights.Content*c + e.weights.Position*p
			if score >= rule.MinConfidence {
				candidates = append(candidates, candidate{rule: rule, col: col, score: score, content: c})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.content != b.content {
			return a.content > b.content
		}
		return a.col < b.col
	})

	mapping := &ColumnMapping{
		Fields:  make(map[Field]FieldMatch),
		Headers: headers,
	}
	usedCols := make(map[int]bool)
	for _, cand := range candidates {
		if _, taken := mapping.Fields[cand.rule.Field]; taken || usedCols[cand.col] {
			continue
		}
		header := ""
		if cand.col < len(headers) {
			header = headers[cand.col]
		}
		mapping.Fields[cand.rule.Field] = FieldMatch{
			Field:      cand.rule.Field,
			Column:     cand.col,
			Header:     header,
			Confidence: round3(cand.score),
		}
		usedCols[cand.col] = true
	}

	if len(mapping.Fields) == 0 {
		return nil, newJobError(CodeLowConfidence, "no column could be matched to a known field")
	}
	for _, rule := range e.rules {
		if _, ok := mapping.Fields[rule.Field]; rule.Required && !ok {
			return mapping, newJobError(CodeMappingFailed, "required field %q could not be located", rule.Field)
		}
	}

	var total float64
	for _, m := range mapping.Fields {
		total += m.Confidence
	}
	mapping.Confidence = round3(total / float64(len(mapping.Fields)))
	return mapping, nil
}

// DetectHeaderRow finds the header within the first MaxHeaderSearchRows rows.
// It prefers the first row where at least two cells, and at least 30% of the
// non-empty cells, look like known headers. Otherwise it falls back to the
// first non-empty row, since banner and title rows often sit above the data.
func (e *InferenceEngine) DetectHeaderRow(rows [][]string) (int, error) {
	if len(rows) == 0 || allEmpty(rows) {
		return -1, newJobError(CodeEmptyFile, "file contains no rows")
	}

	limit := min(len(rows), MaxHeaderSearchRows)
	for i := 0; i < limit; i++ {
		nonEmpty, recognised := 0, 0
		for _, cell := range rows[i] {
			cell = CleanCell(cell)
			if cell == "" {
				continue
			}
			nonEmpty++
			if e.isLikelyHeader(cell) {
				recognised++
			}
		}
		if recognised >= 2 && float64(recognised) >= float64(nonEmpty)*0.3 {
			return i, nil
		}
	}

	for i := 0; i < limit; i++ {
		if !isEmptyRow(rows[i]) {
			return i, nil
		}
	}
	return -1, newJobError(CodeNoHeader, "no header row found in the first %d rows", MaxHeaderSearchRows)
}

// Sample returns up to n non-empty rows following the header.
func Sample(rows [][]string, headerRow, n int) [][]string {
	if n <= 0 {
		n = DefaultSampleRows
	}
	var out [][]string
	for i := headerRow + 1; i < len(rows) && len(out) < n; i++ {
		if !isEmptyRow(rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

func (e *InferenceEngine) isLikelyHeader(cell string) bool {
	for _, rule := range e.rules {
		if headerSimilarity(cell, rule.Synonyms) >= 0.8 {
			return true
		}
	}
	return false
}

// headerSimilarity returns 1 for an exact synonym, 0.8-1 when every token of
// a synonym appears in the header, and partial credit for token overlap.
func headerSimilarity(header string, synonyms []string) float64 {
	norm := normalizeHeader(header)
	if norm == "" {
		return 0
	}
	compact := strings.ReplaceAll(norm, " ", "")
	tokens := strings.Fields(norm)

	best := 0.0
	for _, syn := range synonyms {
		synNorm := normalizeHeader(syn)
		if synNorm == norm || strings.ReplaceAll(synNorm, " ", "") == compact {
			return 1
		}
		synTokens := strings.Fields(synNorm)
		hits := 0
		for _, st := range synTokens {
			for _, ht := range tokens {
				if st == ht {
					hits++
					break
				}
			}
		}
		var s float64
		if hits == len(synTokens) {
			s = 0.8 + 0.2*float64(len(synNorm))/float64(len(norm))
			if s > 0.99 {
				s = 0.99
			}
		} else if hits > 0 {
			s = 0.6 * float64(hits) / float64(len(synTokens))
		}
		if s > best {
			best = s
		}
	}
	return best
}

// normalizeHeader lowercases and replaces punctuation with spaces, keeping
// "/" so that "p/n" survives.
func normalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func columnValues(sample [][]string, col int) []string {
	var out []string
	for _, row := range sample {
		if col < len(row) {
			if v := CleanCell(row[col]); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// contentPlausibility returns how well non-empty sample cells fit a kind.
func contentPlausibility(kind ContentKind, values []string) float64 {
	if len(values) == 0 {
		return 0
	}
	n := float64(len(values))

	switch kind {
	case ContentDecimal:
		parsed, fractional := 0, 0
		for _, v := range values {
			if d, _, err := ParseDecimal(v); err == nil {
				parsed++
				if !d.IsInteger() {
					fractional++
				}
			}
		}
		score := float64(parsed) / n
		if fractional == 0 {
			score *= 0.8
		}
		return score

	case ContentInteger:
		ok := 0
		for _, v := range values {
			if _, err := ParseInteger(v); err == nil {
				ok++
			}
		}
		return float64(ok) / n

	case ContentIdentifier:
		short := 0
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if len(v) <= 40 && !strings.ContainsAny(v, " \t") {
				short++
			}
			seen[strings.ToLower(v)] = true
		}
		return 0.5*float64(short)/n + 0.5*float64(len(seen))/n

	case ContentText:
		letters, spaced := 0, 0
		for _, v := range values {
			if len(v) >= 3 && hasLetter(v) {
				letters++
				if strings.Contains(v, " ") {
					spaced++
				}
			}
		}
		return 0.7*float64(letters)/n + 0.3*float64(spaced)/n

	case ContentBarcode:
		ok := 0
		for _, v := range values {
			if l := len(v); l >= 8 && l <= 14 && allDigits(v) {
				ok++
			}
		}
		return float64(ok) / n

	case ContentLabel:
		ok := 0
		for _, v := range values {
			if len(v) <= 40 && hasLetter(v) {
				if _, _, err := ParseDecimal(v); err != nil {
					ok++
				}
			}
		}
		return float64(ok) / n
	}
	return 0
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func allEmpty(rows [][]string) bool {
	for _, row := range rows {
		if !isEmptyRow(row) {
			return false
		}
	}
	return true
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

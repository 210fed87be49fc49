package core

// convert.go turns raw spreadsheet cells into typed values.
//
// Supplier files carry the usual mess: currency symbols and ISO codes,
// thousands separators in either convention, decimal commas, accounting
// parentheses for negatives, percent suffixes, non-breaking spaces, and
// Excel formula prefixes. Everything here is pure and safe for concurrent use.

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidNumber is returned when a cell cannot be coerced to a number.
var ErrInvalidNumber = errors.New("invalid number")

// numericRegex validates the canonical form produced by the cleanup steps.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// currencySymbols are checked longest-first so "R$" wins over "R".
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"R$", "BRL"},
	{"A$", "AUD"},
	{"C$", "CAD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"R", "ZAR"},
}

var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "ZAR": true, "AUD": true,
	"CAD": true, "NZD": true, "JPY": true, "CHF": true, "INR": true,
	"BRL": true, "CNY": true, "SEK": true, "NOK": true, "DKK": true,
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula wrappers (="..."), and quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// ParseDecimal parses a locale-tolerant number. It returns the value and the
// ISO currency code found in the cell, if any.
func ParseDecimal(raw string) (decimal.Decimal, string, error) {
	s := CleanCell(raw)
	s = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2009", " ").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, "", ErrInvalidNumber
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	// Sign may sit outside the currency marker: "-$5" or "$-5".
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(s[1:])
	}

	s, currency := stripCurrency(s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	} else if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[:len(s)-1])
	}

	s = normalizeSeparators(s)
	if !numericRegex.MatchString(s) {
		return decimal.Zero, currency, ErrInvalidNumber
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, currency, ErrInvalidNumber
	}
	if negative {
		d = d.Neg()
	}
	return d, currency, nil
}

// ParseInteger parses a whole number. Fractional values such as "5.5" are
// rejected rather than truncated.
func ParseInteger(raw string) (int64, error) {
	d, _, err := ParseDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, ErrInvalidNumber
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrInvalidNumber
	}
	return d.IntPart(), nil
}

func stripCurrency(s string) (string, string) {
	if len(s) > 3 {
		if code := strings.ToUpper(s[:3]); currencyCodes[code] {
			return strings.TrimSpace(s[3:]), code
		}
		if code := strings.ToUpper(s[len(s)-3:]); currencyCodes[code] {
			return strings.TrimSpace(s[:len(s)-3]), code
		}
	}

	for _, c := range currencySymbols {
		if strings.HasPrefix(s, c.symbol) {
			rest := strings.TrimSpace(s[len(c.symbol):])
			// A bare "R" is only a currency when a number follows.
			if c.symbol == "R" && (rest == "" || !startsNumeric(rest)) {
				continue
			}
			return rest, c.code
		}
		if c.symbol != "R" && strings.HasSuffix(s, c.symbol) {
			return strings.TrimSpace(s[:len(s)-len(c.symbol)]), c.code
		}
	}
	return s, ""
}

// normalizeSeparators rewrites s so '.' is the only decimal mark and no
// grouping characters remain.
func normalizeSeparators(s string) string {
	s = strings.NewReplacer(" ", "", "'", "", "\u2019", "", "_", "").Replace(s)

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// 1,234.56
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		grouped := len(s)-lastComma-1 == 3 && strings.Trim(s[:lastComma], "0") != ""
		if strings.Count(s, ",") > 1 || grouped {
			// 1,234,567 or 1,234
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 12,5 or 0,500
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		// 1.234.567
		s = strings.ReplaceAll(s, ".", "")
	}
	return s
}

func startsNumeric(s string) bool {
	return s != "" && (isDigit(s[0]) || s[0] == '.' || s[0] == ',' || s[0] == '-')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

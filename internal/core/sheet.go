package core

// sheet.go reads tabular files into rows of strings.
//
// CSV-like files get delimiter sniffing, BOM stripping, and a Windows-1252
// fallback for files that are not valid UTF-8. Workbooks are read with
// excelize, and when a workbook has several sheets the one that looks most
// like a pricelist is chosen.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Sheet is one table of raw cells.
type Sheet struct {
	Name string
	Rows [][]string
}

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	zipMagic   = []byte("PK\x03\x04")
	oleMagic   = []byte{0xD0, 0xCF, 0x11, 0xE0}
	delimiters = []rune{',', ';', '\t', '|'}

	coverSheetName = regexp.MustCompile(`(?i)^(front|cover|info|readme|instructions|notes|terms)`)
)

// ReadSheet decodes a file into rows, choosing the reader from the file name
// and, failing that, the leading bytes.
func ReadSheet(fileName string, data []byte) (*Sheet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newJobError(CodeEmptyFile, "file is empty")
	}

	switch ext := strings.ToLower(filepath.Ext(fileName)); {
	case ext == ".xlsx" || ext == ".xlsm" || bytes.HasPrefix(data, zipMagic):
		return readWorkbook(data)
	case ext == ".xls" || bytes.HasPrefix(data, oleMagic):
		return nil, newJobError(CodeUnsupportedFormat, "legacy .xls workbooks are not supported, save as .xlsx or .csv")
	case ext == ".csv" || ext == ".tsv" || ext == ".txt" || ext == "":
		rows, err := ReadDelimited(data)
		if err != nil {
			return nil, err
		}
		return &Sheet{Name: filepath.Base(fileName), Rows: rows}, nil
	default:
		return nil, newJobError(CodeUnsupportedFormat, "unsupported file type %q", ext)
	}
}

// ReadDelimited parses CSV-like text with a sniffed delimiter.
func ReadDelimited(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var r io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newJobError(CodeUnsupportedFormat, "invalid delimited file: %v", err)
		}
		rows = append(rows, record)
	}
	if allEmpty(rows) {
		return nil, newJobError(CodeEmptyFile, "file contains no rows")
	}
	return rows, nil
}

// sniffDelimiter picks the candidate that splits the first lines most
// consistently. Comma wins when nothing else is convincing.
func sniffDelimiter(data []byte) rune {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		if len(lines) == 10 {
			break
		}
	}
	if len(lines) == 0 {
		return ','
	}

	best, bestScore := ',', 0.0
	for _, d := range delimiters {
		counts := make([]int, len(lines))
		hits, total := 0, 0
		for i, line := range lines {
			counts[i] = countOutsideQuotes(line, d)
			total += counts[i]
			if counts[i] > 0 {
				hits++
			}
		}
		if total == 0 {
			continue
		}
		consistent := true
		for _, c := range counts[1:] {
			if c != counts[0] {
				consistent = false
				break
			}
		}
		score := float64(total) / float64(len(lines)) * float64(hits) / float64(len(lines))
		if consistent {
			score *= 2
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

func readWorkbook(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, newJobError(CodeUnsupportedFormat, "cannot open workbook: %v", err)
	}
	defer f.Close()

	var best *Sheet
	bestScore := 0.0
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		score := scoreSheet(name, rows)
		if best == nil || score > bestScore {
			best, bestScore = &Sheet{Name: name, Rows: rows}, score
		}
	}
	if best == nil || allEmpty(best.Rows) {
		return nil, newJobError(CodeEmptyFile, "workbook contains no rows")
	}
	return best, nil
}

// scoreSheet rates how much a sheet looks like a pricelist: size, pricelist
// vocabulary, and penalties for tiny or cover-style sheets.
func scoreSheet(name string, rows [][]string) float64 {
	score := float64(len(rows)) / 100
	if score > 5 {
		score = 5
	}

	var sb strings.Builder
	for i, row := range rows {
		if i >= MaxHeaderSearchRows {
			break
		}
		for _, cell := range row {
			sb.WriteString(strings.ToLower(cell))
			sb.WriteByte(' ')
		}
	}
	text := sb.String()
	for kw, w := range map[string]float64{"price": 3, "sku": 3, "product": 2, "cost": 2, "qty": 1, "stock": 1} {
		if strings.Contains(text, kw) {
			score += w
		}
	}

	if len(rows) < 5 {
		score -= 5
	}
	if coverSheetName.MatchString(name) {
		score -= 3
	}
	return score
}

package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Fallback phrases used when a row is missing a field.
const (
	missingRegion = "Wilayah tidak tersedia"
	missingYear   = "Tahun tidak tersedia"
	missingValue  = "Data tidak tersedia"
)

// Recognized column headers in BPS statistics exports.
const (
	colRegion      = "vervar"
	colYear        = "tahun"
	colSubCategory = "turvar"
	colValue       = "datacontent"
)

// Row is one observation from a statistics table.
type Row struct {
	Source      string
	Region      string
	Year        string
	SubCategory string
	Value       string
}

// Sentence renders the row as one Indonesian sentence for embedding and
// retrieval. Missing fields are replaced with fallback phrases so every
// row yields a well-formed sentence.
func (r Row) Sentence() string {
	region := orElse(r.Region, missingRegion)
	year := orElse(r.Year, missingYear)
	value := orElse(r.Value, missingValue)
	if sub := strings.TrimSpace(r.SubCategory); sub != "" {
		return fmt.Sprintf("%s, %s, %s untuk %s, %s.", r.Source, year, sub, region, value)
	}
	return fmt.Sprintf("%s, %s, %s, %s.", r.Source, year, region, value)
}

func orElse(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

// ReadTabular reads rows from a .csv or .xlsx statistics file. The file
// name without extension names the underlying indicator and becomes the
// Source of every row.
func ReadTabular(path string) ([]Row, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported tabular format %q", ext)
	}
}

// IsTabular reports whether path has a tabular extension.
func IsTabular(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

func sourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readCSV(path string) ([]Row, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return rowsFromRecords(sourceName(path), records), nil
}

func readXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("XLSX has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rowsFromRecords(sourceName(path), records), nil
}

// rowsFromRecords maps header-addressed records to Rows. The first record
// is the header; unrecognized columns are ignored and missing columns
// leave the corresponding field empty.
func rowsFromRecords(source string, records [][]string) []Row {
	if len(records) < 2 {
		return nil
	}
	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		rows = append(rows, Row{
			Source:      source,
			Region:      field(record, colRegion),
			Year:        field(record, colYear),
			SubCategory: field(record, colSubCategory),
			Value:       field(record, colValue),
		})
	}
	return rows
}

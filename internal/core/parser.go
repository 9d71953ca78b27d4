package core

// parser.go converts uploaded spreadsheet and CSV bytes into Rows.
//
// Both formats treat the first row as headers. Header cells are matched to
// FieldRule labels case-insensitively after CleanCell; unrecognized columns
// are dropped and missing columns simply leave the field absent from the Row.
// Fully blank data rows are skipped; every other data row yields one Row.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseOptions tunes file parsing.
type ParseOptions struct {
	// Encoding is applied to CSV payloads that are not valid UTF-8.
	Encoding Encoding
}

// columnMap maps a file column position to a field name.
type columnMap map[int]string

// buildColumnMap matches header cells to field labels.
func buildColumnMap(header []string, fields []FieldRule) columnMap {
	byLabel := make(map[string]string, len(fields))
	for _, f := range fields {
		byLabel[normalizeHeader(f.Label)] = f.Name
	}

	cols := make(columnMap, len(header))
	for i, h := range header {
		if name, ok := byLabel[normalizeHeader(h)]; ok {
			// First occurrence wins when a label is repeated
			if !cols.hasField(name) {
				cols[i] = name
			}
		}
	}
	return cols
}

func (c columnMap) hasField(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

// toRow builds a Row from one record using the column map.
func (c columnMap) toRow(record []string) Row {
	row := make(Row, len(c))
	for pos, name := range c {
		if pos < len(record) {
			row[name] = record[pos]
		}
	}
	return row
}

// ParseFile parses an uploaded file into rows in input order, excluding the
// header row. Structural problems return an error wrapping ErrParse.
func ParseFile(data []byte, fileType FileType, fields []FieldRule, opts ParseOptions) ([]Row, error) {
	switch fileType {
	case FileExcel:
		return parseExcel(data, fields)
	case FileCSV:
		return parseCSV(data, fields, opts.Encoding)
	default:
		return nil, newError(CodeUnsupportedFormat, fmt.Sprintf("unsupported file type %q", fileType), nil)
	}
}

// parseExcel reads the first sheet of a workbook.
func parseExcel(data []byte, fields []FieldRule) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, newError(CodeParse, "unreadable spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, newError(CodeParse, "spreadsheet has no sheets", nil)
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, newError(CodeParse, fmt.Sprintf("read sheet %q", sheets[0]), err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := buildColumnMap(records[0], fields)
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, cols.toRow(record))
	}
	return rows, nil
}

// parseCSV reads normalized bytes through encoding/csv.
func parseCSV(data []byte, fields []FieldRule, enc Encoding) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(normalizeCSV(data, enc)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(CodeParse, "malformed CSV header", err)
	}

	cols := buildColumnMap(header, fields)
	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newError(CodeParse, "malformed CSV", err)
		}
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, cols.toRow(record))
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

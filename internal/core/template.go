package core

// template.go generates downloadable import templates.
//
// A template has one header row of field labels in declaration order and,
// optionally, example rows. Example cells come from, in priority order, the
// field's ExampleGenerator, its DefaultExample, its enum values in rotation,
// then the type default.

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is a template output format.
type Format string

const (
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
)

// DefaultExampleRowCount is used when IncludeExamples is set without a count.
const DefaultExampleRowCount = 3

// maxSheetName is Excel's limit on worksheet name length.
const maxSheetName = 31

// ParseFormat validates a requested format. Callers reject unsupported
// formats before calling GenerateTemplate.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatExcel, "xlsx":
		return FormatExcel, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", newError(CodeUnsupportedFormat, fmt.Sprintf("unsupported format %q", s), nil)
	}
}

// MIMEType returns the Content-Type for the format.
func (f Format) MIMEType() string {
	if f == FormatExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Extension returns the file extension, including the dot.
func (f Format) Extension() string {
	if f == FormatExcel {
		return ".xlsx"
	}
	return ".csv"
}

// FileType returns the FileType that parses this format back.
func (f Format) FileType() FileType {
	if f == FormatExcel {
		return FileExcel
	}
	return FileCSV
}

// GenerateTemplate builds a template buffer for a module.
func GenerateTemplate(cfg ModuleConfig, opts TemplateOptions) ([]byte, error) {
	headers := make([]string, len(cfg.Fields))
	for i, f := range cfg.Fields {
		headers[i] = f.Label
	}

	var rows [][]any
	if opts.IncludeExamples {
		count := opts.ExampleRowCount
		if count <= 0 {
			count = DefaultExampleRowCount
		}
		now := time.Now()
		rows = make([][]any, count)
		for i := range rows {
			row := make([]any, len(cfg.Fields))
			for j, f := range cfg.Fields {
				row[j] = exampleValue(f, i, now)
			}
			rows[i] = row
		}
	}

	switch opts.Format {
	case FormatExcel:
		return excelTemplate(cfg, headers, rows)
	case FormatCSV:
		return csvTemplate(headers, rows)
	default:
		return nil, newError(CodeUnsupportedFormat, fmt.Sprintf("unsupported format %q", opts.Format), nil)
	}
}

// exampleValue picks the example for one cell.
func exampleValue(f FieldRule, i int, now time.Time) any {
	if f.ExampleGenerator != nil {
		return f.ExampleGenerator(i)
	}
	if f.DefaultExample != nil {
		return f.DefaultExample
	}
	if len(f.EnumValues) > 0 {
		return f.EnumValues[i%len(f.EnumValues)]
	}
	return f.Type.example(f, i, now)
}

// csvTemplate quotes every cell, matching what spreadsheet tools emit for
// text columns. csv.Writer only quotes cells that need it, so rows go
// through writeQuoted instead.
func csvTemplate(headers []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	writeQuoted(&buf, headers)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = stringify(v)
		}
		writeQuoted(&buf, cells)
	}
	return buf.Bytes(), nil
}

func writeQuoted(buf *bytes.Buffer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(c, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

// excelTemplate writes a single-sheet workbook with a bold header row and
// list validation on enum columns.
func excelTemplate(cfg ModuleConfig, headers []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(cfg.DisplayName + " Template")
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, fmt.Errorf("stream writer: %w", err)
	}

	if err := sw.SetColWidth(1, len(headers), 20); err != nil {
		return nil, fmt.Errorf("column width: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, row); err != nil {
			return nil, fmt.Errorf("write example row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}

	for i, field := range cfg.Fields {
		if len(field.EnumValues) == 0 {
			continue
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		dv := excelize.NewDataValidation(true)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", col, col, cfg.maxRowsOrDefault()+1)
		if err := dv.SetDropList(field.EnumValues); err != nil {
			// Excel caps inline list formulas at 255 characters; skip the hint.
			continue
		}
		dv.SetError(excelize.DataValidationErrorStyleStop, "Invalid Value",
			fmt.Sprintf("Must be one of: %s", strings.Join(field.EnumValues, ", ")))
		if err := f.AddDataValidation(sheet, dv); err != nil {
			return nil, fmt.Errorf("enum validation for %s: %w", field.Name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (c ModuleConfig) maxRowsOrDefault() int {
	if c.MaxRows > 0 {
		return c.MaxRows
	}
	return DefaultMaxRows
}

// sheetName strips characters Excel rejects and truncates to 31 runes.
func sheetName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return -1
		}
		return r
	}, s)
	runes := []rune(s)
	if len(runes) > maxSheetName {
		runes = runes[:maxSheetName]
	}
	if len(runes) == 0 {
		return "Template"
	}
	return string(runes)
}

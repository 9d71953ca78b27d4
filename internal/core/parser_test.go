package core

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var parserFields = []FieldRule{
	{Name: "name", Label: "Name", Type: FieldString},
	{Name: "email", Label: "Email Address", Type: FieldEmail},
	{Name: "age", Label: "Age", Type: FieldNumber},
}

func TestParseFile_CSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Row
	}{
		{
			name:  "headers matched case-insensitively",
			input: "NAME, email address ,age\nAnn,ann@example.com,30\n",
			want:  []Row{{"name": "Ann", "email": "ann@example.com", "age": "30"}},
		},
		{
			name:  "unknown columns dropped and missing columns absent",
			input: "Name,Nickname\nBob,bobby\n",
			want:  []Row{{"name": "Bob"}},
		},
		{
			name:  "blank rows skipped",
			input: "Name,Age\nAnn,1\n,\n\nBob,2\n",
			want:  []Row{{"name": "Ann", "age": "1"}, {"name": "Bob", "age": "2"}},
		},
		{
			name:  "values starting with a hash are data",
			input: "Name,Email Address\nAnn,ann@example.com\n#1 Fan,fan@example.com\n",
			want: []Row{
				{"name": "Ann", "email": "ann@example.com"},
				{"name": "#1 Fan", "email": "fan@example.com"},
			},
		},
		{
			name:  "short row leaves trailing fields absent",
			input: "Name,Email Address,Age\nAnn\n",
			want:  []Row{{"name": "Ann"}},
		},
		{
			name:  "quoted cells",
			input: "\"Name\",\"Age\"\n\"Smith, Ann\",\"40\"\n",
			want:  []Row{{"name": "Smith, Ann", "age": "40"}},
		},
		{
			name:  "BOM stripped from header",
			input: "\xEF\xBB\xBFName\nAnn\n",
			want:  []Row{{"name": "Ann"}},
		},
		{
			name:  "first duplicate header wins",
			input: "Name,Name\nfirst,second\n",
			want:  []Row{{"name": "first"}},
		},
		{
			name:  "header only",
			input: "Name,Age\n",
			want:  nil,
		},
		{
			name:  "empty file",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ParseFile([]byte(tt.input), FileCSV, parserFields, ParseOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestParseFile_CSVMalformed(t *testing.T) {
	_, err := ParseFile([]byte("Name,Age\n\"unterminated,1\n"), FileCSV, parserFields, ParseOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseFile_CSVLegacyEncoding(t *testing.T) {
	// "Name\nJosé\n" in Windows-1252
	data := []byte{'N', 'a', 'm', 'e', '\n', 'J', 'o', 's', 0xe9, '\n'}

	rows, err := ParseFile(data, FileCSV, parserFields, ParseOptions{Encoding: EncodingWindows1252})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"name": "José"}}, rows)

	rows, err = ParseFile(data, FileCSV, parserFields, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"name": "Jos?"}}, rows, "without a legacy encoding invalid bytes are replaced")
}

func TestParseFile_Excel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Email Address", "Name", "Ignored"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"ann@example.com", "Ann", "x"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"bob@example.com", "Bob"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := ParseFile(buf.Bytes(), FileExcel, parserFields, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"email": "ann@example.com", "name": "Ann"},
		{"email": "bob@example.com", "name": "Bob"},
	}, rows)
}

func TestParseFile_ExcelGarbage(t *testing.T) {
	_, err := ParseFile([]byte("definitely not a zip"), FileExcel, parserFields, ParseOptions{})
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseFile_UnsupportedType(t *testing.T) {
	_, err := ParseFile([]byte("x"), FileType("pdf"), parserFields, ParseOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestGenerateTemplate_CSV(t *testing.T) {
	cfg := ModuleConfig{
		Name:        "users",
		DisplayName: "Users",
		Fields: []FieldRule{
			{Name: "name", Label: "Full \"Name\"", Type: FieldString},
			{Name: "age", Label: "Age", Type: FieldNumber},
		},
	}

	out, err := GenerateTemplate(cfg, TemplateOptions{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "\"Full \"\"Name\"\"\",\"Age\"\n", string(out))

	out, err = GenerateTemplate(cfg, TemplateOptions{Format: FormatCSV, IncludeExamples: true, ExampleRowCount: 2})
	require.NoError(t, err)
	assert.Equal(t,
		"\"Full \"\"Name\"\"\",\"Age\"\n"+
			"\"Example Full \"\"Name\"\" 1\",\"10\"\n"+
			"\"Example Full \"\"Name\"\" 2\",\"20\"\n",
		string(out))
}

func TestGenerateTemplate_CSVParsesBack(t *testing.T) {
	cfg := ModuleConfig{
		Name: "users",
		Fields: []FieldRule{
			{Name: "name", Label: "Name", Type: FieldString, ExampleGenerator: func(i int) any {
				return fmt.Sprintf(`Smith, "Ann" %d`, i+1)
			}},
			{Name: "email", Label: "Email Address", Type: FieldEmail, DefaultExample: "ann@example.com"},
		},
	}

	out, err := GenerateTemplate(cfg, TemplateOptions{Format: FormatCSV, IncludeExamples: true, ExampleRowCount: 2})
	require.NoError(t, err)

	rows, err := ParseFile(out, FileCSV, cfg.Fields, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"name": `Smith, "Ann" 1`, "email": "ann@example.com"},
		{"name": `Smith, "Ann" 2`, "email": "ann@example.com"},
	}, rows)
}

func TestGenerateTemplate_ExampleSources(t *testing.T) {
	cfg := ModuleConfig{
		Name: "m",
		Fields: []FieldRule{
			{Name: "gen", Label: "Gen", Type: FieldString, ExampleGenerator: func(i int) any { return i * 100 }, DefaultExample: "ignored"},
			{Name: "def", Label: "Def", Type: FieldString, DefaultExample: "fixed"},
			{Name: "role", Label: "Role", Type: FieldString, EnumValues: []string{"admin", "user"}},
			{Name: "ok", Label: "OK", Type: FieldBoolean},
			{Name: "mail", Label: "Mail", Type: FieldEmail},
			{Name: "site", Label: "Site", Type: FieldURL},
		},
	}

	out, err := GenerateTemplate(cfg, TemplateOptions{Format: FormatCSV, IncludeExamples: true, ExampleRowCount: 3})
	require.NoError(t, err)

	rows, err := ParseFile(out, FileCSV, cfg.Fields, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Row{"gen": "0", "def": "fixed", "role": "admin", "ok": "Yes", "mail": "example1@example.com", "site": "https://example.com/site1"}, rows[0])
	assert.Equal(t, Row{"gen": "100", "def": "fixed", "role": "user", "ok": "No", "mail": "example2@example.com", "site": "https://example.com/site2"}, rows[1])
	assert.Equal(t, "admin", rows[2]["role"])
}

func TestGenerateTemplate_DefaultExampleCount(t *testing.T) {
	cfg := ModuleConfig{Name: "m", Fields: []FieldRule{{Name: "a", Label: "A", Type: FieldNumber}}}

	out, err := GenerateTemplate(cfg, TemplateOptions{Format: FormatCSV, IncludeExamples: true})
	require.NoError(t, err)
	rows, err := ParseFile(out, FileCSV, cfg.Fields, ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, DefaultExampleRowCount)
}

func TestGenerateTemplate_UnsupportedFormat(t *testing.T) {
	cfg := ModuleConfig{Name: "m", Fields: []FieldRule{{Name: "a", Label: "A"}}}
	_, err := GenerateTemplate(cfg, TemplateOptions{Format: "pdf"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestGenerateTemplate_Excel(t *testing.T) {
	cfg := ModuleConfig{
		Name:        "users",
		DisplayName: "Very Long Display Name For Users",
		Fields: []FieldRule{
			{Name: "email", Label: "Email", Type: FieldEmail},
			{Name: "role", Label: "Role", Type: FieldString, EnumValues: []string{"admin", "user"}},
		},
	}

	out, err := GenerateTemplate(cfg, TemplateOptions{Format: FormatExcel, IncludeExamples: true, ExampleRowCount: 1})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Len(t, sheets, 1)
	assert.Equal(t, "Very Long Display Name For User", sheets[0], "sheet names are capped at 31 characters")

	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Email", "Role"}, {"example1@example.com", "admin"}}, rows)

	width, err := f.GetColWidth(sheets[0], "A")
	require.NoError(t, err)
	assert.Equal(t, 20.0, width)

	dvs, err := f.GetDataValidations(sheets[0])
	require.NoError(t, err)
	require.Len(t, dvs, 1)
	assert.Contains(t, dvs[0].Sqref, "B2")
}

// Template round-trip: examples re-parse to the same values.
func TestGenerateTemplate_RoundTrip(t *testing.T) {
	fields := []FieldRule{
		{Name: "name", Label: "Name", Type: FieldString},
		{Name: "email", Label: "Email", Type: FieldEmail},
		{Name: "age", Label: "Age", Type: FieldNumber},
		{Name: "active", Label: "Active", Type: FieldBoolean},
		{Name: "joined", Label: "Joined", Type: FieldDate},
		{Name: "id", Label: "ID", Type: FieldUUID},
		{Name: "site", Label: "Site", Type: FieldURL},
	}
	cfg := ModuleConfig{Name: "people", DisplayName: "People", Fields: fields}

	for _, format := range []Format{FormatExcel, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			const n = 4
			out, err := GenerateTemplate(cfg, TemplateOptions{Format: format, IncludeExamples: true, ExampleRowCount: n})
			require.NoError(t, err)

			rows, err := ParseFile(out, format.FileType(), fields, ParseOptions{})
			require.NoError(t, err)
			require.Len(t, rows, n)

			v := NewRowValidator(cfg)
			for i, row := range rows {
				assert.Equal(t, stringify(exampleValue(fields[0], i, time.Now())), row["name"])
				assert.Equal(t, stringify(exampleValue(fields[1], i, time.Now())), row["email"])
				assert.Equal(t, stringify((i+1)*10), row["age"])

				res := v.ValidateRow(context.Background(), row, i)
				assert.True(t, res.IsValid, "row %d: %+v", i, res.Errors)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"excel", FormatExcel, false},
		{"XLSX", FormatExcel, false},
		{" csv ", FormatCSV, false},
		{"pdf", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedFormat, tt.input)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "text/csv", FormatCSV.MIMEType())
	assert.Equal(t, ".xlsx", FormatExcel.Extension())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FormatExcel.MIMEType())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Users Template", sheetName("Users Template"))
	assert.Equal(t, "AB Template", sheetName("A/B Template"))
	assert.Equal(t, "Template", sheetName("[]"))
	assert.Len(t, []rune(sheetName("ÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄÄ")), 31)
}

package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ToNumber Tests
// ----------------------------------------------------------------------------

func TestToNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		wantOK bool
		want   float64
	}{
		// Valid: strings
		{name: "positive integer", input: "123", wantOK: true, want: 123},
		{name: "zero", input: "0", wantOK: true, want: 0},
		{name: "negative integer", input: "-456", wantOK: true, want: -456},
		{name: "decimal number", input: "123.45", wantOK: true, want: 123.45},
		{name: "leading decimal point", input: ".99", wantOK: true, want: 0.99},
		{name: "trailing decimal point", input: "99.", wantOK: true, want: 99},
		{name: "scientific notation", input: "1.5e3", wantOK: true, want: 1500},
		{name: "surrounding whitespace", input: "  42  ", wantOK: true, want: 42},
		{name: "explicit plus", input: "+7", wantOK: true, want: 7},

		// Valid: native numbers
		{name: "int", input: 12, wantOK: true, want: 12},
		{name: "int64", input: int64(-3), wantOK: true, want: -3},
		{name: "float64", input: 2.5, wantOK: true, want: 2.5},

		// Invalid
		{name: "letters", input: "abc", wantOK: false},
		{name: "thousands separator", input: "1,234", wantOK: false},
		{name: "currency symbol", input: "$10", wantOK: false},
		{name: "empty string", input: "", wantOK: false},
		{name: "lone sign", input: "-", wantOK: false},
		{name: "bool", input: true, wantOK: false},
		{name: "nil", input: nil, wantOK: false},
		{name: "Inf spelled out", input: "Inf", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToNumber(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ToNumber(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToBool Tests
// ----------------------------------------------------------------------------

func TestToBool(t *testing.T) {
	tests := []struct {
		input  any
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{" yes ", true, true},
		{"false", false, true},
		{"No", false, true},
		{"0", false, true},
		{true, true, true},
		{false, false, true},
		{"y", false, false},
		{"t", false, false},
		{"on", false, false},
		{"2", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(stringify(tt.input), func(t *testing.T) {
			got, ok := ToBool(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToBool(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ToBool(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToDate Tests
// ----------------------------------------------------------------------------

func TestToDate(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		wantOK bool
		want   string // YYYY-MM-DD
	}{
		{name: "ISO date", input: "2024-03-15", wantOK: true, want: "2024-03-15"},
		{name: "RFC3339", input: "2024-03-15T10:30:00Z", wantOK: true, want: "2024-03-15"},
		{name: "date time", input: "2024-03-15 10:30:00", wantOK: true, want: "2024-03-15"},
		{name: "US format", input: "3/15/2024", wantOK: true, want: "2024-03-15"},
		{name: "US padded", input: "03/15/2024", wantOK: true, want: "2024-03-15"},
		{name: "slash ISO", input: "2024/03/15", wantOK: true, want: "2024-03-15"},
		{name: "month name", input: "March 15, 2024", wantOK: true, want: "2024-03-15"},
		{name: "compact", input: "20240315", wantOK: true, want: "2024-03-15"},
		{name: "time value", input: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), wantOK: true, want: "2024-03-15"},

		{name: "empty", input: "", wantOK: false},
		{name: "garbage", input: "not a date", wantOK: false},
		{name: "impossible day", input: "2024-02-30", wantOK: false},
		{name: "month 13", input: "2024-13-01", wantOK: false},
		{name: "zero time", input: time.Time{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToDate(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got.Format(time.DateOnly) != tt.want {
				t.Errorf("ToDate(%v) = %s, want %s", tt.input, got.Format(time.DateOnly), tt.want)
			}
		})
	}
}

func TestToDate_TwoDigitYear(t *testing.T) {
	// Use a year far enough from the pivot that the test is stable.
	got, ok := ToDate("1/2/05")
	if !ok {
		t.Fatal("ToDate(1/2/05) failed")
	}
	if got.Year() != 2005 {
		t.Errorf("year = %d, want 2005", got.Year())
	}

	got, ok = ToDate("1/2/99")
	if !ok {
		t.Fatal("ToDate(1/2/99) failed")
	}
	if got.Year() != 1999 {
		t.Errorf("year = %d, want 1999", got.Year())
	}
}

// ----------------------------------------------------------------------------
// isEmpty Tests
// ----------------------------------------------------------------------------

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"whitespace", "   \t", true},
		{"text", "x", false},
		{"zero number", 0, false},
		{"false", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmpty(tt.input); got != tt.want {
				t.Errorf("isEmpty(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Basic cleaning
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},

		// Whitespace trimming
		{name: "leading whitespace", input: "  hello", want: "hello"},
		{name: "trailing whitespace", input: "hello  ", want: "hello"},

		// Excel formula prefix handling
		{name: "Excel formula with quotes", input: `="hello"`, want: "hello"},
		{name: "Excel formula number as text", input: `="12345"`, want: "12345"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},

		// Quote handling
		{name: "double quotes removed", input: `"hello"`, want: "hello"},
		{name: "single quotes removed", input: "'hello'", want: "hello"},
		{name: "leading single quote (Excel text prefix)", input: "'12345", want: "12345"},

		// Combined cleaning
		{name: "whitespace and quotes", input: `  "hello"  `, want: "hello"},
		{name: "excel formula with whitespace", input: `  ="test"  `, want: "test"},

		// Edge cases
		{name: "only quotes", input: `""`, want: ""},
		{name: "equals with quoted number", input: `="0"`, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Email", "email"},
		{"  First Name ", "first name"},
		{`="EMAIL"`, "email"},
	}

	for _, tt := range tests {
		if got := normalizeHeader(tt.input); got != tt.want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

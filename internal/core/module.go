package core

import (
	"context"
	"fmt"
)

// Module defaults, applied by Register when a field is left at zero.
const (
	DefaultMaxRows                  = 10000
	DefaultSessionExpirationMinutes = 30
	DefaultBatchSize                = 100
)

// Transformer rewrites a raw cell value before it is validated.
// It is used for cleanup (trimming, JSON decoding) and representation changes
// ("yes" -> true).
type Transformer func(value any, row Row) any

// FieldValidator is a custom check run after the built-in checks.
// It returns at most one ValidationError. A non-nil error means the check
// itself could not complete; the engine turns it into an error-severity item.
type FieldValidator func(ctx context.Context, value any, row Row, index int) (*ValidationError, error)

// ErrorMessages overrides the default messages of a field.
type ErrorMessages struct {
	Required string
	Invalid  string
}

// FieldRule declares one import column.
type FieldRule struct {
	Name     string    // Key in Row and Record
	Label    string    // Header text in files and templates
	Required bool
	Type     FieldType

	MaxLength  int      // Strings only; 0 means unlimited
	MinValue   *float64 // Numbers only
	MaxValue   *float64 // Numbers only
	EnumValues []string

	Transformer Transformer
	Validators  []FieldValidator

	ExampleGenerator func(index int) any
	DefaultExample   any

	ErrorMessages ErrorMessages
}

// RecordStore persists one batch of transformed records.
// It returns the records that were actually inserted.
type RecordStore interface {
	InsertBatch(ctx context.Context, records []Record) ([]Record, error)
}

// RecordStoreFunc adapts a function to RecordStore.
type RecordStoreFunc func(ctx context.Context, records []Record) ([]Record, error)

// InsertBatch calls f.
func (f RecordStoreFunc) InsertBatch(ctx context.Context, records []Record) ([]Record, error) {
	return f(ctx, records)
}

// RowTransformerFunc converts a validated row to a persistence-ready record.
type RowTransformerFunc func(row Row) (Record, error)

// RowValidatorFunc runs after per-field validation of a row.
type RowValidatorFunc func(ctx context.Context, row Row, index int) []ValidationError

// CustomValidationFunc sees every parsed row at once and returns extra errors
// keyed by 0-based row index.
type CustomValidationFunc func(ctx context.Context, rows []Row) (map[int][]ValidationError, error)

// HookFunc is called with the full transformed set (pre-insert) or with the
// records that were inserted (post-insert).
type HookFunc func(ctx context.Context, records []Record) error

// ErrorHandlerFunc is called once per record of a failed batch.
type ErrorHandlerFunc func(err error, record Record, index int)

// ModuleConfig describes how one entity type is imported.
// It is built once at startup and treated as read-only afterwards.
type ModuleConfig struct {
	Name        string // URL-safe key: "users"
	DisplayName string // Human label: "Users"
	Fields      []FieldRule

	MaxRows                  int
	AllowWarnings            bool
	SessionExpirationMinutes int
	BatchSize                int

	Store RecordStore

	RowTransformer   RowTransformerFunc
	RowValidator     RowValidatorFunc
	CustomValidation CustomValidationFunc
	PreInsertHook    HookFunc
	PostInsertHook   HookFunc
	ErrorHandler     ErrorHandlerFunc
}

// withDefaults returns a copy of c with zero limits replaced by defaults.
func (c ModuleConfig) withDefaults() ModuleConfig {
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.SessionExpirationMinutes <= 0 {
		c.SessionExpirationMinutes = DefaultSessionExpirationMinutes
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Name
	}
	return c
}

// validate checks the structural soundness of a module configuration.
func (c ModuleConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("module %s: at least one field is required", c.Name)
	}
	if c.Store == nil {
		return fmt.Errorf("module %s: record store is required", c.Name)
	}

	names := make(map[string]bool, len(c.Fields))
	labels := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == "" || f.Label == "" {
			return fmt.Errorf("module %s: field name and label are required", c.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("module %s: field %s has unknown type %d", c.Name, f.Name, f.Type)
		}
		if names[f.Name] {
			return fmt.Errorf("module %s: duplicate field name %q", c.Name, f.Name)
		}
		key := normalizeHeader(f.Label)
		if labels[key] {
			return fmt.Errorf("module %s: duplicate field label %q", c.Name, f.Label)
		}
		names[f.Name] = true
		labels[key] = true
	}
	return nil
}

// Field returns the rule with the given name.
func (c ModuleConfig) Field(name string) (FieldRule, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldRule{}, false
}

// Float returns a pointer to v, for FieldRule.MinValue and MaxValue literals.
func Float(v float64) *float64 {
	return &v
}

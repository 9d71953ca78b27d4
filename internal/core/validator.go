package core

// validator.go provides field- and row-level validation of parsed rows.
//
// For every field, in declaration order:
//  1. Transformer (if any) rewrites the raw value
//  2. Required check; a missing required value yields one REQUIRED_FIELD
//     error and nothing else for that field
//  3. Type check against the FieldType (INVALID_<TYPE>)
//  4. Constraint checks: max length, min/max value, enum membership
//  5. Custom validators in declared order
//
// Module-wide RowValidator output is appended afterwards. Problems are
// returned as data; nothing here aborts validation of the rest of the row.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Error codes emitted by field validation.
const (
	CodeRequiredField     = "REQUIRED_FIELD"
	CodeMaxLengthExceeded = "MAX_LENGTH_EXCEEDED"
	CodeMinValueNotMet    = "MIN_VALUE_NOT_MET"
	CodeMaxValueExceeded  = "MAX_VALUE_EXCEEDED"
	CodeInvalidEnumValue  = "INVALID_ENUM_VALUE"
	CodeValidatorFailed   = "VALIDATOR_FAILED"
)

// RowValidator validates rows against a module's field rules.
type RowValidator struct {
	fields       []FieldRule
	rowValidator RowValidatorFunc
}

// NewRowValidator creates a validator for the given module.
func NewRowValidator(cfg ModuleConfig) *RowValidator {
	return &RowValidator{
		fields:       cfg.Fields,
		rowValidator: cfg.RowValidator,
	}
}

// ValidateRow validates one row. index is 0-based; RowValidation.Row is
// index+1.
func (v *RowValidator) ValidateRow(ctx context.Context, row Row, index int) RowValidation {
	result := RowValidation{
		Row:      index + 1,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
		Data:     row,
	}

	for _, field := range v.fields {
		for _, e := range ValidateField(ctx, field, row[field.Name], row, index) {
			result.add(e)
		}
	}

	if v.rowValidator != nil {
		for _, e := range v.rowValidator(ctx, row, index) {
			result.add(e)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// add files e into the errors or warnings bucket by severity.
// Anything that is not error-severity is non-blocking. Info items are
// reported alongside warnings but never counted as one.
func (r *RowValidation) add(e ValidationError) {
	if e.Severity == "" {
		e.Severity = SeverityError
	}
	if e.Severity == SeverityError {
		r.Errors = append(r.Errors, e)
	} else {
		r.Warnings = append(r.Warnings, e)
	}
}

// ValidateField runs every check of one rule against a value and returns all
// problems found.
func ValidateField(ctx context.Context, field FieldRule, value any, row Row, index int) []ValidationError {
	var errs []ValidationError

	if field.Transformer != nil {
		value = field.Transformer(value, row)
	}

	if isEmpty(value) {
		if field.Required {
			msg := field.ErrorMessages.Required
			if msg == "" {
				msg = fmt.Sprintf("%s is required", field.Label)
			}
			errs = append(errs, fieldError(field, CodeRequiredField, msg, value))
		}
		return errs
	}

	if !field.Type.check(value) {
		msg := field.ErrorMessages.Invalid
		if msg == "" {
			msg = field.Type.invalidMessage(field.Label)
		}
		errs = append(errs, fieldError(field, field.Type.invalidCode(), msg, value))
	}

	if field.Type == FieldString && field.MaxLength > 0 &&
		utf8.RuneCountInString(stringify(value)) > field.MaxLength {
		errs = append(errs, fieldError(field, CodeMaxLengthExceeded,
			fmt.Sprintf("%s must be at most %d characters", field.Label, field.MaxLength), value))
	}

	if field.Type == FieldNumber {
		if n, ok := ToNumber(value); ok {
			if field.MinValue != nil && n < *field.MinValue {
				errs = append(errs, fieldError(field, CodeMinValueNotMet,
					fmt.Sprintf("%s must be at least %s", field.Label, formatFloat(*field.MinValue)), value))
			}
			if field.MaxValue != nil && n > *field.MaxValue {
				errs = append(errs, fieldError(field, CodeMaxValueExceeded,
					fmt.Sprintf("%s must be at most %s", field.Label, formatFloat(*field.MaxValue)), value))
			}
		}
	}

	if len(field.EnumValues) > 0 && !inEnum(field.EnumValues, value) {
		errs = append(errs, fieldError(field, CodeInvalidEnumValue,
			fmt.Sprintf("%s must be one of: %s", field.Label, strings.Join(field.EnumValues, ", ")), value))
	}

	for i, validator := range field.Validators {
		if e := runValidator(ctx, validator, field, value, row, index, i); e != nil {
			errs = append(errs, *e)
		}
	}

	return errs
}

// runValidator calls one custom validator. A returned error or a panic is
// converted into an error-severity ValidationError.
func runValidator(ctx context.Context, validator FieldValidator, field FieldRule, value any, row Row, index, pos int) (result *ValidationError) {
	defer func() {
		if r := recover(); r != nil {
			result = failedValidator(field, value, fmt.Errorf("validator %d panicked: %v", pos, r))
		}
	}()

	verr, err := validator(ctx, value, row, index)
	if err != nil {
		return failedValidator(field, value, err)
	}
	if verr != nil {
		e := *verr
		if e.Field == "" {
			e.Field = field.Name
		}
		if e.Severity == "" {
			e.Severity = SeverityError
		}
		return &e
	}
	return nil
}

func failedValidator(field FieldRule, value any, err error) *ValidationError {
	e := fieldError(field, CodeValidatorFailed,
		fmt.Sprintf("%s could not be validated: %v", field.Label, err), value)
	return &e
}

func fieldError(field FieldRule, code, msg string, value any) ValidationError {
	return ValidationError{
		Field:    field.Name,
		Message:  msg,
		Code:     code,
		Severity: SeverityError,
		Value:    value,
	}
}

// inEnum compares the string form of value against the allowed values.
func inEnum(enum []string, value any) bool {
	s := stringify(value)
	for _, ev := range enum {
		if ev == s {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// summarize derives the ValidationSummary of a validated file.
func summarize(rows []RowValidation, allowWarnings bool) ValidationSummary {
	s := ValidationSummary{TotalRows: len(rows)}
	for _, r := range rows {
		if r.IsValid {
			s.ValidRows++
		}
		s.TotalErrors += len(r.Errors)
		for _, w := range r.Warnings {
			if w.Severity == SeverityWarning {
				s.TotalWarnings++
			}
		}
	}
	s.InvalidRows = s.TotalRows - s.ValidRows
	s.CanProceed = s.InvalidRows == 0 && (allowWarnings || s.TotalWarnings == 0)
	return s
}

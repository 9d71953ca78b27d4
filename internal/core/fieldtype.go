package core

// fieldtype.go defines the closed set of column types.
//
// Each FieldType has exactly one format check and one example generator.
// Both are selected with an exhaustive switch; fieldTypeCount bounds the set
// so tests can iterate every variant.

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the expected data type for an import column.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldBoolean
	FieldDate
	FieldEmail
	FieldUUID
	FieldURL

	fieldTypeCount
)

var fieldTypeNames = [fieldTypeCount]string{
	FieldString:  "string",
	FieldNumber:  "number",
	FieldBoolean: "boolean",
	FieldDate:    "date",
	FieldEmail:   "email",
	FieldUUID:    "uuid",
	FieldURL:     "url",
}

func (t FieldType) valid() bool {
	return t >= 0 && t < fieldTypeCount
}

// String returns the lowercase type name used in configs and JSON.
func (t FieldType) String() string {
	if !t.valid() {
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
	return fieldTypeNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseFieldType maps a type name to its FieldType.
func ParseFieldType(s string) (FieldType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range fieldTypeNames {
		if name == s {
			return FieldType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// invalidCode is the error code emitted when a value fails the type check.
func (t FieldType) invalidCode() string {
	return "INVALID_" + strings.ToUpper(t.String())
}

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	uuidRegex  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// check reports whether value is acceptable for the type.
// value has already passed the emptiness check.
func (t FieldType) check(value any) bool {
	switch t {
	case FieldString:
		return true
	case FieldNumber:
		_, ok := ToNumber(value)
		return ok
	case FieldBoolean:
		_, ok := ToBool(value)
		return ok
	case FieldDate:
		_, ok := ToDate(value)
		return ok
	case FieldEmail:
		return emailRegex.MatchString(strings.TrimSpace(stringify(value)))
	case FieldUUID:
		return uuidRegex.MatchString(strings.TrimSpace(stringify(value)))
	case FieldURL:
		return isURL(strings.TrimSpace(stringify(value)))
	default:
		panic(fmt.Sprintf("core: unhandled field type %d", int(t)))
	}
}

// invalidMessage is the default message for a failed type check.
func (t FieldType) invalidMessage(label string) string {
	switch t {
	case FieldBoolean:
		return fmt.Sprintf("%s must be a valid boolean (Yes/No, True/False, 1/0)", label)
	case FieldEmail:
		return fmt.Sprintf("%s must be a valid email", label)
	case FieldUUID:
		return fmt.Sprintf("%s must be a valid UUID", label)
	case FieldURL:
		return fmt.Sprintf("%s must be a valid URL", label)
	default:
		return fmt.Sprintf("%s must be a valid %s", label, t)
	}
}

// example returns the type-driven example value for row i (0-based).
func (t FieldType) example(rule FieldRule, i int, now time.Time) any {
	switch t {
	case FieldString:
		return fmt.Sprintf("Example %s %d", rule.Label, i+1)
	case FieldNumber:
		return (i + 1) * 10
	case FieldBoolean:
		if i%2 == 0 {
			return "Yes"
		}
		return "No"
	case FieldDate:
		return now.AddDate(0, 0, i).Format(time.DateOnly)
	case FieldEmail:
		return fmt.Sprintf("example%d@example.com", i+1)
	case FieldUUID:
		return uuid.New().String()
	case FieldURL:
		return fmt.Sprintf("https://example.com/%s%d", rule.Name, i+1)
	default:
		panic(fmt.Sprintf("core: unhandled field type %d", int(t)))
	}
}

// isURL accepts absolute URLs with a scheme and host, or opaque URLs such as
// mailto:.
func isURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}

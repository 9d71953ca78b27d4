package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldType_EveryVariant(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for ft := FieldType(0); ft < fieldTypeCount; ft++ {
		t.Run(ft.String(), func(t *testing.T) {
			parsed, err := ParseFieldType(ft.String())
			require.NoError(t, err)
			assert.Equal(t, ft, parsed)

			assert.Regexp(t, `^INVALID_[A-Z]+$`, ft.invalidCode())
			assert.NotEmpty(t, ft.invalidMessage("Col"))

			rule := FieldRule{Name: "col", Label: "Col", Type: ft}
			for i := range 3 {
				ex := ft.example(rule, i, now)
				assert.True(t, ft.check(ex), "example %v must pass its own type check", ex)
			}
		})
	}
}

func TestFieldType_Unknown(t *testing.T) {
	_, err := ParseFieldType("decimal")
	assert.Error(t, err)

	bogus := fieldTypeCount + 3
	assert.False(t, bogus.valid())
	assert.Equal(t, "FieldType(10)", bogus.String())
	assert.Panics(t, func() { bogus.check("x") })
}

func TestFieldType_Text(t *testing.T) {
	var cfg struct {
		Type FieldType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"type":" Email "}`), &cfg))
	assert.Equal(t, FieldEmail, cfg.Type)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"email"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"type":"blob"}`), &cfg))
}

func TestFieldType_Examples(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rule := FieldRule{Name: "site", Label: "Site"}

	assert.Equal(t, "Example Site 2", FieldString.example(rule, 1, now))
	assert.Equal(t, 30, FieldNumber.example(rule, 2, now))
	assert.Equal(t, "No", FieldBoolean.example(rule, 1, now))
	assert.Equal(t, "2024-06-03", FieldDate.example(rule, 2, now))
	assert.Equal(t, "example1@example.com", FieldEmail.example(rule, 0, now))
	assert.Equal(t, "https://example.com/site1", FieldURL.example(rule, 0, now))
}

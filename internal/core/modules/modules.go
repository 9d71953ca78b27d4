// Package modules registers the import modules served by this deployment.
//
// Each module is a core.ModuleConfig backed by PostgreSQL. Register must run
// before core.NewService, which builds one importer per registered module.
package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/importer/internal/core"
)

// DB is the database surface the modules need. Satisfied by *pgxpool.Pool.
type DB interface {
	core.DBTX
	core.TxBeginner
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Register adds every module to the core registry.
func Register(db DB) {
	registerUsers(db)
	registerDepartments(db)
}

// splitList splits a comma-separated cell into trimmed, non-empty items.
func splitList(v any) []string {
	s, _ := v.(string)
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// referenceValidator checks that every item of a comma-separated cell exists
// in table.column. The first missing item is reported with code.
func referenceValidator(db core.DBTX, table, column, code, noun string) core.FieldValidator {
	query := fmt.Sprintf(
		"SELECT COALESCE(array_agg(v), '{}') FROM unnest($1::text[]) AS v WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = v)",
		pgx.Identifier(strings.Split(table, ".")).Sanitize(), pgx.Identifier{column}.Sanitize())

	return func(ctx context.Context, value any, _ core.Row, _ int) (*core.ValidationError, error) {
		items := splitList(value)
		if len(items) == 0 {
			return nil, nil
		}

		var missing []string
		if err := db.QueryRow(ctx, query, items).Scan(&missing); err != nil {
			return nil, fmt.Errorf("look up %s: %w", noun, err)
		}
		if len(missing) == 0 {
			return nil, nil
		}
		return &core.ValidationError{
			Message:  fmt.Sprintf("%s '%s' does not exist", noun, missing[0]),
			Code:     code,
			Severity: core.SeverityError,
			Value:    value,
		}, nil
	}
}

// duplicatesInFile reports rows whose value in field repeats an earlier row.
func duplicatesInFile(field, label string) core.CustomValidationFunc {
	return func(_ context.Context, rows []core.Row) (map[int][]core.ValidationError, error) {
		first := make(map[string]int, len(rows))
		out := make(map[int][]core.ValidationError)
		for i, row := range rows {
			key := strings.ToLower(strings.TrimSpace(fmt.Sprint(row[field])))
			if key == "" || row[field] == nil {
				continue
			}
			if j, ok := first[key]; ok {
				out[i] = append(out[i], core.ValidationError{
					Field:    field,
					Message:  fmt.Sprintf("%s duplicates row %d", label, j+1),
					Code:     "DUPLICATE_IN_FILE",
					Severity: core.SeverityError,
					Value:    row[field],
				})
				continue
			}
			first[key] = i
		}
		return out, nil
	}
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

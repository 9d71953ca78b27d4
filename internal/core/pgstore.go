package core

// pgstore.go provides PostgreSQL-backed module collaborators: a RecordStore
// that writes each batch with COPY inside a transaction, and a uniqueness
// validator that checks a column for an existing value.

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CodeDuplicateValue is emitted by UniqueValidator.
const CodeDuplicateValue = "DUPLICATE_VALUE"

// TxBeginner starts transactions. Satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgRecordStore inserts records into one table.
// Record keys map to columns of the same name; missing keys insert NULL.
type PgRecordStore struct {
	db      TxBeginner
	table   pgx.Identifier
	columns []string
}

// NewPgRecordStore creates a store for table. table may be schema-qualified
// ("public.users").
func NewPgRecordStore(db TxBeginner, table string, columns ...string) *PgRecordStore {
	return &PgRecordStore{
		db:      db,
		table:   splitIdentifier(table),
		columns: columns,
	}
}

// InsertBatch copies the whole batch in one transaction; either every record
// is inserted or none is.
func (s *PgRecordStore) InsertBatch(ctx context.Context, records []Record) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, s.table, s.columns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		vals := make([]any, len(s.columns))
		for j, col := range s.columns {
			vals[j] = records[i][col]
		}
		return vals, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("copy into %s: %w", s.table.Sanitize(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if int(n) != len(records) {
		return records[:n], nil
	}
	return records, nil
}

// UniqueValidator reports a value that already exists in table.column.
// Lookup failures are returned as errors, which the validator turns into a
// VALIDATOR_FAILED item.
func UniqueValidator(db DBTX, table, column string) FieldValidator {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)",
		splitIdentifier(table).Sanitize(), pgx.Identifier{column}.Sanitize())

	return func(ctx context.Context, value any, _ Row, _ int) (*ValidationError, error) {
		var exists bool
		if err := db.QueryRow(ctx, query, stringify(value)).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check %s.%s: %w", table, column, err)
		}
		if !exists {
			return nil, nil
		}
		return &ValidationError{
			Message:  fmt.Sprintf("%v already exists", value),
			Code:     CodeDuplicateValue,
			Severity: SeverityError,
			Value:    value,
		}, nil
	}
}

func splitIdentifier(name string) pgx.Identifier {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{name}
}

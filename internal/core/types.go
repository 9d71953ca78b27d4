// Package core provides the business logic for bulk import operations.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Row is one parsed data row keyed by field name.
// Values are whatever the parser or a transformer produced (usually strings).
type Row map[string]any

// Record is a persistence-ready row produced by a module's RowTransformer.
type Record map[string]any

// Severity classifies a validation error as blocking or not.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationError is a single problem found in a field or row.
type ValidationError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Value    any      `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// RowValidation is the validation outcome of one input row.
// IsValid holds iff Errors is empty; warnings never affect validity.
type RowValidation struct {
	Row      int               `json:"row"` // 1-based
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Data     Row               `json:"data"`
}

// ValidationSummary aggregates the row validations of one file.
type ValidationSummary struct {
	TotalRows     int  `json:"totalRows"`
	ValidRows     int  `json:"validRows"`
	InvalidRows   int  `json:"invalidRows"`
	TotalErrors   int  `json:"totalErrors"`
	TotalWarnings int  `json:"totalWarnings"`
	CanProceed    bool `json:"canProceed"`
}

// FileType is the declared format of an uploaded file.
type FileType string

const (
	FileExcel FileType = "excel"
	FileCSV   FileType = "csv"
)

// Session is the stored result of parsing and validating one uploaded file.
type Session struct {
	ID            string            `json:"sessionId"`
	Module        string            `json:"module"`
	FileName      string            `json:"fileName"`
	FileType      FileType          `json:"fileType"`
	UploadedAt    time.Time         `json:"uploadedAt"`
	ValidatedRows []RowValidation   `json:"validatedRows"`
	Summary       ValidationSummary `json:"summary"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job tracks the background insertion of one session's valid rows.
type Job struct {
	ID               string     `json:"jobId"`
	SessionID        string     `json:"sessionId"`
	Module           string     `json:"module"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"` // 0-100
	TotalRecords     int        `json:"totalRecords"`
	ProcessedRecords int        `json:"processedRecords"`
	SuccessCount     int        `json:"successCount"`
	FailedCount      int        `json:"failedCount"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
	Results          []Record   `json:"-"`
}

// TemplateOptions controls template generation.
type TemplateOptions struct {
	Format          Format
	IncludeExamples bool
	ExampleRowCount int
}

// ValidateRequest carries an uploaded file into ValidateFile.
type ValidateRequest struct {
	File     []byte
	FileName string
	FileType FileType
}

// ValidateResponse is returned by ValidateFile.
type ValidateResponse struct {
	SessionID  string            `json:"sessionId"`
	FileName   string            `json:"fileName"`
	Summary    ValidationSummary `json:"summary"`
	Errors     []RowValidation   `json:"errors"`
	CanProceed bool              `json:"canProceed"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// ExecuteRequest asks for a validated session to be imported.
type ExecuteRequest struct {
	SessionID    string `json:"sessionId"`
	SkipWarnings bool   `json:"skipWarnings"`
}

// ExecuteResponse is returned as soon as the job has been scheduled.
type ExecuteResponse struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

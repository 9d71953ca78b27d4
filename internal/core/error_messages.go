package core

// error_messages.go maps failures to user-friendly messages with codes for
// support reference.
//
// Import failures (*Error) map by their stable code:
//
//	IMP001 - SESSION_NOT_FOUND: validation session unknown or expired
//	IMP002 - JOB_NOT_FOUND: import job unknown or already cleaned up
//	IMP003 - VALIDATION_BLOCKED: unresolved errors or warnings block the import
//	IMP004 - TOO_MANY_ROWS: file exceeds the module's row limit
//	IMP005 - JOB_NOT_CANCELLABLE: job already reached a terminal state
//	IMP006 - UNKNOWN_MODULE: no import module with that name
//	FILE001 - FILE_TOO_LARGE: file exceeds the size limit
//	FILE002 - PARSE_ERROR: file is not a readable spreadsheet or CSV
//	FILE006 - UNSUPPORTED_FORMAT: only excel and csv are accepted
//	UPL002 - SERVER_BUSY: all validation slots are taken
//
// Anything else (database and transport errors raised by record stores or
// validators) is matched case-insensitively against errorPatterns; the first
// match wins. ERR000 is the fallback.

import (
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var codeMessages = map[string]UserMessage{
	CodeSessionNotFound: {
		Message: "Validation session not found or expired",
		Action:  "Upload and validate the file again",
		Code:    "IMP001",
	},
	CodeJobNotFound: {
		Message: "Import job not found",
		Action:  "The job may have finished a while ago. Check the imported data",
		Code:    "IMP002",
	},
	CodeValidationBlocked: {
		Message: "Cannot proceed with import due to validation errors",
		Action:  "Fix the reported rows, or confirm the import despite warnings",
		Code:    "IMP003",
	},
	CodeTooManyRows: {
		Message: "File contains too many rows",
		Action:  "Split the file into smaller chunks",
		Code:    "IMP004",
	},
	CodeJobNotCancellable: {
		Message: "Import job has already finished",
		Action:  "Only pending or processing jobs can be cancelled",
		Code:    "IMP005",
	},
	CodeUnknownModule: {
		Message: "Unknown import type",
		Action:  "This import type is not configured",
		Code:    "IMP006",
	},
	CodeFileTooLarge: {
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	},
	CodeParse: {
		Message: "File could not be read",
		Action:  "Ensure the file is a valid .xlsx or comma-separated .csv file",
		Code:    "FILE002",
	},
	CodeUnsupportedFormat: {
		Message: "Unsupported file format",
		Action:  "Use excel (.xlsx) or csv",
		Code:    "FILE006",
	},
	CodeBusy: {
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// More specific patterns must come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Review failed rows for duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Ensure parent records are imported first",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try uploading a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
// Import failures map by code; other errors by pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := codeMessages[ErrorCode(err)]; ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

package web

// errors.go maps import failures to HTTP responses.
//
// Every error is logged with the request ID and returned as JSON carrying the
// user-facing message from core.MapError plus the stable failure code.

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/importer/internal/core"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Reference) and human-readable
// (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code,omitempty"`
	Reference string `json:"reference"`
}

// statusFor returns the HTTP status for a failure code.
func statusFor(err error) int {
	switch core.ErrorCode(err) {
	case core.CodeSessionNotFound, core.CodeJobNotFound, core.CodeUnknownModule:
		return http.StatusNotFound
	case core.CodeValidationBlocked, core.CodeJobNotCancellable:
		return http.StatusConflict
	case core.CodeTooManyRows:
		return http.StatusUnprocessableEntity
	case core.CodeParse, core.CodeUnsupportedFormat:
		return http.StatusBadRequest
	case core.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.CodeBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its JSON form with the mapped status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

// respondErrorStatus is respondError with an explicit status, for request
// errors detected before reaching the core.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", core.ErrorCode(err),
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      core.ErrorCode(err),
		Reference: msg.Code,
	}
	// Request errors carry their own wording; the generic fallback would hide it.
	if resp.Code == "" && status < http.StatusInternalServerError {
		resp.Error = err.Error()
		resp.Message = err.Error()
		resp.Action = ""
	}
	writeJSON(w, status, resp)
}

package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.fail(w, r, err), which picks the status with statusFor
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is written as JSON

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/filestore"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// fail responds with the status statusFor picks for err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	s.respondError(w, r, err, status)
}

// respondError logs the technical error server-side and writes the
// user-facing message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	// Errors without a mapped message are unexpected whatever their status.
	level := logging.FromContext(r.Context()).Warn
	if statusCode >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		level = logging.FromContext(r.Context()).Error
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   err.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// badRequest reports a malformed request that never reached the service.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.respondError(w, r, &core.RequestError{Msg: msg}, http.StatusBadRequest)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrProductNotFound),
		errors.Is(err, core.ErrInventoryNotFound),
		errors.Is(err, core.ErrUploadNotFound),
		errors.Is(err, filestore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyUploads), errors.Is(err, core.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case core.IsRequestError(err), filestore.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var ie *core.InvariantError
	if errors.As(err, &ie) {
		return http.StatusConflict
	}

	switch core.CodeOf(err) {
	case core.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.CodeEmptyFile, core.CodeNoHeader, core.CodeUnsupportedFormat,
		core.CodeMappingFailed, core.CodeLowConfidence:
		return http.StatusUnprocessableEntity
	case core.CodeDuplicateFile:
		return http.StatusConflict
	case core.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

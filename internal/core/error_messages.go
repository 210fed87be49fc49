// # Error Codes Reference
//
// Errors shown to users carry a code for support reference. Coded pipeline
// errors ([JobError], [InvariantError]) use their reason code directly.
// Everything else is matched against known technical patterns:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//
//	DB002 - Check constraint: A stored value is out of range
//	        Patterns: "check constraint"
//
//	DB003 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//
//	DB004 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//
//	DB005 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock", "could not serialize"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - No file: No file was provided
//	         Patterns: "no file provided"
//
//	REQ002 - Missing supplier: Every upload belongs to one supplier
//	         Patterns: "supplier id is required"
//
//	REQ003 - System busy: Too many ingestions in progress
//	         Patterns: "too many uploads"
//
//	REQ004 - Not found: Job, product, or inventory item does not exist
//	         Patterns: "not found"
//
//	REQ005 - Request cancelled
//	         Patterns: "context canceled"
//
//	REQ006 - Request timeout
//	         Patterns: "context deadline exceeded"
//
//	REQ007 - Rate limited
//	         Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// codeMessages covers every reason code a job or adjustment can fail with.
var codeMessages = map[ReasonCode]UserMessage{
	CodeEmptyFile: {
		Message: "The file has no data rows",
		Action:  "Upload a pricelist with a header row and at least one product",
	},
	CodeNoHeader: {
		Message: "No header row was found",
		Action:  "Make sure the column headers appear within the first 20 rows",
	},
	CodeUnsupportedFormat: {
		Message: "The file format is not supported",
		Action:  "Save the pricelist as .xlsx or .csv",
	},
	CodeFileTooLarge: {
		Message: "File exceeds the maximum size limit",
		Action:  "Split the pricelist into smaller files",
	},
	CodeMappingFailed: {
		Message: "A required column could not be identified",
		Action:  "Add a clear SKU column header such as \"SKU\" or \"Item Code\"",
	},
	CodeLowConfidence: {
		Message: "The columns could not be identified",
		Action:  "Check that the header row names the product columns",
	},
	CodeDuplicateFile: {
		Message: "This file was already ingested for the supplier",
		Action:  "Resubmit with force enabled to ingest it again",
	},
	CodeNegativeStock: {
		Message: "Stock cannot go below zero",
		Action:  "Use a smaller adjustment",
	},
	CodeReservedExceedsStock: {
		Message: "Stock cannot drop below the reserved quantity",
		Action:  "Release reservations before reducing stock",
	},
	CodeStockBelowReserved: {
		Message: "Stock cannot drop below the reserved quantity",
		Action:  "Release reservations before reducing stock",
	},
	CodeSupplierIsolationViolation: {
		Message: "The record belongs to a different supplier",
		Action:  "Contact support",
	},
	CodeTimeout: {
		Message: "Ingestion timed out",
		Action:  "Committed chunks were kept. Resubmit to finish the remaining rows",
	},
	CodeCancelled: {
		Message: "Ingestion was cancelled",
		Action:  "Committed chunks were kept. Resubmit when ready",
	},
	CodeTxFailed: {
		Message: "A batch of rows could not be saved",
		Action:  "Committed chunks were kept. Please try again",
	},
	CodeInternal: {
		Message: "An unexpected error occurred",
		Action:  "Please try again or contact support",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters: the first match wins.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB005)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "check constraint",
		msg: UserMessage{
			Message: "A stored value is out of range",
			Action:  "Contact support",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "could not serialize",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ007)
	// =========================================================================
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was provided",
			Action:  "Attach a pricelist file or give a file reference",
			Code:    "REQ001",
		},
	},
	{
		pattern: "supplier id is required",
		msg: UserMessage{
			Message: "No supplier was given",
			Action:  "Every pricelist must be submitted for one supplier",
			Code:    "REQ002",
		},
	},
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "System is busy processing other pricelists",
			Action:  "Please wait a moment and try again",
			Code:    "REQ003",
		},
	},
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The requested record was not found",
			Action:  "It may have expired. Check the identifier",
			Code:    "REQ004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "REQ006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "REQ007",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Coded
// errors map by reason code; others by the first matching pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if code := CodeOf(err); code != "" {
		if msg, ok := codeMessages[code]; ok {
			msg.Code = string(code)
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

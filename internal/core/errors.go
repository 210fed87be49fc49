package core

import (
	"errors"
	"fmt"
)

// ReasonCode is a machine-readable failure or warning code.
type ReasonCode string

// Input errors fail the whole job before any write.
const (
	CodeEmptyFile         ReasonCode = "EMPTY_FILE"
	CodeNoHeader          ReasonCode = "NO_HEADER"
	CodeUnsupportedFormat ReasonCode = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      ReasonCode = "FILE_TOO_LARGE"
	CodeMappingFailed     ReasonCode = "MAPPING_FAILED"
	CodeLowConfidence     ReasonCode = "LOW_CONFIDENCE"
	CodeDuplicateFile     ReasonCode = "DUPLICATE_FILE"
)

// Row errors and warnings skip or annotate a single row.
const (
	CodeMissingSKU                 ReasonCode = "MISSING_SKU"
	CodeInvalidNumber              ReasonCode = "INVALID_NUMBER"
	CodeNegativeValue              ReasonCode = "NEGATIVE_VALUE"
	CodeCostRounded                ReasonCode = "COST_ROUNDED"
	CodeCostOutOfRange             ReasonCode = "COST_OUT_OF_RANGE"
	CodeStockBelowReserved         ReasonCode = "STOCK_BELOW_RESERVED"
	CodeSupplierIsolationViolation ReasonCode = "SUPPLIER_ISOLATION_VIOLATION"
)

// Stock invariant violations.
const (
	CodeNegativeStock        ReasonCode = "NEGATIVE_STOCK"
	CodeReservedExceedsStock ReasonCode = "RESERVED_EXCEEDS_STOCK"
)

// Job-level failures.
const (
	CodeTimeout   ReasonCode = "TIMEOUT"
	CodeCancelled ReasonCode = "CANCELLED"
	CodeTxFailed  ReasonCode = "TX_FAILED"
	CodeInternal  ReasonCode = "INTERNAL"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInventoryNotFound = errors.New("inventory item not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrQueueClosed       = errors.New("queue closed")
)

// RequestError is a malformed request rejected before any work starts.
type RequestError struct {
	Msg string
}

func (e *RequestError) Error() string { return e.Msg }

// IsRequestError reports whether err is a caller mistake rather than a
// pipeline failure.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re) || errors.Is(err, ErrInvalidAdjustment)
}

// JobError is a coded failure that terminates a job.
type JobError struct {
	Code    ReasonCode
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

func newJobError(code ReasonCode, format string, args ...any) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from err, or "" if it carries none.
func CodeOf(err error) ReasonCode {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code
	}
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// InvariantError reports a stock change that would break
// 0 <= reserved <= on hand. The previous values are never clamped.
type InvariantError struct {
	Code      ReasonCode
	Current   int64
	Requested int64
	Reserved  int64
}

func (e *InvariantError) Error() string {
	switch e.Code {
	case CodeNegativeStock:
		return fmt.Sprintf("%s: on hand would become %d (current %d)", e.Code, e.Requested, e.Current)
	default:
		return fmt.Sprintf("%s: on hand %d is below reserved %d", e.Code, e.Requested, e.Reserved)
	}
}

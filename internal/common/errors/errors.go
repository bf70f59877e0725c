// Package errors provides standardized error handling for the loan
// application queue engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Visibility / permission errors. Resolved locally by redirecting the
	// filter to the role default; never shown to the user as an error.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeUnknownCategory  ErrorCode = "UNKNOWN_SUB_ADMIN_CATEGORY"

	// Selection / batch validation errors.
	ErrCodeSelectionIneligible ErrorCode = "SELECTION_INELIGIBLE"
	ErrCodeEmptyBatch          ErrorCode = "EMPTY_BATCH"
	ErrCodeBatchNotConfirmed   ErrorCode = "BATCH_NOT_CONFIRMED"
	ErrCodeBatchInProgress     ErrorCode = "BATCH_IN_PROGRESS"
	ErrCodeStaleSelection      ErrorCode = "STALE_SELECTION"

	// Remote call errors.
	ErrCodeDisbursementFailed  ErrorCode = "DISBURSEMENT_FAILED"
	ErrCodeDisbursementTimeout ErrorCode = "DISBURSEMENT_TIMEOUT"
	ErrCodeListQueryFailed     ErrorCode = "LIST_QUERY_FAILED"
	ErrCodeStatsQueryFailed    ErrorCode = "STATS_QUERY_FAILED"
	ErrCodeStatusUpdateFailed  ErrorCode = "STATUS_UPDATE_FAILED"
	ErrCodeExportFailed        ErrorCode = "EXPORT_FAILED"
	ErrCodeSearchQueryFailed   ErrorCode = "SEARCH_QUERY_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if stderrors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// CodeOf extracts the error code, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsValidation reports whether err is a local validation failure rather
// than a remote one.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeSelectionIneligible, ErrCodeEmptyBatch, ErrCodeBatchNotConfirmed,
		ErrCodeBatchInProgress, ErrCodeStaleSelection:
		return true
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewPermissionDeniedError marks a status filter outside the role's allowed
// set. Consumers correct the filter silently; the error itself is for logs.
func NewPermissionDeniedError(status, category string) *StandardError {
	return &StandardError{
		Code:      ErrCodePermissionDenied,
		Message:   "Status not visible for this role",
		Details:   fmt.Sprintf("status: %s, category: %s", status, category),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownCategoryError marks a sub-admin category with no configured
// whitelist. Visibility fails closed.
func NewUnknownCategoryError(category string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownCategory,
		Message:   "Unknown sub-admin category, visibility restricted",
		Details:   fmt.Sprintf("category: %s", category),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSelectionIneligibleError is the warning surfaced when a non-ready row
// is toggled into the payout selection.
func NewSelectionIneligibleError(id, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSelectionIneligible,
		Message:   "Only loans with Ready for Disbursement or Repeat Ready for Disbursal status can be selected",
		Details:   fmt.Sprintf("id: %s, status: %s", id, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmptyBatchError rejects a payout run with no eligible ids.
func NewEmptyBatchError() *StandardError {
	return &StandardError{
		Code:      ErrCodeEmptyBatch,
		Message:   "No eligible applications selected for disbursement",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBatchNotConfirmedError rejects a payout run without the caller's
// confirmation gate.
func NewBatchNotConfirmedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeBatchNotConfirmed,
		Message:   "Bulk disbursement requires explicit confirmation",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBatchInProgressError rejects a re-entrant payout run.
func NewBatchInProgressError() *StandardError {
	return &StandardError{
		Code:      ErrCodeBatchInProgress,
		Message:   "A disbursement batch is already running",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleSelectionError marks a selected id that is no longer present or
// eligible after a refresh. Pruned silently but countable.
func NewStaleSelectionError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleSelection,
		Message:   "Selected application is no longer eligible",
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDisbursementFailedError wraps a failed or non-success disbursement
// call. The message is surfaced verbatim in the batch summary.
func NewDisbursementFailedError(id, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDisbursementFailed,
		Message:   message,
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDisbursementTimeoutError marks a disbursement call that exceeded its
// deadline. Treated as a remote failure variant; never retried here.
func NewDisbursementTimeoutError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDisbursementTimeout,
		Message:   "Disbursement request timed out",
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// FromDisburseError normalizes an arbitrary disbursement failure into the
// remote taxonomy, folding context deadline errors into the timeout variant.
func FromDisburseError(id string, err error) *StandardError {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewDisbursementTimeoutError(id)
	}
	return NewDisbursementFailedError(id, err.Error())
}

// NewListQueryFailedError creates a retryable listing error. Surfaced as a
// blocking error requiring retry.
func NewListQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeListQueryFailed,
		Message:   "Application listing failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatsQueryFailedError creates a retryable stats error.
func NewStatsQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStatsQueryFailed,
		Message:   "Application stats query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusUpdateFailedError wraps a failed manual status transition.
func NewStatusUpdateFailedError(id string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStatusUpdateFailed,
		Message:   "Application status update failed",
		Details:   fmt.Sprintf("id: %s, error: %s", id, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExportFailedError creates a retryable export error, kept distinct from
// the payout taxonomy so the UI can surface it separately.
func NewExportFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExportFailed,
		Message:   "Application export failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search index error.
func NewSearchQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Search index query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

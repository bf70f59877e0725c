// internal/models/application.go
package models

import "time"

// Status is the authoritative workflow state of a loan application. All
// visibility and selection rules key off this field and nothing else.
type Status string

const (
	StatusAll Status = "all" // filter pseudo-status, never stored on a row

	StatusApplied                Status = "applied"
	StatusSubmitted              Status = "submitted"
	StatusUnderReview            Status = "under_review"
	StatusFollowUp               Status = "follow_up"
	StatusDisbursal              Status = "disbursal"
	StatusReadyForDisbursement   Status = "ready_for_disbursement"
	StatusRepeatDisbursal        Status = "repeat_disbursal"
	StatusReadyToRepeatDisbursal Status = "ready_to_repeat_disbursal"
	StatusAccountManager         Status = "account_manager"
	StatusOverdue                Status = "overdue"
	StatusCleared                Status = "cleared"
	StatusRejected               Status = "rejected"
	StatusPendingDocuments       Status = "pending_documents"
)

// AllStatuses lists every storable status, in workflow order.
var AllStatuses = []Status{
	StatusApplied,
	StatusSubmitted,
	StatusUnderReview,
	StatusFollowUp,
	StatusDisbursal,
	StatusReadyForDisbursement,
	StatusRepeatDisbursal,
	StatusReadyToRepeatDisbursal,
	StatusAccountManager,
	StatusOverdue,
	StatusCleared,
	StatusRejected,
	StatusPendingDocuments,
}

// Valid reports whether s is a storable application status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// DisbursementEligible reports whether a row in this status may enter the
// bulk payout selection.
func (s Status) DisbursementEligible() bool {
	return s == StatusReadyForDisbursement || s == StatusReadyToRepeatDisbursal
}

// ExtensionStatus tracks a repayment-extension request. Orthogonal to Status:
// a pending extension is a display overlay and never affects payout
// eligibility.
type ExtensionStatus string

const (
	ExtensionNone     ExtensionStatus = "none"
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// AssignmentType says how the application is assigned to the viewing
// sub-admin. Informational only; temp means the sub-admin covers for a
// colleague on leave.
type AssignmentType string

const (
	AssignmentPrimary AssignmentType = "primary"
	AssignmentTemp    AssignmentType = "temp"
	AssignmentNone    AssignmentType = ""
)

// LoanApplication is one admin-queue row.
type LoanApplication struct {
	ID                string          `json:"id"`
	ApplicationNumber string          `json:"applicationNumber"`
	Status            Status          `json:"status"`
	LoanAmountPaise   int64           `json:"loanAmountPaise"`
	ApplicantName     string          `json:"applicantName"`
	Mobile            string          `json:"mobile"`
	Email             string          `json:"email"`
	ExtensionStatus   ExtensionStatus `json:"extensionStatus"`
	AssignmentType    AssignmentType  `json:"assignmentType,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Pagination is the listing envelope's page block.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalRows  int `json:"totalRows"`
	TotalPages int `json:"totalPages"`
}

// Stats carries the per-status counters rendered as tab badges.
type Stats struct {
	CountsByStatus map[Status]int `json:"countsByStatus"`
	Total          int            `json:"total"`
}

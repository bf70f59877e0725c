// internal/models/role.go
package models

// Role is the coarse staff role carried by the admin session.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleSubAdmin  Role = "sub_admin"
	RoleNBFCAdmin Role = "nbfc_admin"
)

// SubAdminCategory is the fine-grained staff role that carries its own
// status-visibility whitelist.
type SubAdminCategory string

const (
	CategoryNone            SubAdminCategory = ""
	CategoryVerifyUser      SubAdminCategory = "verify_user"
	CategoryQAUser          SubAdminCategory = "qa_user"
	CategoryAccountManager  SubAdminCategory = "account_manager"
	CategoryRecoveryOfficer SubAdminCategory = "recovery_officer"
	CategoryDebtAgency      SubAdminCategory = "debt_agency"
	CategoryFollowUpUser    SubAdminCategory = "follow_up_user"
)

// RoleContext identifies the acting staff member for one admin session. It
// is resolved by the auth layer before the queue engine is constructed and
// never mutated here.
type RoleContext struct {
	Role             Role             `json:"role"`
	SubAdminCategory SubAdminCategory `json:"subAdminCategory,omitempty"`
	AdminID          string           `json:"adminId"`
}

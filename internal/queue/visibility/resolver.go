// internal/queue/visibility/resolver.go

// Package visibility maps an admin session's role and sub-admin category to
// the set of application statuses it may see. Unknown categories fail
// closed: an empty whitelist, never unrestricted access.
package visibility

import (
	"lending-queue/internal/models"
)

// Resolution is the computed visibility for one RoleContext.
type Resolution struct {
	// Allowed is the status whitelist. nil means unrestricted (every status
	// visible); an empty non-nil slice means nothing is visible.
	Allowed []models.Status

	// Default is the filter a consumer falls back to when its current
	// filter is outside Allowed.
	Default models.Status
}

// categoryWhitelist is the per-category status whitelist. Order matters:
// the first entry is the fallback default when "all" is not permitted.
var categoryWhitelist = map[models.SubAdminCategory][]models.Status{
	models.CategoryVerifyUser: {
		models.StatusAll,
		models.StatusSubmitted,
		models.StatusUnderReview,
		models.StatusFollowUp,
		models.StatusDisbursal,
		models.StatusReadyForDisbursement,
	},
	models.CategoryQAUser: {
		models.StatusAll,
		models.StatusDisbursal,
		models.StatusReadyForDisbursement,
	},
	models.CategoryAccountManager: {
		models.StatusAll,
		models.StatusRepeatDisbursal,
		models.StatusReadyToRepeatDisbursal,
	},
	models.CategoryRecoveryOfficer: {
		models.StatusAll,
		models.StatusOverdue,
	},
	models.CategoryDebtAgency: {
		models.StatusAll,
		models.StatusOverdue,
	},
	models.CategoryFollowUpUser: {
		models.StatusSubmitted,
		models.StatusFollowUp,
	},
}

// nbfcWhitelist applies to the nbfc_admin role regardless of category.
var nbfcWhitelist = []models.Status{
	models.StatusOverdue,
	models.StatusReadyForDisbursement,
	models.StatusReadyToRepeatDisbursal,
}

// Resolve computes the status visibility for rc.
func Resolve(rc models.RoleContext) Resolution {
	if rc.Role == models.RoleNBFCAdmin {
		return resolutionFor(nbfcWhitelist)
	}

	if rc.SubAdminCategory == models.CategoryNone {
		// Staff roles without a category see everything.
		return Resolution{Allowed: nil, Default: models.StatusAll}
	}

	allowed, ok := categoryWhitelist[rc.SubAdminCategory]
	if !ok {
		// Fail closed, not open.
		return Resolution{Allowed: []models.Status{}, Default: models.StatusAll}
	}
	return resolutionFor(allowed)
}

func resolutionFor(allowed []models.Status) Resolution {
	out := make([]models.Status, len(allowed))
	copy(out, allowed)

	def := models.StatusAll
	if !contains(out, models.StatusAll) && len(out) > 0 {
		def = out[0]
	}
	return Resolution{Allowed: out, Default: def}
}

// NothingVisible reports whether r hides every status. True only for the
// fail-closed case (empty non-nil whitelist); consumers must render an empty
// page without querying.
func (r Resolution) NothingVisible() bool {
	return r.Allowed != nil && len(r.Allowed) == 0
}

// Permits reports whether status is visible under r.
func (r Resolution) Permits(status models.Status) bool {
	if r.Allowed == nil {
		return true
	}
	return contains(r.Allowed, status)
}

// EffectiveFilter applies the correction rule: a pinned status wins when it
// is itself permitted; otherwise an impermissible current filter is reset to
// the role default.
func (r Resolution) EffectiveFilter(current, pinned models.Status) models.Status {
	if pinned != "" && r.Permits(pinned) {
		return pinned
	}
	if current != "" && r.Permits(current) {
		return current
	}
	return r.Default
}

func contains(statuses []models.Status, s models.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// internal/queue/selection/manager.go

// Package selection tracks which queue rows are checked for bulk payout.
// Only rows in a ready-for-disbursement status may enter the set; ids carry
// across pagination and are pruned against fresh fetches, never dereferenced
// blindly.
package selection

import (
	"sort"
	"sync"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/models"
)

// ToggleResult reports what a Toggle call did. Warning is a transient
// user-facing outcome, not a hard failure: an ineligible row leaves the
// selection untouched.
type ToggleResult struct {
	Selected bool
	Changed  bool
	Warning  *errors.StandardError
}

// Manager owns one session's selection set.
type Manager struct {
	mu       sync.Mutex
	selected map[string]struct{}
	log      logger.Logger
	onChange func(ids []string)
}

// NewManager creates an empty selection. onChange, if non-nil, fires after
// every mutation with the new sorted id list; it runs under the manager's
// lock, so listeners must not call back in.
func NewManager(log logger.Logger, onChange func(ids []string)) *Manager {
	return &Manager{
		selected: make(map[string]struct{}),
		log:      log,
		onChange: onChange,
	}
}

// Toggle flips membership for id. status is the row's last-known status; an
// ineligible status makes the call a warning no-op.
func (m *Manager) Toggle(id string, status models.Status) ToggleResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, already := m.selected[id]; !already && !status.DisbursementEligible() {
		m.log.Warn("ineligible row rejected from payout selection", map[string]interface{}{
			"id":     id,
			"status": status,
		})
		return ToggleResult{Warning: errors.NewSelectionIneligibleError(id, string(status))}
	}

	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
		m.notifyLocked()
		return ToggleResult{Selected: false, Changed: true}
	}

	m.selected[id] = struct{}{}
	m.notifyLocked()
	return ToggleResult{Selected: true, Changed: true}
}

// SelectAllEligible toggles the eligible rows of the current page as one
// unit: if every eligible id is already selected the exact set is removed,
// otherwise it is unioned in. Ids from other pages are never touched.
func (m *Manager) SelectAllEligible(pageRows []models.LoanApplication) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]string, 0, len(pageRows))
	for _, row := range pageRows {
		if row.Status.DisbursementEligible() {
			eligible = append(eligible, row.ID)
		}
	}
	if len(eligible) == 0 {
		return
	}

	allSelected := true
	for _, id := range eligible {
		if _, ok := m.selected[id]; !ok {
			allSelected = false
			break
		}
	}

	if allSelected {
		for _, id := range eligible {
			delete(m.selected, id)
		}
	} else {
		for _, id := range eligible {
			m.selected[id] = struct{}{}
		}
	}
	m.notifyLocked()
}

// Clear empties the set unconditionally.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.selected) == 0 {
		return
	}
	m.selected = make(map[string]struct{})
	m.notifyLocked()
}

// Prune reconciles the selection with a fresh fetch: any selected id that
// appears in rows with an ineligible status is dropped. When complete is
// true, rows is the entire result set and ids absent from it are dropped
// too. Returns the number of pruned ids.
func (m *Manager) Prune(rows []models.LoanApplication, complete bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	statusByID := make(map[string]models.Status, len(rows))
	for _, row := range rows {
		statusByID[row.ID] = row.Status
	}

	pruned := 0
	for id := range m.selected {
		status, present := statusByID[id]
		switch {
		case present && !status.DisbursementEligible():
			delete(m.selected, id)
			pruned++
		case !present && complete:
			delete(m.selected, id)
			pruned++
		}
	}

	if pruned > 0 {
		m.log.Info("pruned stale ids from payout selection", map[string]interface{}{
			"pruned":    pruned,
			"remaining": len(m.selected),
		})
		m.notifyLocked()
	}
	return pruned
}

// Selected returns the current ids in sorted order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Contains reports membership for id.
func (m *Manager) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selected[id]
	return ok
}

// Count returns the selection size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.selected)
}

func (m *Manager) snapshotLocked() []string {
	ids := make([]string, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) notifyLocked() {
	if m.onChange != nil {
		m.onChange(m.snapshotLocked())
	}
}

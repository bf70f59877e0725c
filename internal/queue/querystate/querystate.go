// internal/queue/querystate/querystate.go

// Package querystate holds the filter/sort/pagination parameters behind the
// application listing. States are immutable values: every setter returns the
// next state and leaves the receiver untouched.
package querystate

import (
	"lending-queue/internal/models"
)

// SortOrder is the listing sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryState is one admin session's listing parameters.
type QueryState struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
	StatusFilter models.Status `json:"statusFilter"`
	SearchTerm   string        `json:"searchTerm"`
	SortField    string        `json:"sortField"`
	SortOrder    SortOrder     `json:"sortOrder"`
}

// New returns the mount-time defaults for a session whose role resolves to
// defaultStatus.
func New(defaultStatus models.Status, pageSize int) QueryState {
	return QueryState{
		Page:         1,
		PageSize:     pageSize,
		StatusFilter: defaultStatus,
		SortField:    "created_at",
		SortOrder:    SortDesc,
	}
}

// WithStatus changes the status filter. The page resets to 1 so a narrower
// filter never leaves the user on a page that no longer exists.
func (s QueryState) WithStatus(status models.Status) QueryState {
	s.StatusFilter = status
	s.Page = 1
	return s
}

// WithSearch commits a search term. Callers debounce keystrokes before
// calling this; see Debouncer.
func (s QueryState) WithSearch(term string) QueryState {
	s.SearchTerm = term
	s.Page = 1
	return s
}

// WithSort sorts by field. Re-sorting by the current field toggles the
// direction; a new field always starts ascending and never inherits the
// previous field's direction.
func (s QueryState) WithSort(field string) QueryState {
	if field == s.SortField {
		if s.SortOrder == SortAsc {
			s.SortOrder = SortDesc
		} else {
			s.SortOrder = SortAsc
		}
	} else {
		s.SortField = field
		s.SortOrder = SortAsc
	}
	s.Page = 1
	return s
}

// WithPage moves to page. The only setter that keeps the rest of the state.
func (s QueryState) WithPage(page int) QueryState {
	if page < 1 {
		page = 1
	}
	s.Page = page
	return s
}

// WithPageSize changes the page size and resets to page 1.
func (s QueryState) WithPageSize(size int) QueryState {
	if size < 1 {
		size = 1
	}
	s.PageSize = size
	s.Page = 1
	return s
}

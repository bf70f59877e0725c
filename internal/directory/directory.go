// internal/directory/directory.go

// Package directory is the application directory behind the admin queue:
// listing, status transitions, single-application disbursement, export and
// stats. Two backends exist, one speaking the admin REST API and one going
// straight to the lending database with an optional Elasticsearch index for
// free-text search.
package directory

import (
	"context"

	"lending-queue/internal/models"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
)

// ListResult is the listing envelope rendered by the queue page.
type ListResult struct {
	Applications []models.LoanApplication `json:"applications"`
	Pagination   models.Pagination        `json:"pagination"`
}

// Directory is the contract the queue engine consumes.
type Directory interface {
	// List returns one page of applications for query.
	List(ctx context.Context, query querystate.QueryState) (*ListResult, error)

	// UpdateStatus performs a manual single-application transition.
	UpdateStatus(ctx context.Context, id string, status models.Status) error

	// Disburse triggers the payout for one application. The remote service
	// is the system of record; no local transaction wraps it.
	Disburse(ctx context.Context, id string) (payout.Receipt, error)

	// Export renders the filtered set as a CSV document.
	Export(ctx context.Context, status models.Status) ([]byte, error)

	// Stats returns the per-status counters for the tab badges.
	Stats(ctx context.Context) (*models.Stats, error)
}

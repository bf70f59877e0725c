// internal/queue/session/session.go

// Package session wires one admin session's queue state together: the
// visibility resolution, the query state, the selection and the payout
// orchestrator, fronted by an application directory. The rendering layer
// drives it through methods and subscribes to its hooks; no view state
// lives in here.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"lending-queue/internal/common/config"
	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/common/metrics"
	"lending-queue/internal/common/observability"
	"lending-queue/internal/directory"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/export"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
	"lending-queue/internal/queue/selection"
	"lending-queue/internal/queue/visibility"
)

// StatsInvalidator is implemented by directory decorators whose counters go
// stale after a payout batch.
type StatsInvalidator interface {
	Invalidate(ctx context.Context)
}

// Hooks are the session's outbound events. Any field may be nil.
type Hooks struct {
	// OnQueryChanged fires after every committed query mutation, before
	// the re-fetch it triggers.
	OnQueryChanged func(query querystate.QueryState)

	// OnSelectionChanged fires with the sorted selected ids after every
	// selection mutation.
	OnSelectionChanged func(ids []string)

	// OnApplications delivers a fresh page. Stale responses are dropped
	// before this fires.
	OnApplications func(result *directory.ListResult)

	// Payout carries the per-item progress callbacks into the
	// orchestrator unchanged.
	Payout payout.Callbacks
}

// Session is one admin session over the loan application queue.
type Session struct {
	role        models.RoleContext
	resolution  visibility.Resolution
	pinned      models.Status
	maxPageSize int

	dir      directory.Directory
	exporter *export.Dispatcher
	stats    StatsInvalidator // optional

	orchestrator *payout.Orchestrator
	sel          *selection.Manager
	debouncer    *querystate.Debouncer
	hooks        Hooks
	log          logger.Logger

	// fetchSeq orders list requests so a stale response never overwrites
	// a newer one.
	fetchSeq atomic.Uint64

	mu          sync.Mutex
	query       querystate.QueryState
	pageRows    []models.LoanApplication
	lastResult  *directory.ListResult
	lastStatus  map[string]models.Status
	pendingTerm string
	searchArmed bool
}

// Options configure a session beyond its role.
type Options struct {
	// Pinned forces a fixed status filter, e.g. the Overdue page. It wins
	// over the role default only while the role may see it.
	Pinned models.Status

	// Stats, when set, is invalidated after every payout batch.
	Stats StatsInvalidator

	// Obs, when set, records per-disbursement counters and durations
	// through the otel pipeline.
	Obs *observability.Observability
}

// New builds a session for rc. The initial filter is the role's corrected
// default.
func New(cfg config.QueueConfig, rc models.RoleContext, dir directory.Directory, log logger.Logger, hooks Hooks, opts Options) *Session {
	resolution := visibility.Resolve(rc)

	s := &Session{
		role:        rc,
		resolution:  resolution,
		pinned:      opts.Pinned,
		maxPageSize: cfg.MaxPageSize,
		dir:         dir,
		exporter:    export.NewDispatcher(dir, log),
		stats:       opts.Stats,
		hooks:       hooks,
		log: log.WithFields(map[string]interface{}{
			"adminId": rc.AdminID,
			"role":    rc.Role,
		}),
		lastStatus: make(map[string]models.Status),
	}

	s.sel = selection.NewManager(log, hooks.OnSelectionChanged)
	s.orchestrator = payout.New(
		cfg.PayoutPacingDuration(),
		cfg.DisburseTimeoutDuration(),
		s.sel,
		log,
		opts.Obs,
	)
	s.debouncer = querystate.NewDebouncer(cfg.SearchDebounceDuration(), s.commitSearch)
	s.query = querystate.New(resolution.EffectiveFilter("", opts.Pinned), cfg.DefaultPageSize)

	if resolution.NothingVisible() {
		s.log.Warn("role resolves to an empty status whitelist, hiding all applications", map[string]interface{}{
			"category": rc.SubAdminCategory,
		})
	}
	return s
}

// Resolution exposes the computed visibility for tab rendering.
func (s *Session) Resolution() visibility.Resolution {
	return s.resolution
}

// Query returns the current committed query state.
func (s *Session) Query() querystate.QueryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// SetStatusFilter changes the status tab. Filters outside the role's
// allowed set are corrected silently to the role default, per the
// fail-closed policy.
func (s *Session) SetStatusFilter(ctx context.Context, status models.Status) error {
	effective := s.resolution.EffectiveFilter(status, s.pinned)
	if effective != status {
		s.log.Warn("status filter corrected", map[string]interface{}{
			"requested": status,
			"effective": effective,
		})
	}

	s.mu.Lock()
	s.query = s.query.WithStatus(effective)
	next := s.query
	s.mu.Unlock()

	s.queryChanged(next)
	return s.Refresh(ctx)
}

// SearchInput records a keystroke. The term commits (and triggers a fetch)
// only after the configured quiet period; each keystroke restarts it.
func (s *Session) SearchInput(term string) {
	s.mu.Lock()
	s.pendingTerm = term
	s.searchArmed = true
	s.mu.Unlock()

	s.debouncer.Schedule(term)
}

// SearchPending reports the uncommitted term, for an in-progress indicator.
func (s *Session) SearchPending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingTerm, s.searchArmed
}

func (s *Session) commitSearch(term string) {
	s.mu.Lock()
	s.query = s.query.WithSearch(term)
	s.pendingTerm = ""
	s.searchArmed = false
	next := s.query
	s.mu.Unlock()

	s.queryChanged(next)
	if err := s.Refresh(context.Background()); err != nil {
		s.log.WithError(err).Error("refresh after search commit failed", nil)
	}
}

// Sort re-sorts by field with the toggle semantics of the query state.
func (s *Session) Sort(ctx context.Context, field string) error {
	s.mu.Lock()
	s.query = s.query.WithSort(field)
	next := s.query
	s.mu.Unlock()

	s.queryChanged(next)
	return s.Refresh(ctx)
}

// SetPage moves to page.
func (s *Session) SetPage(ctx context.Context, page int) error {
	s.mu.Lock()
	s.query = s.query.WithPage(page)
	next := s.query
	s.mu.Unlock()

	s.queryChanged(next)
	return s.Refresh(ctx)
}

// SetPageSize changes the page size, clamped to the configured maximum.
func (s *Session) SetPageSize(ctx context.Context, size int) error {
	if s.maxPageSize > 0 && size > s.maxPageSize {
		size = s.maxPageSize
	}

	s.mu.Lock()
	s.query = s.query.WithPageSize(size)
	next := s.query
	s.mu.Unlock()

	s.queryChanged(next)
	return s.Refresh(ctx)
}

// Refresh fetches the current page. A response that arrives after a newer
// request started is discarded, never applied.
func (s *Session) Refresh(ctx context.Context) error {
	seq := s.fetchSeq.Add(1)
	requestID := uuid.NewString()

	s.mu.Lock()
	query := s.query
	s.mu.Unlock()

	var result *directory.ListResult
	if s.resolution.NothingVisible() {
		// Fail closed: an empty whitelist never reaches the directory.
		result = &directory.ListResult{
			Applications: []models.LoanApplication{},
			Pagination:   models.Pagination{Page: query.Page, PageSize: query.PageSize},
		}
	} else {
		var err error
		result, err = s.dir.List(ctx, query)
		if err != nil {
			return err
		}
	}

	if s.fetchSeq.Load() != seq {
		metrics.StaleResponsesDropped.Inc()
		s.log.Debug("stale list response dropped", map[string]interface{}{
			"requestId": requestID,
			"seq":       seq,
		})
		return nil
	}

	s.mu.Lock()
	s.pageRows = result.Applications
	s.lastResult = result
	for _, app := range result.Applications {
		s.lastStatus[app.ID] = app.Status
	}
	s.mu.Unlock()

	if pruned := s.sel.Prune(result.Applications, false); pruned > 0 {
		metrics.SelectionPruned.Add(float64(pruned))
	}

	if s.hooks.OnApplications != nil {
		s.hooks.OnApplications(result)
	}
	return nil
}

// Page returns the most recent list result, or nil before the first
// successful refresh.
func (s *Session) Page() *directory.ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Toggle flips the payout selection for a row on the current page.
func (s *Session) Toggle(id string) selection.ToggleResult {
	s.mu.Lock()
	status, known := s.lastStatus[id]
	s.mu.Unlock()

	if !known {
		return selection.ToggleResult{Warning: errors.NewStaleSelectionError(id)}
	}
	return s.sel.Toggle(id, status)
}

// SelectAllEligible toggles every eligible row on the current page.
func (s *Session) SelectAllEligible() {
	s.mu.Lock()
	rows := make([]models.LoanApplication, len(s.pageRows))
	copy(rows, s.pageRows)
	s.mu.Unlock()

	s.sel.SelectAllEligible(rows)
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection() {
	s.sel.Clear()
}

// Selection returns the selected ids, sorted.
func (s *Session) Selection() []string {
	return s.sel.Selected()
}

// BatchActive reports whether a payout batch is running; the UI uses it to
// disable the trigger.
func (s *Session) BatchActive() bool {
	return s.orchestrator.Active()
}

// RunPayout executes the bulk disbursement over the current selection.
// confirmed must carry the user's explicit confirmation. After the batch —
// whatever its outcome — the stats cache is invalidated and one refresh is
// issued.
func (s *Session) RunPayout(ctx context.Context, confirmed bool) (payout.BatchResult, error) {
	ids := s.sel.Selected()

	s.mu.Lock()
	latest := make(map[string]models.Status, len(ids))
	for _, id := range ids {
		latest[id] = s.lastStatus[id]
	}
	s.mu.Unlock()

	result, err := s.orchestrator.Run(ctx, payout.Request{
		IDs:          ids,
		LatestStatus: latest,
		Confirmed:    confirmed,
	}, s.dir.Disburse, s.hooks.Payout)
	if err != nil {
		return payout.BatchResult{}, err
	}

	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		s.log.WithError(refreshErr).Error("refresh after payout batch failed", nil)
	}
	return result, nil
}

// Export renders the current status filter's rows as a file. It never
// touches the selection or the query state.
func (s *Session) Export(ctx context.Context) (*export.File, error) {
	s.mu.Lock()
	status := s.query.StatusFilter
	s.mu.Unlock()

	return s.exporter.RequestExport(ctx, status)
}

// UpdateStatus moves one application to status, then refreshes the page and
// invalidates the cached counters.
func (s *Session) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if err := s.dir.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
	return s.Refresh(ctx)
}

// Stats fetches the tab-badge counters.
func (s *Session) Stats(ctx context.Context) (*models.Stats, error) {
	return s.dir.Stats(ctx)
}

func (s *Session) queryChanged(next querystate.QueryState) {
	if s.hooks.OnQueryChanged != nil {
		s.hooks.OnQueryChanged(next)
	}
}

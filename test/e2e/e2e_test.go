// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-queue/internal/api"
	"lending-queue/internal/common/config"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/directory"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
	"lending-queue/internal/queue/session"
)

// memoryDirectory is a fully in-memory application directory. It applies
// real filter, sort and pagination semantics so the flow under test matches
// a live backend.
type memoryDirectory struct {
	mu   sync.Mutex
	apps map[string]*models.LoanApplication

	disburseCalls []time.Time
}

func newMemoryDirectory(apps ...models.LoanApplication) *memoryDirectory {
	d := &memoryDirectory{apps: make(map[string]*models.LoanApplication)}
	for i := range apps {
		app := apps[i]
		d.apps[app.ID] = &app
	}
	return d
}

func (d *memoryDirectory) List(_ context.Context, query querystate.QueryState) (*directory.ListResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rows []models.LoanApplication
	for _, app := range d.apps {
		if query.StatusFilter != "" && query.StatusFilter != models.StatusAll && app.Status != query.StatusFilter {
			continue
		}
		rows = append(rows, *app)
	}
	sort.Slice(rows, func(i, j int) bool {
		if query.SortOrder == querystate.SortDesc {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].ID < rows[j].ID
	})

	total := len(rows)
	start := (query.Page - 1) * query.PageSize
	if start > total {
		start = total
	}
	end := start + query.PageSize
	if end > total {
		end = total
	}

	totalPages := (total + query.PageSize - 1) / query.PageSize
	return &directory.ListResult{
		Applications: rows[start:end],
		Pagination: models.Pagination{
			Page: query.Page, PageSize: query.PageSize,
			TotalRows: total, TotalPages: totalPages,
		},
	}, nil
}

func (d *memoryDirectory) UpdateStatus(_ context.Context, id string, status models.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	app, ok := d.apps[id]
	if !ok {
		return fmt.Errorf("application %s not found", id)
	}
	app.Status = status
	return nil
}

func (d *memoryDirectory) Disburse(_ context.Context, id string) (payout.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disburseCalls = append(d.disburseCalls, time.Now())
	app, ok := d.apps[id]
	if !ok || !app.Status.DisbursementEligible() {
		return payout.Receipt{}, fmt.Errorf("application is not ready for disbursement")
	}
	if app.Status == models.StatusReadyForDisbursement {
		app.Status = models.StatusDisbursal
	} else {
		app.Status = models.StatusRepeatDisbursal
	}
	return payout.Receipt{TransferID: "TXN-" + id}, nil
}

func (d *memoryDirectory) Export(_ context.Context, status models.Status) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	buf.WriteString("id,status\n")
	for _, app := range d.apps {
		if status != "" && status != models.StatusAll && app.Status != status {
			continue
		}
		fmt.Fprintf(&buf, "%s,%s\n", app.ID, app.Status)
	}
	return buf.Bytes(), nil
}

func (d *memoryDirectory) Stats(_ context.Context) (*models.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := &models.Stats{CountsByStatus: make(map[models.Status]int)}
	for _, app := range d.apps {
		stats.CountsByStatus[app.Status]++
		stats.Total++
	}
	return stats, nil
}

func (d *memoryDirectory) status(id string) models.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apps[id].Status
}

type harness struct {
	t      *testing.T
	server *httptest.Server
}

func newHarness(t *testing.T, dir directory.Directory, rc models.RoleContext) *harness {
	t.Helper()

	cfg := config.QueueConfig{
		PayoutPacing:    10,
		DisburseTimeout: 2000,
		SearchDebounce:  20,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
	log := logger.NewTestLogger(t)
	sess := session.New(cfg, rc, dir, log, session.Hooks{}, session.Options{})
	require.NoError(t, sess.Refresh(context.Background()))

	mux := http.NewServeMux()
	api.NewServer(sess, log).Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{t: t, server: srv}
}

func (h *harness) do(method, path string, body interface{}) (int, map[string]interface{}) {
	h.t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &reqBody)
	require.NoError(h.t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var envelope map[string]interface{}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func data(envelope map[string]interface{}) map[string]interface{} {
	d, _ := envelope["data"].(map[string]interface{})
	return d
}

func seedApplications() []models.LoanApplication {
	return []models.LoanApplication{
		{ID: "app-01", ApplicationNumber: "LN-1001", Status: models.StatusReadyForDisbursement, ApplicantName: "Ravi Kumar", LoanAmountPaise: 2500000},
		{ID: "app-02", ApplicationNumber: "LN-1002", Status: models.StatusReadyForDisbursement, ApplicantName: "Meena Joshi", LoanAmountPaise: 1500000},
		{ID: "app-03", ApplicationNumber: "LN-1003", Status: models.StatusReadyToRepeatDisbursal, ApplicantName: "Arjun Nair", LoanAmountPaise: 5000000},
		{ID: "app-04", ApplicationNumber: "LN-1004", Status: models.StatusUnderReview, ApplicantName: "Sara Ali", LoanAmountPaise: 1000000},
		{ID: "app-05", ApplicationNumber: "LN-1005", Status: models.StatusOverdue, ApplicantName: "Vikram Shah", LoanAmountPaise: 3000000},
	}
}

func TestE2E_DisbursementFlow(t *testing.T) {
	dir := newMemoryDirectory(seedApplications()...)
	h := newHarness(t, dir, models.RoleContext{Role: models.RoleAdmin, AdminID: "adm-1"})

	// Filter down to the disbursement tab.
	code, envelope := h.do(http.MethodGet, "/api/applications?status=ready_for_disbursement", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data(envelope)["applications"], 2)

	// Select everything eligible on the page.
	code, envelope = h.do(http.MethodPost, "/api/selection/select-all", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data(envelope)["selected"], 2)

	// An unconfirmed payout must not reach the rail.
	code, _ = h.do(http.MethodPost, "/api/payout", map[string]interface{}{"confirmed": false})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Empty(t, dir.disburseCalls)

	// Confirmed payout disburses both and clears the selection.
	code, envelope = h.do(http.MethodPost, "/api/payout", map[string]interface{}{"confirmed": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", envelope["message"])
	assert.Len(t, data(envelope)["success"], 2)

	assert.Equal(t, models.StatusDisbursal, dir.status("app-01"))
	assert.Equal(t, models.StatusDisbursal, dir.status("app-02"))

	code, envelope = h.do(http.MethodGet, "/api/selection", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, data(envelope)["selected"])

	// Calls to the rail are paced sequentially, never bursty.
	require.Len(t, dir.disburseCalls, 2)
	gap := dir.disburseCalls[1].Sub(dir.disburseCalls[0])
	assert.GreaterOrEqual(t, gap, 10*time.Millisecond)
}

func TestE2E_RepeatDisbursalTransition(t *testing.T) {
	dir := newMemoryDirectory(seedApplications()...)
	h := newHarness(t, dir, models.RoleContext{Role: models.RoleAdmin, AdminID: "adm-1"})

	code, _ := h.do(http.MethodGet, "/api/applications?status=ready_to_repeat_disbursal", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(http.MethodPost, "/api/selection/toggle", map[string]interface{}{"id": "app-03"})
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(http.MethodPost, "/api/payout", map[string]interface{}{"confirmed": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusRepeatDisbursal, dir.status("app-03"))
}

func TestE2E_IneligibleRowNeverSelected(t *testing.T) {
	dir := newMemoryDirectory(seedApplications()...)
	h := newHarness(t, dir, models.RoleContext{Role: models.RoleAdmin, AdminID: "adm-1"})

	code, envelope := h.do(http.MethodPost, "/api/selection/toggle", map[string]interface{}{"id": "app-04"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(envelope)["selected"])
	assert.NotEmpty(t, data(envelope)["warning"])

	code, _ = h.do(http.MethodPost, "/api/payout", map[string]interface{}{"confirmed": true})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, models.StatusUnderReview, dir.status("app-04"))
}

func TestE2E_RestrictedRoleFilterCorrection(t *testing.T) {
	dir := newMemoryDirectory(seedApplications()...)
	h := newHarness(t, dir, models.RoleContext{
		Role:             models.RoleSubAdmin,
		SubAdminCategory: models.CategoryRecoveryOfficer,
		AdminID:          "adm-2",
	})

	// A recovery officer asking for the disbursement tab lands on their
	// allowed default instead.
	code, envelope := h.do(http.MethodGet, "/api/applications?status=ready_for_disbursement", nil)
	require.Equal(t, http.StatusOK, code)
	query := data(envelope)["query"].(map[string]interface{})
	assert.Equal(t, "all", query["statusFilter"])
}

func TestE2E_StatusUpdateAndStats(t *testing.T) {
	dir := newMemoryDirectory(seedApplications()...)
	h := newHarness(t, dir, models.RoleContext{Role: models.RoleAdmin, AdminID: "adm-1"})

	code, _ := h.do(http.MethodPatch, "/api/applications/app-04/status", map[string]interface{}{"status": "follow_up"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusFollowUp, dir.status("app-04"))

	code, envelope := h.do(http.MethodGet, "/api/applications/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(5), data(envelope)["total"])
	counts := data(envelope)["countsByStatus"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["follow_up"])
}

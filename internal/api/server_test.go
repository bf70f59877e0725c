// internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-queue/internal/common/config"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/directory"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
	"lending-queue/internal/queue/session"
)

type stubDirectory struct {
	mu        sync.Mutex
	rows      []models.LoanApplication
	disbursed []string
	updates   map[string]models.Status
}

func (f *stubDirectory) List(_ context.Context, query querystate.QueryState) (*directory.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]models.LoanApplication, len(f.rows))
	copy(rows, f.rows)
	return &directory.ListResult{
		Applications: rows,
		Pagination:   models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalRows: len(rows), TotalPages: 1},
	}, nil
}

func (f *stubDirectory) UpdateStatus(_ context.Context, id string, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]models.Status)
	}
	f.updates[id] = status
	return nil
}

func (f *stubDirectory) Disburse(_ context.Context, id string) (payout.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disbursed = append(f.disbursed, id)
	return payout.Receipt{TransferID: "TXN-" + id}, nil
}

func (f *stubDirectory) Export(context.Context, models.Status) ([]byte, error) {
	return []byte("id,status\n"), nil
}

func (f *stubDirectory) Stats(context.Context) (*models.Stats, error) {
	return &models.Stats{
		CountsByStatus: map[models.Status]int{models.StatusReadyForDisbursement: 2},
		Total:          2,
	}, nil
}

func newTestServer(t *testing.T, dir *stubDirectory) (*Server, *session.Session) {
	t.Helper()
	cfg := config.QueueConfig{
		PayoutPacing:    1,
		DisburseTimeout: 1000,
		SearchDebounce:  20,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
	sess := session.New(cfg, models.RoleContext{Role: models.RoleAdmin, AdminID: "adm-1"},
		dir, logger.NewTestLogger(t), session.Hooks{}, session.Options{})
	return NewServer(sess, logger.NewTestLogger(t)), sess
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	srv.Routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, string, map[string]interface{}) {
	t.Helper()
	var body struct {
		Success bool                   `json:"success"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Success, body.Message, body.Data
}

func TestHandleList_ReturnsPageAndQuery(t *testing.T) {
	dir := &stubDirectory{rows: []models.LoanApplication{
		{ID: "a1", Status: models.StatusReadyForDisbursement},
	}}
	srv, _ := newTestServer(t, dir)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/applications?status=ready_for_disbursement", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, _, data := decodeEnvelope(t, rec)
	assert.True(t, ok)
	apps := data["applications"].([]interface{})
	require.Len(t, apps, 1)
	query := data["query"].(map[string]interface{})
	assert.Equal(t, "ready_for_disbursement", query["statusFilter"])
	assert.Equal(t, float64(1), query["page"])
}

func TestHandleList_BadPageRejected(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/applications?page=two", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleToggle_WarningSurfacedInEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/selection/toggle",
		bytes.NewBufferString(`{"id":"ghost"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, _, data := decodeEnvelope(t, rec)
	assert.True(t, ok)
	assert.Equal(t, false, data["selected"])
	assert.NotEmpty(t, data["warning"])
}

func TestHandleToggle_SelectsEligibleRow(t *testing.T) {
	dir := &stubDirectory{rows: []models.LoanApplication{
		{ID: "a1", Status: models.StatusReadyForDisbursement},
	}}
	srv, sess := newTestServer(t, dir)
	require.NoError(t, sess.Refresh(context.Background()))

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/selection/toggle",
		bytes.NewBufferString(`{"id":"a1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	_, _, data := decodeEnvelope(t, rec)
	assert.Equal(t, true, data["selected"])
	assert.Equal(t, []string{"a1"}, sess.Selection())
}

func TestHandlePayout_UnconfirmedIs422(t *testing.T) {
	dir := &stubDirectory{rows: []models.LoanApplication{
		{ID: "a1", Status: models.StatusReadyForDisbursement},
	}}
	srv, sess := newTestServer(t, dir)
	require.NoError(t, sess.Refresh(context.Background()))
	sess.SelectAllEligible()

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/payout",
		bytes.NewBufferString(`{"confirmed":false}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, dir.disbursed)
}

func TestHandlePayout_ConfirmedRunsBatch(t *testing.T) {
	dir := &stubDirectory{rows: []models.LoanApplication{
		{ID: "a1", Status: models.StatusReadyForDisbursement},
		{ID: "a2", Status: models.StatusReadyToRepeatDisbursal},
	}}
	srv, sess := newTestServer(t, dir)
	require.NoError(t, sess.Refresh(context.Background()))
	sess.SelectAllEligible()

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/payout",
		bytes.NewBufferString(`{"confirmed":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, message, data := decodeEnvelope(t, rec)
	assert.True(t, ok)
	assert.Equal(t, "success", message)
	assert.Len(t, data["success"], 2)
	assert.Equal(t, []string{"a1", "a2"}, dir.disbursed)
	assert.Empty(t, sess.Selection())
}

func TestHandlePayout_EmptySelectionIs422(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})
	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/payout",
		bytes.NewBufferString(`{"confirmed":true}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleUpdateStatus(t *testing.T) {
	dir := &stubDirectory{}
	srv, _ := newTestServer(t, dir)

	rec := serve(srv, httptest.NewRequest(http.MethodPatch, "/api/applications/a1/status",
		bytes.NewBufferString(`{"status":"follow_up"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusFollowUp, dir.updates["a1"])
}

func TestHandleUpdateStatus_UnknownStatusRejected(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})
	rec := serve(srv, httptest.NewRequest(http.MethodPatch, "/api/applications/a1/status",
		bytes.NewBufferString(`{"status":"bogus"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_ReportsPendingTerm(t *testing.T) {
	srv, sess := newTestServer(t, &stubDirectory{})

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/search",
		bytes.NewBufferString(`{"term":"rav"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, _, data := decodeEnvelope(t, rec)
	assert.Equal(t, "rav", data["pending"])
	assert.Equal(t, true, data["armed"])
	assert.Empty(t, sess.Query().SearchTerm, "term commits only after the quiet period")
}

func TestHandleExport_StreamsCSVAttachment(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), `attachment; filename="loan-applications-`))
	assert.Equal(t, "id,status\n", rec.Body.String())
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t, &stubDirectory{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/applications/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, _, data := decodeEnvelope(t, rec)
	assert.True(t, ok)
	assert.Equal(t, float64(2), data["total"])
}

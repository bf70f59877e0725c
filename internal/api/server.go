// internal/api/server.go

// Package api exposes the queue session over HTTP for the admin frontend.
// Every JSON response uses the {success, message, data} envelope.
package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/session"
)

type Server struct {
	session *session.Session
	logger  logger.Logger
}

func NewServer(sess *session.Session, log logger.Logger) *Server {
	return &Server{session: sess, logger: log}
}

// Routes mounts the API on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/applications", s.handleList)
	mux.HandleFunc("GET /api/applications/stats", s.handleStats)
	mux.HandleFunc("PATCH /api/applications/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/selection", s.handleSelection)
	mux.HandleFunc("POST /api/selection/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/selection/select-all", s.handleSelectAll)
	mux.HandleFunc("POST /api/selection/clear", s.handleClearSelection)
	mux.HandleFunc("POST /api/payout", s.handlePayout)
	mux.HandleFunc("GET /api/export", s.handleExport)
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// handleList applies any query mutations from the URL, refreshes, and
// returns the current page.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		if err := s.session.SetStatusFilter(ctx, models.Status(status)); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if sort := q.Get("sort"); sort != "" {
		if err := s.session.Sort(ctx, sort); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if size := q.Get("pageSize"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			s.writeValidation(w, "pageSize must be an integer")
			return
		}
		if err := s.session.SetPageSize(ctx, n); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if page := q.Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil {
			s.writeValidation(w, "page must be an integer")
			return
		}
		if err := s.session.SetPage(ctx, n); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if s.session.Page() == nil {
		if err := s.session.Refresh(ctx); err != nil {
			s.writeError(w, err)
			return
		}
	}

	result := s.session.Page()
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"applications": result.Applications,
		"pagination":   result.Pagination,
		"query":        s.session.Query(),
	}})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeValidation(w, "invalid request body")
		return
	}
	if !body.Status.Valid() {
		s.writeValidation(w, fmt.Sprintf("unknown status %q", body.Status))
		return
	}

	id := r.PathValue("id")
	if err := s.session.UpdateStatus(r.Context(), id, body.Status); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "status updated"})
}

// handleSearch records a keystroke. The fetch happens only after the quiet
// period, so the response reports the pending term, not results.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeValidation(w, "invalid request body")
		return
	}

	s.session.SearchInput(body.Term)
	pending, armed := s.session.SearchPending()
	s.writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]interface{}{
		"pending": pending,
		"armed":   armed,
	}})
}

func (s *Server) handleSelection(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"selected": s.session.Selection(),
	}})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		s.writeValidation(w, "id is required")
		return
	}

	result := s.session.Toggle(body.ID)
	data := map[string]interface{}{
		"selected": result.Selected,
		"changed":  result.Changed,
	}
	if result.Warning != nil {
		data["warning"] = result.Warning.Message
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) handleSelectAll(w http.ResponseWriter, _ *http.Request) {
	s.session.SelectAllEligible()
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"selected": s.session.Selection(),
	}})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearSelection()
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "selection cleared"})
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeValidation(w, "invalid request body")
		return
	}

	result, err := s.session.RunPayout(r.Context(), body.Confirmed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Message: result.Classification(), Data: result})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	file, err := s.session.Export(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		s.logger.WithError(err).Error("export response write failed", nil)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("response encode failed", nil)
	}
}

func (s *Server) writeValidation(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: message})
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeEmptyBatch, errors.ErrCodeBatchNotConfirmed, errors.ErrCodeSelectionIneligible:
		status = http.StatusUnprocessableEntity
	case errors.ErrCodeBatchInProgress:
		status = http.StatusConflict
	case errors.ErrCodeStaleSelection:
		status = http.StatusGone
	case errors.ErrCodePermissionDenied, errors.ErrCodeUnknownCategory:
		status = http.StatusForbidden
	case errors.ErrCodeDisbursementTimeout:
		status = http.StatusGatewayTimeout
	}

	message := err.Error()
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		message = stdErr.Message
	}

	s.logger.WithError(err).Error("request failed", map[string]interface{}{
		"httpStatus": status,
	})
	s.writeJSON(w, status, envelope{Success: false, Message: message})
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"kanban/internal/kanban/model"
	"kanban/internal/kanban/service"
	"kanban/pkg/logger"
	"kanban/pkg/metrics"
	"kanban/socket"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBodyBytes        = 8 << 20
)

type BoardHandler struct {
	Service *service.BoardService
	Hub     *socket.Hub
	Metrics *metrics.Collector
}

func NewBoardHandler(service *service.BoardService, hub *socket.Hub, collector *metrics.Collector) *BoardHandler {
	return &BoardHandler{Service: service, Hub: hub, Metrics: collector}
}

func (h *BoardHandler) Root(w http.ResponseWriter, r *http.Request) {
	logger.Sugar.Debug("Root endpoint accessed.")
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Welcome to the Kanban API"})
}

func (h *BoardHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	logger.Sugar.Infof("Attempting to get kanban for project_id: %s", projectID)

	doc, err := h.Service.GetDocument(r.Context(), projectID)
	if errors.Is(err, service.ErrNotFound) {
		h.observeRead("not_found")
		logger.Sugar.Warnf("Project not found for project_id: %s", projectID)
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		h.observeRead("error")
		logger.Sugar.Errorf("Handler: Failed to read board %s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.observeRead("found")
	writeJSON(w, http.StatusOK, doc)
}

func (h *BoardHandler) UpdateBoard(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	logger.Sugar.Infof("Attempting to update kanban for project_id: %s", projectID)

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var doc model.Document
	if err := dec.Decode(&doc); err != nil || doc == nil {
		h.observeUpdate("invalid")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := model.Normalize(doc); err != nil {
		h.observeUpdate("invalid")
		logger.Sugar.Warnf("Rejected update for project_id %s: %v", projectID, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	newVersion, err := h.Service.ApplyUpdate(r.Context(), projectID, doc)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidInput):
		h.observeUpdate("invalid")
		logger.Sugar.Errorf("Rejected update for project_id %s: %v", projectID, err)
		if v, present := doc[model.VersionKey]; present && v != nil {
			writeError(w, http.StatusBadRequest, "Invalid _version field")
		} else {
			writeError(w, http.StatusBadRequest, "Missing _version field")
		}
		return
	case errors.Is(err, service.ErrConflict):
		h.observeUpdate("conflict")
		writeError(w, http.StatusConflict, "Conflict, data has been modified by others.")
		return
	default:
		h.observeUpdate("error")
		logger.Sugar.Errorf("Handler: Failed to update board %s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.observeUpdate("applied")
	writeJSON(w, http.StatusOK, model.UpdateResponse{
		Message:    fmt.Sprintf("Project '%s' updated successfully.", projectID),
		NewVersion: newVersion,
	})
}

func (h *BoardHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	revisions, err := h.Service.History(r.Context(), projectID, limit)
	if errors.Is(err, service.ErrJournalDisabled) {
		writeError(w, http.StatusServiceUnavailable, "Revision journal is disabled")
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Error fetching history for %s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

// Subscribe upgrades to a WebSocket that receives the board's version on every update.
func (h *BoardHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	socket.ServeWs(h.Hub, w, r, projectID, func() (int64, error) {
		return h.Service.CurrentVersion(projectID)
	})
}

func (h *BoardHandler) observeRead(outcome string) {
	if h.Metrics != nil {
		h.Metrics.ObserveRead(outcome)
	}
}

func (h *BoardHandler) observeUpdate(outcome string) {
	if h.Metrics != nil {
		h.Metrics.ObserveUpdate(outcome)
	}
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	projectID := chi.URLParam(r, "projectID")
	// chi matches on RawPath when it is set, leaving params escaped.
	var err error
	if r.URL.RawPath != "" {
		projectID, err = url.PathUnescape(projectID)
	}
	if err != nil || !validProjectID(projectID) {
		writeError(w, http.StatusBadRequest, "Invalid project id")
		return "", false
	}
	return projectID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, model.ErrorResponse{Detail: detail})
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	links     ports.LinkService
	dashboard ports.DashboardService
	log       logrus.FieldLogger
}

func NewHTTPHandler(links ports.LinkService, dashboard ports.DashboardService, logger logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{
		links:     links,
		dashboard: dashboard,
		log:       logger.WithField("component", "api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// SetActiveRequest payload
type SetActiveRequest struct {
	Active *bool `json:"active"`
}

// Create Link
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())

	var req ports.CreateLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	link, err := h.links.CreateLink(r.Context(), owner, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, link)
}

// List Links
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	links, err := h.links.ListLinks(r.Context(), owner, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  links,
		"total": len(links),
	})
}

// SetActive toggles whether a link resolves.
func (h *HTTPHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	id, ok := linkID(w, r)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Active == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Body must be {\"active\": true|false}"})
		return
	}

	if err := h.links.SetActive(r.Context(), owner, id, *req.Active); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "active": *req.Active})
}

// Delete Link and its scans
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	id, ok := linkID(w, r)
	if !ok {
		return
	}

	if err := h.links.DeleteLink(r.Context(), owner, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Dashboard never fails; degraded snapshots carry their own flags.
func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	writeJSON(w, http.StatusOK, h.dashboard.Snapshot(r.Context(), owner))
}

// RefreshDashboard drops the cached snapshot and rebuilds it.
func (h *HTTPHandler) RefreshDashboard(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFrom(r.Context())
	writeJSON(w, http.StatusOK, h.dashboard.Refresh(r.Context(), owner))
}

func linkID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid ID"})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, domain.ErrLinkNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Link not found"})
	default:
		h.log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong. Try again later"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

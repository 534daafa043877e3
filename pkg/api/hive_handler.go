package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/models"
	"github.com/sciffer/beermqtt/pkg/query"
)

// CreateHive handles POST /hives. The generated password is only ever
// returned here.
func (h *Handler) CreateHive(w http.ResponseWriter, r *http.Request) {
	creds, err := h.hives.CreateHive(r.Context())
	if err != nil {
		h.respondError(w, 0, "failed to create hive", err)
		return
	}
	h.logger.WithOperation("create_hive").Info("hive created via API", zap.String("hive", creds.Identifier))
	h.respondJSON(w, http.StatusCreated, creds)
}

// RegisterHive handles POST /hives/register
func (h *Handler) RegisterHive(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterHiveRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	hive, err := h.hives.RegisterHive(r.Context(), &req)
	if err != nil {
		h.respondError(w, 0, "failed to register hive", err)
		return
	}
	h.logger.WithOperation("register_hive").Info("hive registered via API", zap.String("hive", hive.Identifier))
	h.respondJSON(w, http.StatusCreated, hive)
}

// ListHives handles GET /hives
func (h *Handler) ListHives(w http.ResponseWriter, r *http.Request) {
	list, err := h.hives.ListHives(r.Context())
	if err != nil {
		h.respondError(w, 0, "failed to list hives", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ListHivesResponse{Hives: list, Total: len(list)})
}

// GetHive handles GET /hives/{identifier}
func (h *Handler) GetHive(w http.ResponseWriter, r *http.Request) {
	hive, err := h.hives.GetHive(r.Context(), mux.Vars(r)["identifier"])
	if err != nil {
		h.respondError(w, 0, "hive not found", err)
		return
	}
	h.respondJSON(w, http.StatusOK, hive)
}

// UpdateHive handles PUT /hives/{identifier}
func (h *Handler) UpdateHive(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	var req models.UpdateHiveRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	hive, err := h.hives.UpdateHive(r.Context(), identifier, &req)
	if err != nil {
		h.respondError(w, 0, "failed to update hive", err)
		return
	}
	h.logger.WithOperation("update_hive").Info("hive updated via API",
		zap.String("hive", identifier),
		zap.String("new_identifier", hive.Identifier))
	if hive.Identifier != identifier {
		// streams are keyed by the old identifier
		h.feed.CloseHive(identifier)
	}
	h.respondJSON(w, http.StatusOK, hive)
}

// DeleteHive handles DELETE /hives/{identifier}
func (h *Handler) DeleteHive(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	hive, err := h.hives.DeleteHive(r.Context(), identifier)
	if err != nil {
		h.respondError(w, 0, "failed to delete hive", err)
		return
	}
	h.feed.CloseHive(identifier)

	h.logger.WithOperation("delete_hive").Info("hive deleted via API", zap.String("hive", identifier))
	h.respondJSON(w, http.StatusOK, hive)
}

// QueryReadings handles GET /hives/{identifier}/metrics
func (h *Handler) QueryReadings(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	limit, err := parseLimit(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	metrics, err := h.query.QueryReadings(r.Context(), identifier, limit)
	if err != nil {
		h.respondError(w, 0, "failed to query readings", err)
		return
	}

	if limit == 0 {
		limit = query.DefaultLimit
	}
	h.respondJSON(w, http.StatusOK, models.QueryReadingsResponse{
		Identifier: identifier,
		Metrics:    metrics,
		Limit:      limit,
	})
}

// parseLimit reads "limit", falling back to "take". Absent means 0.
func parseLimit(r *http.Request) (int, error) {
	q := r.URL.Query()
	raw := q.Get("limit")
	if raw == "" {
		raw = q.Get("take")
	}
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", query.ErrInvalidLimit, raw)
	}
	if limit == 0 {
		return 0, fmt.Errorf("%w: must be between 1 and %d", query.ErrInvalidLimit, query.MaxLimit)
	}
	return limit, nil
}

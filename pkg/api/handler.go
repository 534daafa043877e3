package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/internal/logger"
	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/feed"
	"github.com/sciffer/beermqtt/pkg/hives"
	"github.com/sciffer/beermqtt/pkg/models"
	"github.com/sciffer/beermqtt/pkg/query"
	"github.com/sciffer/beermqtt/pkg/validator"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// maxBodyBytes caps admin request bodies
const maxBodyBytes = 4 * 1024

// Pinger reports store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	hives    *hives.Service
	query    *query.Service
	feed     *feed.Hub
	db       Pinger
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(hiveSvc *hives.Service, querySvc *query.Service, hub *feed.Hub, db Pinger, log *logger.Logger) *Handler {
	return &Handler{
		hives: hiveSvc,
		query: querySvc,
		feed:  hub,
		db:    db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Database: "connected",
	}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("database ping failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, resp)
}

// Helper functions

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// respondError writes the standard error body. The status follows from err
// unless status is non-zero.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if status == 0 {
		status = statusFor(err)
	}
	detail := message
	if err != nil {
		detail = err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Debug(message, zap.Int("status", status), zap.Error(err))
	}

	h.respondJSON(w, status, models.ErrorResponse{
		Error:   message,
		Message: detail,
		Code:    status,
	})
}

func statusFor(err error) int {
	var verr *validator.ValidationError
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, hives.ErrInvalidRequest),
		errors.Is(err, query.ErrInvalidLimit),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

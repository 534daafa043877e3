package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sciffer/beermqtt/pkg/auth"
	"github.com/sciffer/beermqtt/pkg/metrics"
)

// NewRouter creates and configures the HTTP router. Hive routes require a
// bearer token when tokens is non-nil. metricsHandler, if set, is served
// unauthenticated at /metrics.
func NewRouter(handler *Handler, tokens *auth.TokenIssuer, recorder metrics.Recorder, metricsHandler http.Handler) *mux.Router {
	if recorder == nil {
		recorder = metrics.Noop()
	}

	r := mux.NewRouter()
	r.Use(metricsMiddleware(recorder))

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check (no auth required)
	api.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	hives := api.PathPrefix("/hives").Subrouter()
	if tokens != nil {
		hives.Use(tokens.Middleware)
	}

	hives.HandleFunc("", handler.CreateHive).Methods("POST")
	hives.HandleFunc("", handler.ListHives).Methods("GET")
	hives.HandleFunc("/register", handler.RegisterHive).Methods("POST")
	hives.HandleFunc("/{identifier}", handler.GetHive).Methods("GET")
	hives.HandleFunc("/{identifier}", handler.UpdateHive).Methods("PUT")
	hives.HandleFunc("/{identifier}", handler.DeleteHive).Methods("DELETE")
	hives.HandleFunc("/{identifier}/metrics", handler.QueryReadings).Methods("GET")

	// WebSocket stream of newly stored metrics
	hives.HandleFunc("/{identifier}/live", handler.LiveStream).Methods("GET")

	return r
}

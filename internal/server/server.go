// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/internal/storage"
	syncengine "github.com/homehub-io/catalog-sync/internal/sync"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// HTTPServer exposes the catalog and sync trigger API
type HTTPServer struct {
	config         *config.ServerConfig
	appVersion     string
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	engine         *syncengine.Engine
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	appVersion string,
	store storage.Storage,
	engine *syncengine.Engine,
	metricsManager *metrics.Manager,
) *HTTPServer {

	server := &HTTPServer{
		config:         cfg,
		appVersion:     appVersion,
		storage:        store,
		engine:         engine,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoints
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Sync endpoints
	api.HandleFunc("/sync", s.triggerSyncHandler).Methods("POST")
	api.HandleFunc("/sync/status", s.syncStatusHandler).Methods("GET")
	api.HandleFunc("/sync/runs", s.listSyncRunsHandler).Methods("GET")
	api.HandleFunc("/sync/runs/{id}", s.getSyncRunHandler).Methods("GET")

	// Catalog endpoints
	api.HandleFunc("/catalog", s.listCatalogHandler).Methods("GET")
	api.HandleFunc("/catalog/import", s.importEntryHandler).Methods("POST")
	api.HandleFunc("/catalog/{domain}", s.getCatalogEntryHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Populate system and component metrics before the first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.updateComponentMetrics()
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	if s.storage != nil {
		health := s.storage.GetHealth()
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)
	}
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.appVersion,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.storage.GetHealth()

	status := "healthy"
	if !storageHealth.Healthy {
		status = "unhealthy"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"version":   s.appVersion,
		"components": map[string]interface{}{
			"storage":     storageHealth,
			"sync_active": s.engine.Running(),
		},
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"source":          s.engine.SourceStats(),
		"sync_active":     s.engine.Running(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.metricsManager != nil {
		stats["uptime"] = s.metricsManager.Uptime().String()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Sync Handlers

// triggerSyncHandler starts a new sync run
func (s *HTTPServer) triggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type  string `json:"type"`
		Force bool   `json:"force"`
	}

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	syncType := models.SyncType(request.Type)
	switch syncType {
	case models.SyncTypeFull, models.SyncTypeIncremental, models.SyncTypeManual:
	case "":
		syncType = models.SyncTypeIncremental
	default:
		s.writeError(w, http.StatusBadRequest, "Sync type must be full, incremental or manual", nil)
		return
	}

	run, err := s.engine.TriggerSync(r.Context(), syncType, request.Force)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeConflict) {
			s.writeError(w, http.StatusConflict, "Sync already in progress", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to start sync", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"sync_id": run.ID,
	})
}

// syncStatusHandler returns current and last-completed run summaries
func (s *HTTPServer) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.GetStatusSummary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve sync status", err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// listSyncRunsHandler lists sync run history
func (s *HTTPServer) listSyncRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 20)

	filter := models.SyncRunFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.RunStatus(statusStr)
		filter.Status = &status
	}

	runs, err := s.storage.ListSyncRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve sync runs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
		"total":  len(runs),
	})
}

// getSyncRunHandler returns one run together with its audit trail
func (s *HTTPServer) getSyncRunHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	detail, err := s.engine.GetSyncStatus(r.Context(), id)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeNotFound) {
			s.writeError(w, http.StatusNotFound, "Sync run not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve sync run", err)
		return
	}

	s.writeJSON(w, http.StatusOK, detail)
}

// Catalog Handlers

// listCatalogHandler lists catalog entries with pagination and filtering
func (s *HTTPServer) listCatalogHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50)

	filter := models.CatalogFilter{
		Limit:  limit,
		Offset: offset,
	}

	if query := r.URL.Query().Get("q"); query != "" {
		filter.Query = &query
	}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.SyncStatus(statusStr)
		filter.Status = &status
	}
	if r.URL.Query().Get("include_deprecated") == "true" {
		filter.IncludeDeprecated = true
	}

	entries, err := s.storage.ListEntries(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve catalog entries", err)
		return
	}

	total, err := s.storage.CountEntries(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count catalog entries", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
		"total":   total,
	})
}

// getCatalogEntryHandler returns a single catalog entry by domain
func (s *HTTPServer) getCatalogEntryHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	domain := vars["domain"]

	entry, err := s.storage.GetEntry(r.Context(), domain)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve catalog entry", err)
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, "Catalog entry not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}

// importEntryHandler injects a custom catalog entry outside the crawler path
func (s *HTTPServer) importEntryHandler(w http.ResponseWriter, r *http.Request) {
	var entry models.CatalogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.engine.ImportCustomEntry(r.Context(), &entry); err != nil {
		if utils.HasCode(err, utils.ErrCodeValidation) {
			s.writeError(w, http.StatusBadRequest, "Invalid catalog entry", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to import catalog entry", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Catalog entry imported successfully",
		"domain":  entry.Domain,
	})
}

// Utility Methods

func parsePagination(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}

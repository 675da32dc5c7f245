package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keepsake/pkg/maintenance"
	"github.com/platinummonkey/keepsake/pkg/migration"
	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// maxValueBytes bounds request bodies on PUT /keys/{key}
const maxValueBytes = 1 << 20

// AdminHandlers exposes the store, its backups and the maintenance jobs
// over HTTP
type AdminHandlers struct {
	store      *storage.Manager
	migrations *migration.Manager
	runner     *maintenance.Runner
	health     *observability.HealthChecker
	metrics    http.Handler
	log        *logrus.Logger
}

// AdminOption configures optional admin dependencies
type AdminOption func(*AdminHandlers)

// WithRunner enables the /jobs endpoints
func WithRunner(r *maintenance.Runner) AdminOption {
	return func(h *AdminHandlers) { h.runner = r }
}

// WithHealthChecker serves /healthz and /readyz from hc
func WithHealthChecker(hc *observability.HealthChecker) AdminOption {
	return func(h *AdminHandlers) { h.health = hc }
}

// WithMetricsHandler serves /metrics from handler
func WithMetricsHandler(handler http.Handler) AdminOption {
	return func(h *AdminHandlers) { h.metrics = handler }
}

// NewAdminHandlers creates the admin handlers
func NewAdminHandlers(store *storage.Manager, migrations *migration.Manager, log *logrus.Logger, opts ...AdminOption) *AdminHandlers {
	if log == nil {
		log = logrus.New()
	}
	h := &AdminHandlers{store: store, migrations: migrations, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the admin routes
func (h *AdminHandlers) RegisterRoutes(r *mux.Router) {
	// Probes and metrics
	if h.health != nil {
		r.HandleFunc("/healthz", h.health.Liveness).Methods("GET")
		r.HandleFunc("/readyz", h.health.Readiness).Methods("GET")
	}
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	r.HandleFunc("/stats", h.getStats).Methods("GET")

	// Records
	r.HandleFunc("/keys", h.listKeys).Methods("GET")
	r.HandleFunc("/keys/{key}", h.getKey).Methods("GET")
	r.HandleFunc("/keys/{key}", h.putKey).Methods("PUT")
	r.HandleFunc("/keys/{key}", h.deleteKey).Methods("DELETE")

	// Backups
	r.HandleFunc("/backups", h.listBackups).Methods("GET")
	r.HandleFunc("/backups", h.createBackup).Methods("POST")
	r.HandleFunc("/backups/{id}/restore", h.restoreBackup).Methods("POST")
	r.HandleFunc("/backups/{id}", h.deleteBackup).Methods("DELETE")

	// Maintenance
	r.HandleFunc("/migrate", h.migrate).Methods("POST")
	r.HandleFunc("/repair", h.repair).Methods("POST")
	if h.runner != nil {
		r.HandleFunc("/jobs", h.listJobs).Methods("GET")
		r.HandleFunc("/jobs/{name}", h.runJob).Methods("POST")
	}
}

// NewAdminRouter builds a router with the admin routes behind the standard
// middleware chain
func NewAdminRouter(h *AdminHandlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(
		RequestIDMiddleware,
		LoggingMiddleware(h.log),
		RecoveryMiddleware(h.log),
		MaxBytesMiddleware(maxValueBytes),
	)
	h.RegisterRoutes(r)
	return r
}

// StatsResponse is returned by GET /stats
type StatsResponse struct {
	Storage     storage.Stats           `json:"storage"`
	DataVersion string                  `json:"dataVersion"`
	Jobs        []maintenance.JobInfo   `json:"jobs,omitempty"`
	LastRuns    []maintenance.JobResult `json:"lastRuns,omitempty"`
}

// getStats handles GET /stats
func (h *AdminHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		WriteInternalError(w, err)
		return
	}
	resp := StatsResponse{Storage: stats}
	resp.DataVersion, _ = h.migrations.StoredVersion(ctx)
	if h.runner != nil {
		resp.Jobs = h.runner.Jobs()
		resp.LastRuns = h.runner.LastResults()
	}
	WriteSuccess(w, resp)
}

// listKeys handles GET /keys
func (h *AdminHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.AllKeys(r.Context())
	if err != nil {
		WriteInternalError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"keys": keys, "count": len(keys)})
}

// getKey handles GET /keys/{key}
func (h *AdminHandlers) getKey(w http.ResponseWriter, r *http.Request) {
	key, ok := ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}
	raw, found := h.store.GetRaw(r.Context(), key)
	if !found {
		WriteNotFoundError(w, fmt.Sprintf("key %q not found", key))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// putKey handles PUT /keys/{key}
// Query params:
//   - debounce: defer the write (default: true)
//   - validate: apply the schema registry (default: true)
func (h *AdminHandlers) putKey(w http.ResponseWriter, r *http.Request) {
	key, ok := ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}
	debounce, err := ParseQueryBool(r, "debounce", true)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	validate, err := ParseQueryBool(r, "validate", true)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	var value json.RawMessage
	if !ParseJSONOrError(w, r, &value) {
		return
	}

	err = h.store.Set(r.Context(), key, value, storage.WithDebounce(debounce), storage.WithValidation(validate))
	var verr *schema.ValidationError
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.As(err, &verr):
		WriteDetailedError(w, http.StatusUnprocessableEntity, err, map[string]string{
			"key":    verr.Key,
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	default:
		h.writeStorageError(w, err)
	}
}

// deleteKey handles DELETE /keys/{key}
func (h *AdminHandlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}
	if err := h.store.Remove(r.Context(), key); err != nil {
		h.writeStorageError(w, err)
		return
	}
	WriteNoContent(w)
}

// listBackups handles GET /backups
// Query params:
//   - limit: maximum number of backups, newest first (default: all)
func (h *AdminHandlers) listBackups(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseQueryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	infos, err := h.migrations.ListBackups(r.Context())
	if err != nil {
		WriteInternalError(w, err)
		return
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	WriteSuccess(w, map[string]interface{}{"backups": infos, "count": len(infos)})
}

// createBackup handles POST /backups
func (h *AdminHandlers) createBackup(w http.ResponseWriter, r *http.Request) {
	id, err := h.migrations.CreateBackup(r.Context())
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	WriteCreated(w, map[string]string{"id": id})
}

// restoreBackup handles POST /backups/{id}/restore
func (h *AdminHandlers) restoreBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.migrations.RestoreBackup(r.Context(), id); err != nil {
		h.writeStorageError(w, err)
		return
	}
	h.log.WithField("backup", id).Info("Backup restored via admin API")
	WriteSuccess(w, map[string]string{"restored": id})
}

// deleteBackup handles DELETE /backups/{id}
func (h *AdminHandlers) deleteBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.migrations.DeleteBackup(r.Context(), id); err != nil {
		h.writeStorageError(w, err)
		return
	}
	WriteNoContent(w)
}

// migrate handles POST /migrate
func (h *AdminHandlers) migrate(w http.ResponseWriter, r *http.Request) {
	res, err := h.migrations.MigrateIfNeeded(r.Context())
	if err != nil {
		var merr *migration.MigrationError
		if errors.As(err, &merr) {
			WriteDetailedError(w, http.StatusInternalServerError, err, map[string]string{"version": merr.Version})
			return
		}
		WriteInternalError(w, err)
		return
	}
	WriteSuccess(w, res)
}

// repair handles POST /repair
func (h *AdminHandlers) repair(w http.ResponseWriter, r *http.Request) {
	report, err := h.migrations.ValidateAndRepair(r.Context())
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	WriteSuccess(w, report)
}

// listJobs handles GET /jobs
func (h *AdminHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"jobs":     h.runner.Jobs(),
		"lastRuns": h.runner.LastResults(),
	})
}

// runJob handles POST /jobs/{name}
func (h *AdminHandlers) runJob(w http.ResponseWriter, r *http.Request) {
	name, ok := ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	res, err := h.runner.RunJob(r.Context(), name)
	if errors.Is(err, maintenance.ErrUnknownJob) {
		WriteNotFoundError(w, err.Error())
		return
	}
	// A failed run still reports its result
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, res)
}

// writeStorageError maps storage and backup errors to status codes
func (h *AdminHandlers) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, migration.ErrBackupNotFound):
		WriteNotFoundError(w, err.Error())
	case errors.Is(err, storage.ErrQuotaExceeded):
		WriteError(w, http.StatusInsufficientStorage, err)
	case errors.Is(err, storage.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, storage.ErrAccessDenied):
		h.log.WithError(err).Error("Storage access denied")
		WriteError(w, http.StatusForbidden, err)
	default:
		WriteInternalError(w, err)
	}
}

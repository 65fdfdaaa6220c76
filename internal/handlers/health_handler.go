package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/services/orchestrator"
)

const (
	serviceName          = "sheetporter"
	callbackCheckTimeout = 5 * time.Second
)

// ActiveJobChecker reports the job currently holding the worker
type ActiveJobChecker interface {
	Active() (orchestrator.Snapshot, bool)
}

// HealthHandler serves the liveness, readiness and diagnostics endpoints
type HealthHandler struct {
	config   *common.Config
	jobs     ActiveJobChecker
	reporter interfaces.StatusReporter
	logger   arbor.ILogger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(config *common.Config, jobs ActiveJobChecker, reporter interfaces.StatusReporter, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		config:   config,
		jobs:     jobs,
		reporter: reporter,
		logger:   logger,
	}
}

// RootHandler returns the service identity for "/" and a JSON 404 for anything else
func (h *HealthHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service": serviceName,
		"version": common.GetVersion(),
		"status":  "running",
	})
}

// VersionHandler returns version information
func (h *HealthHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler is the basic health check
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   serviceName,
		"version":   common.GetVersion(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    common.Uptime().Round(time.Second).String(),
	})
}

// DetailedHandler reports configuration problems, callback reachability and the active job
func (h *HealthHandler) DetailedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "healthy"
	checks := make(map[string]interface{})

	problems := h.config.Validate()
	checks["config"] = map[string]interface{}{
		"valid":    len(problems) == 0,
		"problems": problems,
	}
	if len(problems) > 0 {
		status = "degraded"
	}

	callback := map[string]interface{}{"configured": h.config.Callback.BaseURL != ""}
	if h.config.Callback.BaseURL != "" && h.reporter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), callbackCheckTimeout)
		err := h.reporter.TestConnection(ctx)
		cancel()
		callback["reachable"] = err == nil
		if err != nil {
			callback["error"] = err.Error()
			status = "degraded"
		}
	}
	checks["callback"] = callback

	checks["source"] = map[string]interface{}{
		"provider":     h.config.Source.Provider,
		"workbook_dir": h.config.Source.WorkbookDir,
	}
	checks["automation"] = map[string]interface{}{
		"target":    h.config.Automation.BaseURL,
		"login_url": h.config.Automation.ResolvedLoginURL(),
		"headless":  h.config.Automation.Headless,
	}

	response := map[string]interface{}{
		"status":     status,
		"version":    common.GetVersion(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"uptime":     common.Uptime().Round(time.Second).String(),
		"goroutines": common.GetGoroutineCount(),
		"checks":     checks,
	}
	if snap, ok := h.jobs.Active(); ok {
		response["activeJob"] = snap
	}

	WriteJSON(w, http.StatusOK, response)
}

// ReadyHandler returns 503 while a job is processing
func (h *HealthHandler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if snap, ok := h.jobs.Active(); ok {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":       false,
			"reason":      "job in progress",
			"activeJobId": snap.Descriptor.JobID,
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

// LiveHandler returns process identity
func (h *HealthHandler) LiveHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"pid":    os.Getpid(),
		"uptime": common.Uptime().Round(time.Second).String(),
	})
}

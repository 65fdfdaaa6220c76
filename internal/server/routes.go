package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Service identity; doubles as the JSON 404 for anything unmatched
	mux.HandleFunc("/", s.app.HealthHandler.RootHandler)

	// WebSocket route
	if s.app.WSHandler != nil {
		mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	}

	// API routes - Jobs. Mutating routes require a signed body.
	mux.HandleFunc("/api/jobs/process", s.requireSignature(s.app.JobHandler.ProcessHandler))   // POST
	mux.HandleFunc("/api/jobs/validate", s.requireSignature(s.app.JobHandler.ValidateHandler)) // POST
	mux.HandleFunc("/api/jobs/cancel/", s.requireSignature(s.app.JobHandler.CancelHandler))    // POST /{id}
	mux.HandleFunc("/api/jobs/status/", s.app.JobHandler.StatusHandler)                        // GET /{id}
	mux.HandleFunc("/api/jobs/mappings", s.app.JobHandler.MappingsHandler)                     // GET
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListHandler)                                  // GET
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)                                            // GET /{id}/logs

	// API routes - System
	mux.HandleFunc("/api/version", s.app.HealthHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.HealthHandler.HealthHandler)
	mux.HandleFunc("/api/health/detailed", s.app.HealthHandler.DetailedHandler)
	mux.HandleFunc("/api/health/ready", s.app.HealthHandler.ReadyHandler)
	mux.HandleFunc("/api/health/live", s.app.HealthHandler.LiveHandler)

	return mux
}

// handleJobRoutes dispatches /api/jobs/{id}/... subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []PathSuffixRouter{
		{Suffix: "/logs", Handler: s.app.JobHandler.LogsHandler},
	}
	if RouteByPathSuffix(w, r, "/api/jobs/", routes) {
		return
	}
	notFound(w, r)
}

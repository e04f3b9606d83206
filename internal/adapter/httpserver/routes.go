package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dbfleet/dbfleet/internal/core/service"
)

func (s *Server) setupRoutes(instanceSvc *service.InstanceService, querySvc *service.QueryService, adminSvc *service.AdminService, pinger Pinger) {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	// Health probes
	r.Get("/health", s.handleHealth())
	r.Get("/ready", s.handleReady(pinger))

	// Tenant API. Caller identity arrives in X-Owner-ID from the upstream
	// gateway that terminated authentication.
	r.Route("/api/v1", func(api chi.Router) {
		if s.cfg.CORSOrigin != "" {
			api.Use(cors.Handler(cors.Options{
				AllowedOrigins:   []string{s.cfg.CORSOrigin},
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Owner-ID"},
				AllowCredentials: false,
				MaxAge:           300,
			}))
		}
		api.Use(s.limiter.Middleware)
		api.Use(s.requireOwner)

		api.Post("/instances", s.handleCreateInstance(instanceSvc))
		api.Get("/instances", s.handleListInstances(instanceSvc))
		api.Get("/instances/{id}", s.handleGetInstance(instanceSvc))
		api.Delete("/instances/{id}", s.handleDeleteInstance(instanceSvc))
		api.Post("/instances/{id}/activate", s.handleActivateInstance(instanceSvc))
		api.Post("/instances/{id}/deactivate", s.handleDeactivateInstance(instanceSvc))
		api.Post("/instances/{id}/rotate-credentials", s.handleRotateCredentials(instanceSvc))

		api.Post("/instances/{id}/query", s.handleExecuteQuery(querySvc))
		api.Get("/instances/{id}/tables", s.handleListTables(querySvc))
		api.Get("/instances/{id}/tables/{table}/schema", s.handleGetTableSchema(querySvc))
		api.Get("/instances/{id}/tables/{table}/data", s.handleGetTableData(querySvc))
		api.Get("/instances/{id}/connection/test", s.handleTestConnection(querySvc))
		api.Get("/instances/{id}/info", s.handleGetDatabaseInfo(querySvc))
		api.Get("/instances/{id}/processes", s.handleListProcesses(querySvc))
		api.Delete("/instances/{id}/processes/{pid}", s.handleKillProcess(querySvc))
	})

	// Operator API
	r.Route("/api/admin", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Use(s.adminAuth)

		api.Get("/engines", s.handleListEngines(adminSvc))
		api.Get("/audit-logs", s.handleListAuditLogs(adminSvc))
		api.Post("/owners/{id}/enforce-limits", s.handleEnforceLimits(adminSvc))
	})

	s.router = r
}

// handleReady returns 200 when the control-plane store is reachable, 503
// otherwise.
func (s *Server) handleReady(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(r.Context()); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

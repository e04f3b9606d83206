package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/service"
)

// adminAuth is middleware that checks the Authorization header for the
// operator secret.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if s.cfg.AdminSecret == "" || token != s.cfg.AdminSecret {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type engineResponse struct {
	ID          int32  `json:"id"`
	Type        string `json:"type"`
	DefaultPort int    `json:"default_port"`
	Active      bool   `json:"active"`
}

func (s *Server) handleListEngines(adminSvc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engines, err := adminSvc.ListEngines(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := make([]engineResponse, 0, len(engines))
		for _, eng := range engines {
			resp = append(resp, engineResponse{
				ID:          eng.ID,
				Type:        string(eng.Type),
				DefaultPort: eng.DefaultPort,
				Active:      eng.Active,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type auditLogResponse struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	InstanceID string `json:"instance_id"`
	Action     string `json:"action"`
	Summary    string `json:"summary"`
	DurationMs int    `json:"duration_ms"`
	IsError    bool   `json:"is_error"`
	CreatedAt  string `json:"created_at"`
}

func (s *Server) handleListAuditLogs(adminSvc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
		if err != nil {
			http.Error(w, `{"error":"invalid or missing owner_id"}`, http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		records, err := adminSvc.ListAuditLogs(r.Context(), ownerID, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := make([]auditLogResponse, 0, len(records))
		for _, rec := range records {
			resp = append(resp, auditLogResponse{
				ID:         rec.ID.String(),
				OwnerID:    rec.OwnerID.String(),
				InstanceID: rec.InstanceID.String(),
				Action:     rec.Action,
				Summary:    rec.Summary,
				DurationMs: rec.DurationMs,
				IsError:    rec.IsError,
				CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleEnforceLimits(adminSvc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, `{"error":"invalid owner id"}`, http.StatusBadRequest)
			return
		}
		if err := adminSvc.EnforcePlanLimits(r.Context(), ownerID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

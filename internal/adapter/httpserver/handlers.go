package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/service"
)

type ctxKey int

const ownerIDKey ctxKey = iota

// ownerHeader carries the authenticated tenant identity, set by the
// upstream gateway after it terminates end-user authentication.
const ownerHeader = "X-Owner-ID"

// requireOwner extracts the caller identity set by the upstream gateway.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(r.Header.Get(ownerHeader))
		if err != nil {
			http.Error(w, `{"error":"missing or invalid X-Owner-ID header"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ownerIDKey).(uuid.UUID)
	return id
}

func instanceIDFrom(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// writeError maps a domain error kind to an HTTP status and renders the
// safe message. Internal causes are logged, never sent to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)

	var status int
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindForbidden:
		status = http.StatusForbidden
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindBadRequest:
		status = http.StatusBadRequest
	case domain.KindSecurityRejected:
		status = http.StatusUnprocessableEntity
	case domain.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	msg := "internal error"
	var domErr *domain.Error
	if errors.As(err, &domErr) && kind != domain.KindInternal {
		msg = domErr.Msg
	}
	if status >= 500 {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
		"kind":  kind.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// --- Instance lifecycle endpoints ---

type createInstanceRequest struct {
	EngineID     int32  `json:"engine_id"`
	DatabaseName string `json:"database_name,omitempty"`
}

func (s *Server) handleCreateInstance(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInstanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.EngineID == 0 {
			http.Error(w, `{"error":"engine_id is required"}`, http.StatusBadRequest)
			return
		}

		view, err := svc.Create(r.Context(), ownerFrom(r), req.EngineID, req.DatabaseName)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func (s *Server) handleListInstances(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := svc.List(r.Context(), ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleGetInstance(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		view, err := svc.Get(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleDeleteInstance(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		if err := svc.Delete(r.Context(), id, ownerFrom(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleActivateInstance(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		view, err := svc.Activate(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleDeactivateInstance(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		view, err := svc.Deactivate(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleRotateCredentials(svc *service.InstanceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		view, password, err := svc.RotateCredentials(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// The rotated plaintext password is handed out exactly once, here.
		writeJSON(w, http.StatusOK, rotateCredentialsResponse{
			InstanceView: view,
			Password:     password,
		})
	}
}

type rotateCredentialsResponse struct {
	*service.InstanceView
	Password string `json:"password"`
}

// --- Query gateway endpoints ---

type executeQueryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleExecuteQuery(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		var req executeQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		result, err := svc.ExecuteQuery(r.Context(), id, ownerFrom(r), req.Query)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListTables(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		tables, err := svc.ListTables(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tables)
	}
}

func (s *Server) handleGetTableSchema(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		schema, err := svc.GetTableSchema(r.Context(), id, ownerFrom(r), chi.URLParam(r, "table"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, schema)
	}
}

func (s *Server) handleGetTableData(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		result, err := svc.GetTableData(r.Context(), id, ownerFrom(r), chi.URLParam(r, "table"), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleTestConnection(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		reachable, err := svc.TestConnection(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"reachable": reachable})
	}
}

func (s *Server) handleGetDatabaseInfo(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		info, err := svc.GetDatabaseInfo(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleListProcesses(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		procs, err := svc.ListProcesses(r.Context(), id, ownerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, procs)
	}
}

func (s *Server) handleKillProcess(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := instanceIDFrom(r)
		if !ok {
			http.Error(w, `{"error":"invalid instance id"}`, http.StatusBadRequest)
			return
		}
		pid, err := strconv.ParseInt(chi.URLParam(r, "pid"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid process id"}`, http.StatusBadRequest)
			return
		}
		if err := svc.KillProcess(r.Context(), id, ownerFrom(r), pid); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/mapper"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

const maxTableDataRows = 1000

// QueryService is the hosted query gateway: ownership check, shared
// security validation, engine executor, introspection mapping. Tenants
// browse schema and data through it without ever holding a raw connection
// to the shared host.
type QueryService struct {
	instances port.InstanceRepository
	registry  port.EngineRegistry
	validator *domain.Validator
	audit     port.AuditLogger
	logger    *slog.Logger
}

func NewQueryService(
	instances port.InstanceRepository,
	registry port.EngineRegistry,
	validator *domain.Validator,
	audit port.AuditLogger,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		instances: instances,
		registry:  registry,
		validator: validator,
		audit:     audit,
		logger:    logger,
	}
}

// ExecuteQuery runs tenant-supplied ad-hoc SQL under the read-only policy.
// Security rejections surface as errors; execution failures come back
// inside the QueryResult.
func (s *QueryService) ExecuteQuery(ctx context.Context, instanceID, ownerID uuid.UUID, query string) (*port.QueryResult, error) {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}

	executor, err := adapter.Executor(inst)
	if err != nil {
		return nil, err
	}

	result, err := executor.ExecuteSafeQuery(ctx, query)
	s.recordAudit(ownerID, instanceID, "query.execute", summarize(query), err != nil || (result != nil && !result.Success))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTables returns the instance's tables with row and size estimates.
func (s *QueryService) ListTables(ctx context.Context, instanceID, ownerID uuid.UUID) ([]port.TableInfo, error) {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return nil, err
	}
	res, err := inspector.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return mapper.Tables(res), nil
}

// GetTableSchema returns columns and indexes for one table.
func (s *QueryService) GetTableSchema(ctx context.Context, instanceID, ownerID uuid.UUID, table string) (*port.TableSchema, error) {
	if err := s.validator.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return nil, err
	}

	columns, err := inspector.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns.Rows) == 0 {
		return nil, domain.Ef(domain.KindNotFound, "table %q not found", table)
	}
	indexes, err := inspector.TableIndexes(ctx, table)
	if err != nil {
		return nil, err
	}
	return mapper.TableSchema(table, columns, indexes), nil
}

// GetTableData returns up to limit rows (capped at 1000) from one table.
func (s *QueryService) GetTableData(ctx context.Context, instanceID, ownerID uuid.UUID, table string, limit int) (*port.QueryResult, error) {
	if err := s.validator.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxTableDataRows {
		limit = maxTableDataRows
	}
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return nil, err
	}

	result, err := inspector.TableData(ctx, table, limit)
	s.recordAudit(ownerID, instanceID, "query.table_data", table, err != nil)
	return result, err
}

// TestConnection probes the instance with its own credentials.
func (s *QueryService) TestConnection(ctx context.Context, instanceID, ownerID uuid.UUID) (bool, error) {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return false, err
	}
	return adapter.ValidateConnection(ctx, inst), nil
}

// GetDatabaseInfo returns name, version, size and table count.
func (s *QueryService) GetDatabaseInfo(ctx context.Context, instanceID, ownerID uuid.UUID) (*port.DatabaseInfo, error) {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return nil, err
	}
	res, err := inspector.DatabaseInfo(ctx)
	if err != nil {
		return nil, err
	}
	return mapper.DatabaseInfo(string(inst.EngineType), res), nil
}

// ListProcesses returns the instance's own sessions.
func (s *QueryService) ListProcesses(ctx context.Context, instanceID, ownerID uuid.UUID) ([]port.DatabaseProcess, error) {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return nil, err
	}
	res, err := inspector.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	return mapper.Processes(res), nil
}

// KillProcess terminates one of the instance's own sessions.
func (s *QueryService) KillProcess(ctx context.Context, instanceID, ownerID uuid.UUID, processID int64) error {
	inst, adapter, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return err
	}
	inspector, err := adapter.Inspector(inst)
	if err != nil {
		return err
	}

	err = inspector.KillProcess(ctx, processID)
	s.recordAudit(ownerID, instanceID, "process.kill", fmt.Sprintf("pid=%d", processID), err != nil)
	return err
}

func (s *QueryService) owned(ctx context.Context, instanceID, ownerID uuid.UUID) (*domain.DatabaseInstance, port.EngineAdapter, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if !inst.OwnedBy(ownerID) {
		return nil, nil, domain.E(domain.KindForbidden, "instance does not belong to the caller")
	}
	if inst.Status != domain.StatusActive {
		return nil, nil, domain.Ef(domain.KindBadRequest, "instance is %s, not active", inst.Status)
	}
	adapter, err := s.registry.Adapter(inst.EngineType)
	if err != nil {
		return nil, nil, err
	}
	return inst, adapter, nil
}

func (s *QueryService) recordAudit(ownerID, instanceID uuid.UUID, action, summary string, isError bool) {
	s.audit.Log(port.AuditEntry{
		OwnerID:    ownerID,
		InstanceID: instanceID,
		Action:     action,
		Summary:    summary,
		IsError:    isError,
	})
}

// summarize truncates audit payloads; full SQL stays out of the audit log.
func summarize(query string) string {
	const maxLen = 120
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}

package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// AdminService backs the operator API: audit trail inspection, engine
// catalog listing and plan-limit reconciliation after downgrades.
type AdminService struct {
	engines port.EngineRepository
	audit   port.AuditRepository
	quota   *QuotaService
	logger  *slog.Logger
}

func NewAdminService(
	engines port.EngineRepository,
	audit port.AuditRepository,
	quota *QuotaService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		engines: engines,
		audit:   audit,
		quota:   quota,
		logger:  logger,
	}
}

// ListEngines returns the engine catalog.
func (s *AdminService) ListEngines(ctx context.Context) ([]domain.Engine, error) {
	return s.engines.List(ctx)
}

// ListAuditLogs returns an owner's audit records, newest first.
func (s *AdminService) ListAuditLogs(ctx context.Context, ownerID uuid.UUID, limit int) ([]port.AuditRecord, error) {
	return s.audit.ListByOwner(ctx, ownerID, limit)
}

// EnforcePlanLimits reconciles an owner's instances with their current plan,
// deactivating newest-first until the counts fit.
func (s *AdminService) EnforcePlanLimits(ctx context.Context, ownerID uuid.UUID) error {
	s.logger.Info("enforcing plan limits", slog.String("owner_id", ownerID.String()))
	return s.quota.EnforcePlanLimits(ctx, ownerID)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

const (
	mysqlEngineID    int32 = 1
	postgresEngineID int32 = 2
	redisEngineID    int32 = 3
	mariadbEngineID  int32 = 5
)

type instanceFixture struct {
	svc      *InstanceService
	repo     *fakeInstanceRepo
	mysql    *fakeAdapter
	postgres *fakeAdapter
	audit    *captureAudit
	notifier *captureNotifier
	plans    *fakePlanRepo
}

func newInstanceFixture(t *testing.T) *instanceFixture {
	t.Helper()
	repo := newFakeInstanceRepo()
	plans := &fakePlanRepo{}
	mysqlAdapter := &fakeAdapter{engineType: domain.EngineMySQL}
	pgAdapter := &fakeAdapter{engineType: domain.EnginePostgreSQL}
	mariadbAdapter := &fakeAdapter{engineType: domain.EngineMariaDB}
	redisAdapter := &fakeAdapter{engineType: domain.EngineRedis, probeOnly: true}
	registry := &fakeRegistry{adapters: map[domain.EngineType]*fakeAdapter{
		domain.EngineMySQL:      mysqlAdapter,
		domain.EnginePostgreSQL: pgAdapter,
		domain.EngineMariaDB:    mariadbAdapter,
		domain.EngineRedis:      redisAdapter,
	}}
	auditLog := &captureAudit{}
	notifier := &captureNotifier{}
	logger := testLogger()

	quota := NewQuotaService(plans, repo, logger)
	svc := NewInstanceService(repo, newFakeEngineRepo(), quota, registry,
		&fakeEncryptor{}, domain.NewValidator(), auditLog, notifier, logger)

	return &instanceFixture{
		svc:      svc,
		repo:     repo,
		mysql:    mysqlAdapter,
		postgres: pgAdapter,
		audit:    auditLog,
		notifier: notifier,
		plans:    plans,
	}
}

func TestCreate_ProvisionsAndActivates(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	view, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	assert.Equal(t, "active", view.Status)
	assert.Equal(t, "mysql", view.Engine)
	assert.Equal(t, 3306, view.Port)
	assert.Equal(t, "db.internal", view.ServerAddress)
	assert.NotEmpty(t, view.ConnectionString, "plaintext credentials are handed out on create")
	assert.True(t, strings.HasPrefix(view.DatabaseName, "mysql_"))
	assert.Len(t, fx.mysql.created, 1)
	assert.Contains(t, fx.audit.actions(), "instance.create")
	assert.Contains(t, fx.notifier.names(), "created")
}

func TestCreate_CustomNameValidated(t *testing.T) {
	fx := newInstanceFixture(t)

	_, err := fx.svc.Create(context.Background(), uuid.New(), mysqlEngineID, "users; DROP TABLE x")
	require.Error(t, err)
	assert.Equal(t, domain.KindSecurityRejected, domain.KindOf(err))
	assert.Empty(t, fx.mysql.created, "nothing reaches the engine on a rejected name")
}

func TestCreate_InactiveEngineRejected(t *testing.T) {
	fx := newInstanceFixture(t)

	_, err := fx.svc.Create(context.Background(), uuid.New(), 4, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
}

func TestCreate_ProbeOnlyEngineRejectedBeforeReserve(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	_, err := fx.svc.Create(context.Background(), owner, redisEngineID, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
	assert.Contains(t, err.Error(), "does not support provisioning")

	// The rejection happens before any state mutation: no reserved or
	// failed row, no audit entry, no lifecycle event.
	assert.Empty(t, fx.repo.instances)
	assert.Empty(t, fx.audit.actions())
	assert.Empty(t, fx.notifier.names())
}

func TestCreate_PerEngineQuota(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, fmt.Sprintf("app_db_%d", i))
		require.NoError(t, err)
	}

	_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "app_db_2")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Contains(t, err.Error(), "current=2, max=2")
}

func TestCreate_QuotaIsPerEngine(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, fmt.Sprintf("shop_db_%d", i))
		require.NoError(t, err)
	}

	// The MySQL cap does not block a PostgreSQL create.
	_, err := fx.svc.Create(context.Background(), owner, postgresEngineID, "")
	require.NoError(t, err)
}

func TestCreate_GlobalQuotaForFreeTier(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	// 2 mysql + 2 postgres + 1 mariadb = 5, the free-tier global cap.
	for i, engineID := range []int32{mysqlEngineID, mysqlEngineID, postgresEngineID, postgresEngineID, mariadbEngineID} {
		_, err := fx.svc.Create(context.Background(), owner, engineID, fmt.Sprintf("tier_db_%d", i))
		require.NoError(t, err)
	}

	_, err := fx.svc.Create(context.Background(), owner, mariadbEngineID, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Contains(t, err.Error(), "global instance quota")
}

func TestCreate_PaidPlanSkipsGlobalCap(t *testing.T) {
	fx := newInstanceFixture(t)
	fx.plans.plan = &domain.Plan{ID: 2, Name: "team", MaxPerEngine: 3, MaxGlobal: 5, Paid: true}
	owner := uuid.New()

	for i, engineID := range []int32{mysqlEngineID, mysqlEngineID, mysqlEngineID, postgresEngineID, postgresEngineID, mariadbEngineID} {
		_, err := fx.svc.Create(context.Background(), owner, engineID, fmt.Sprintf("paid_db_%d", i))
		require.NoError(t, err, "paid plan has no global cap")
	}
}

func TestCreate_QuotaIsPerOwner(t *testing.T) {
	fx := newInstanceFixture(t)

	for i := 0; i < 2; i++ {
		_, err := fx.svc.Create(context.Background(), uuid.New(), mysqlEngineID, "")
		require.NoError(t, err)
	}

	// A different owner still has a full quota.
	_, err := fx.svc.Create(context.Background(), uuid.New(), mysqlEngineID, "")
	require.NoError(t, err)
}

func TestCreate_PhysicalFailureEscalates(t *testing.T) {
	fx := newInstanceFixture(t)
	fx.mysql.createErr = errors.New("host exploded")
	owner := uuid.New()

	_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.Error(t, err)

	// The reserved row is flipped to Failed, freeing the quota slot.
	perEngine, _, err := fx.repo.CountActive(context.Background(), owner, mysqlEngineID)
	require.NoError(t, err)
	assert.Equal(t, 0, perEngine)
	assert.Contains(t, fx.audit.actions(), "instance.provisioning_failed")
	assert.Contains(t, fx.notifier.names(), "provisioning_failed")
}

func TestLifecycle_DeactivateActivate(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	view, err := fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "inactive", view.Status)

	view, err = fx.svc.Activate(context.Background(), created.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "active", view.Status)
}

func TestDeactivate_AlreadyInactive(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	_, err = fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.NoError(t, err)

	_, err = fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
}

func TestActivate_BlockedByQuota(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	first, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)
	_, err = fx.svc.Deactivate(context.Background(), first.ID, owner)
	require.NoError(t, err)

	// Fill the freed slot plus the second one.
	for i := 0; i < 2; i++ {
		_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, fmt.Sprintf("backlog_db_%d", i))
		require.NoError(t, err)
	}

	_, err = fx.svc.Activate(context.Background(), first.ID, owner)
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestDelete_RequiresDeactivation(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	err = fx.svc.Delete(context.Background(), created.ID, owner)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
	assert.Contains(t, err.Error(), "deactivate")
	assert.Empty(t, fx.mysql.deleted, "no physical drop on a rejected delete")
}

func TestDelete_InactiveSucceedsAndIsTerminal(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)
	_, err = fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Delete(context.Background(), created.ID, owner))
	assert.Len(t, fx.mysql.deleted, 1)

	// Deleted is terminal: a second delete fails, as does reactivation.
	err = fx.svc.Delete(context.Background(), created.ID, owner)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	_, err = fx.svc.Activate(context.Background(), created.ID, owner)
	require.Error(t, err)
}

func TestDelete_FailedReservationReleasesName(t *testing.T) {
	fx := newInstanceFixture(t)
	fx.mysql.createErr = errors.New("engine down")
	owner := uuid.New()

	_, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "stuck_db")
	require.Error(t, err)

	var failedID uuid.UUID
	for id, inst := range fx.repo.instances {
		if inst.Status == domain.StatusFailed {
			failedID = id
		}
	}
	require.NotEqual(t, uuid.Nil, failedID, "provisioning failure leaves a failed row")

	require.NoError(t, fx.svc.Delete(context.Background(), failedID, owner))
	assert.Equal(t, domain.StatusDeleted, fx.repo.instances[failedID].Status)

	// The name is free again once the failed row is deleted.
	fx.mysql.createErr = nil
	_, err = fx.svc.Create(context.Background(), owner, mysqlEngineID, "stuck_db")
	require.NoError(t, err)
}

func TestDelete_PhysicalFailureKeepsState(t *testing.T) {
	fx := newInstanceFixture(t)
	fx.mysql.deleteErr = errors.New("engine down")
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)
	_, err = fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.NoError(t, err)

	err = fx.svc.Delete(context.Background(), created.ID, owner)
	require.Error(t, err)

	// Still inactive, not deleted: the record only flips after the
	// physical drop succeeds.
	view, err := fx.svc.Get(context.Background(), created.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "inactive", view.Status)
}

func TestRotateCredentials_ReplacesUserAndPassword(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	view, password, err := fx.svc.RotateCredentials(context.Background(), created.ID, owner)
	require.NoError(t, err)

	assert.NotEqual(t, created.DatabaseUser, view.DatabaseUser)
	assert.Len(t, password, 16)
	assert.NotEmpty(t, view.ConnectionString)
	assert.Len(t, fx.mysql.rotated, 1)
	assert.Contains(t, fx.audit.actions(), "instance.rotate_credentials")
	assert.Contains(t, fx.notifier.names(), "credentials_rotated")
}

func TestRotateCredentials_InactiveRejected(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)
	_, err = fx.svc.Deactivate(context.Background(), created.ID, owner)
	require.NoError(t, err)

	_, _, err = fx.svc.RotateCredentials(context.Background(), created.ID, owner)
	require.Error(t, err)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
	assert.Empty(t, fx.mysql.rotated)
}

func TestOwnership_Enforced(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	created, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = fx.svc.Get(context.Background(), created.ID, stranger)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	err = fx.svc.Delete(context.Background(), created.ID, stranger)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, _, err = fx.svc.RotateCredentials(context.Background(), created.ID, stranger)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
}

func TestList_ExcludesDeleted(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	first, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)
	_, err = fx.svc.Create(context.Background(), owner, postgresEngineID, "")
	require.NoError(t, err)

	_, err = fx.svc.Deactivate(context.Background(), first.ID, owner)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Delete(context.Background(), first.ID, owner))

	views, err := fx.svc.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "postgresql", views[0].Engine)
}

func TestCreate_PasswordNeverStoredPlaintext(t *testing.T) {
	fx := newInstanceFixture(t)
	owner := uuid.New()

	view, err := fx.svc.Create(context.Background(), owner, mysqlEngineID, "")
	require.NoError(t, err)

	stored, err := fx.repo.GetByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(stored.EncryptedPassword), "enc:"),
		"stored password must be the encryptor's output")
	assert.NotContains(t, view.ConnectionString, string(stored.EncryptedPassword))
}

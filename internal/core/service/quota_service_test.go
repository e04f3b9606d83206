package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

func seedInstance(repo *fakeInstanceRepo, ownerID uuid.UUID, engineID int32, status domain.InstanceStatus, age time.Duration) uuid.UUID {
	id := uuid.New()
	repo.instances[id] = &domain.DatabaseInstance{
		ID:           id,
		OwnerID:      ownerID,
		EngineID:     engineID,
		DatabaseName: "db_" + id.String()[:8],
		Status:       status,
		CreatedAt:    time.Now().Add(-age),
	}
	return id
}

func TestResolvePlan_FreeTierFallback(t *testing.T) {
	svc := NewQuotaService(&fakePlanRepo{}, newFakeInstanceRepo(), testLogger())

	plan := svc.ResolvePlan(context.Background(), uuid.New())
	assert.Equal(t, domain.FreePlan, plan)
}

func TestResolvePlan_LookupFailureFallsBack(t *testing.T) {
	svc := NewQuotaService(&fakePlanRepo{err: assert.AnError}, newFakeInstanceRepo(), testLogger())

	plan := svc.ResolvePlan(context.Background(), uuid.New())
	assert.Equal(t, domain.FreePlan, plan, "a broken plan lookup must not grant unlimited quota")
}

func TestResolvePlan_ExpiredPlanFallsBack(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	svc := NewQuotaService(&fakePlanRepo{
		plan: &domain.Plan{Name: "team", MaxPerEngine: 20, MaxGlobal: 100, Paid: true, ExpiresAt: &expired},
	}, newFakeInstanceRepo(), testLogger())

	plan := svc.ResolvePlan(context.Background(), uuid.New())
	assert.Equal(t, domain.FreePlan, plan)
}

func TestCanCreate_CountsProvisioningRows(t *testing.T) {
	repo := newFakeInstanceRepo()
	owner := uuid.New()
	seedInstance(repo, owner, 1, domain.StatusActive, time.Hour)
	seedInstance(repo, owner, 1, domain.StatusProvisioning, time.Minute)

	svc := NewQuotaService(&fakePlanRepo{}, repo, testLogger())
	d, err := svc.CanCreate(context.Background(), owner, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "a reserved row occupies a slot before it is active")
	assert.Equal(t, 2, d.Current)
	assert.Equal(t, 2, d.Max)
}

func TestCanCreate_IgnoresInactiveAndFailed(t *testing.T) {
	repo := newFakeInstanceRepo()
	owner := uuid.New()
	seedInstance(repo, owner, 1, domain.StatusInactive, time.Hour)
	seedInstance(repo, owner, 1, domain.StatusFailed, time.Hour)
	seedInstance(repo, owner, 1, domain.StatusDeleted, time.Hour)

	svc := NewQuotaService(&fakePlanRepo{}, repo, testLogger())
	d, err := svc.CanCreate(context.Background(), owner, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Current)
}

func TestCheckFunc_ConflictCarriesCounts(t *testing.T) {
	svc := NewQuotaService(&fakePlanRepo{}, newFakeInstanceRepo(), testLogger())

	err := svc.CheckFunc(domain.FreePlan)(2, 2)
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Contains(t, err.Error(), "current=2, max=2")
}

func TestEnforcePlanLimits_DeactivatesNewestFirst(t *testing.T) {
	repo := newFakeInstanceRepo()
	owner := uuid.New()
	oldest := seedInstance(repo, owner, 1, domain.StatusActive, 3*time.Hour)
	middle := seedInstance(repo, owner, 1, domain.StatusActive, 2*time.Hour)
	newest := seedInstance(repo, owner, 1, domain.StatusActive, time.Hour)

	svc := NewQuotaService(&fakePlanRepo{}, repo, testLogger())
	require.NoError(t, svc.EnforcePlanLimits(context.Background(), owner))

	assert.Equal(t, domain.StatusActive, repo.instances[oldest].Status, "oldest survives")
	assert.Equal(t, domain.StatusActive, repo.instances[middle].Status)
	assert.Equal(t, domain.StatusInactive, repo.instances[newest].Status, "newest excess is deactivated")
}

func TestEnforcePlanLimits_GlobalCapAfterPerEngine(t *testing.T) {
	repo := newFakeInstanceRepo()
	owner := uuid.New()
	// Two per engine on three engines: per-engine caps hold, global (5) does not.
	for engineID := int32(1); engineID <= 3; engineID++ {
		seedInstance(repo, owner, engineID, domain.StatusActive, time.Duration(engineID)*time.Hour)
		seedInstance(repo, owner, engineID, domain.StatusActive, time.Duration(engineID)*time.Minute)
	}

	svc := NewQuotaService(&fakePlanRepo{}, repo, testLogger())
	require.NoError(t, svc.EnforcePlanLimits(context.Background(), owner))

	active := 0
	for _, inst := range repo.instances {
		if inst.Status == domain.StatusActive {
			active++
		}
	}
	assert.Equal(t, 5, active)
}

func TestEnforcePlanLimits_PaidPlanSkipsGlobal(t *testing.T) {
	repo := newFakeInstanceRepo()
	owner := uuid.New()
	for engineID := int32(1); engineID <= 3; engineID++ {
		seedInstance(repo, owner, engineID, domain.StatusActive, time.Hour)
		seedInstance(repo, owner, engineID, domain.StatusActive, time.Minute)
	}

	svc := NewQuotaService(&fakePlanRepo{
		plan: &domain.Plan{Name: "team", MaxPerEngine: 5, MaxGlobal: 5, Paid: true},
	}, repo, testLogger())
	require.NoError(t, svc.EnforcePlanLimits(context.Background(), owner))

	for _, inst := range repo.instances {
		assert.Equal(t, domain.StatusActive, inst.Status)
	}
}

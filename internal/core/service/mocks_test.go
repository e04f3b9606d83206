package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- in-memory InstanceRepository ---

// fakeInstanceRepo is a mutex-serialized in-memory repository. Serializing
// the reserve path gives it the same observable behavior as the SERIALIZABLE
// transaction in the real store.
type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*domain.DatabaseInstance

	reserveErr error
	updateErr  error
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{instances: make(map[uuid.UUID]*domain.DatabaseInstance)}
}

func (f *fakeInstanceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "instance not found")
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeInstanceRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]domain.DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DatabaseInstance
	for _, inst := range f.instances {
		if inst.OwnerID == ownerID && inst.Status != domain.StatusDeleted {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (f *fakeInstanceRepo) ReserveInstance(_ context.Context, inst *domain.DatabaseInstance, check port.QuotaCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	perEngine, global := f.countLocked(inst.OwnerID, inst.EngineID)
	if err := check(perEngine, global); err != nil {
		return err
	}
	for _, existing := range f.instances {
		if existing.DatabaseName == inst.DatabaseName && existing.Status != domain.StatusDeleted {
			return domain.Ef(domain.KindConflict, "database name %q is already in use", inst.DatabaseName)
		}
	}
	cp := *inst
	f.instances[inst.ID] = &cp
	return nil
}

func (f *fakeInstanceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.InstanceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	inst, ok := f.instances[id]
	if !ok {
		return domain.E(domain.KindNotFound, "instance not found")
	}
	inst.Status = status
	return nil
}

func (f *fakeInstanceRepo) UpdateCredentials(_ context.Context, id uuid.UUID, user string, encrypted []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return domain.E(domain.KindNotFound, "instance not found")
	}
	inst.DatabaseUser = user
	inst.EncryptedPassword = encrypted
	return nil
}

func (f *fakeInstanceRepo) CountActive(_ context.Context, ownerID uuid.UUID, engineID int32) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perEngine, global := f.countLocked(ownerID, engineID)
	return perEngine, global, nil
}

func (f *fakeInstanceRepo) ActivateInstance(_ context.Context, id uuid.UUID, check port.QuotaCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok || inst.Status != domain.StatusInactive {
		return domain.E(domain.KindBadRequest, "instance is not inactive")
	}
	perEngine, global := f.countLocked(inst.OwnerID, inst.EngineID)
	if err := check(perEngine, global); err != nil {
		return err
	}
	inst.Status = domain.StatusActive
	return nil
}

func (f *fakeInstanceRepo) ListExcess(_ context.Context, ownerID uuid.UUID, engineID *int32) ([]domain.DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DatabaseInstance
	for _, inst := range f.instances {
		if inst.OwnerID != ownerID || !inst.Status.CountsTowardQuota() {
			continue
		}
		if engineID != nil && inst.EngineID != *engineID {
			continue
		}
		out = append(out, *inst)
	}
	// Newest first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeInstanceRepo) countLocked(ownerID uuid.UUID, engineID int32) (perEngine, global int) {
	for _, inst := range f.instances {
		if inst.OwnerID != ownerID || !inst.Status.CountsTowardQuota() {
			continue
		}
		global++
		if inst.EngineID == engineID {
			perEngine++
		}
	}
	return perEngine, global
}

// --- engine catalog ---

type fakeEngineRepo struct {
	engines map[int32]domain.Engine
}

func newFakeEngineRepo() *fakeEngineRepo {
	return &fakeEngineRepo{engines: map[int32]domain.Engine{
		1: {ID: 1, Type: domain.EngineMySQL, DefaultPort: 3306, Active: true},
		2: {ID: 2, Type: domain.EnginePostgreSQL, DefaultPort: 5432, Active: true},
		3: {ID: 3, Type: domain.EngineRedis, DefaultPort: 6379, Active: true},
		4: {ID: 4, Type: domain.EngineSQLServer, DefaultPort: 1433, Active: false},
		5: {ID: 5, Type: domain.EngineMariaDB, DefaultPort: 3306, Active: true},
	}}
}

func (f *fakeEngineRepo) GetByID(_ context.Context, id int32) (*domain.Engine, error) {
	eng, ok := f.engines[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "engine %d not found", id)
	}
	return &eng, nil
}

func (f *fakeEngineRepo) List(context.Context) ([]domain.Engine, error) {
	var out []domain.Engine
	for _, eng := range f.engines {
		out = append(out, eng)
	}
	return out, nil
}

// --- plans ---

type fakePlanRepo struct {
	plan *domain.Plan
	err  error
}

func (f *fakePlanRepo) GetActivePlan(context.Context, uuid.UUID) (*domain.Plan, error) {
	return f.plan, f.err
}

// --- engine adapter ---

type fakeAdapter struct {
	engineType domain.EngineType
	probeOnly  bool

	mu          sync.Mutex
	created     []string
	deleted     []string
	rotated     []string
	createErr   error
	deleteErr   error
	rotateErr   error
	executor    port.QueryExecutor
	executorErr error
	inspector   port.Inspector
	reachable   bool
}

func (f *fakeAdapter) Type() domain.EngineType { return f.engineType }

func (f *fakeAdapter) Address() string { return "db.internal" }

func (f *fakeAdapter) SupportsProvisioning() bool { return !f.probeOnly }

func (f *fakeAdapter) CreatePhysicalDatabase(_ context.Context, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeAdapter) DeletePhysicalDatabase(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeAdapter) UpdateCredentials(_ context.Context, name, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return f.rotateErr
	}
	f.rotated = append(f.rotated, name)
	return nil
}

func (f *fakeAdapter) ValidateConnection(context.Context, *domain.DatabaseInstance) bool {
	return f.reachable
}

func (f *fakeAdapter) Executor(*domain.DatabaseInstance) (port.QueryExecutor, error) {
	if f.executorErr != nil {
		return nil, f.executorErr
	}
	return f.executor, nil
}

func (f *fakeAdapter) Inspector(*domain.DatabaseInstance) (port.Inspector, error) {
	return f.inspector, nil
}

func (f *fakeAdapter) ConnectionString(inst *domain.DatabaseInstance, password string) string {
	return string(f.engineType) + "://" + inst.DatabaseUser + ":" + password + "@db.internal"
}

type fakeRegistry struct {
	adapters map[domain.EngineType]*fakeAdapter
}

func (f *fakeRegistry) Adapter(engine domain.EngineType) (port.EngineAdapter, error) {
	a, ok := f.adapters[engine]
	if !ok {
		return nil, domain.Ef(domain.KindBadRequest, "engine %q is not supported", engine)
	}
	return a, nil
}

// --- encryptor ---

type fakeEncryptor struct {
	encryptErr error
}

func (f *fakeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	return append([]byte("enc:"), plaintext...), nil
}

func (f *fakeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	return ciphertext[4:], nil
}

// --- audit and notifications ---

type captureAudit struct {
	mu      sync.Mutex
	entries []port.AuditEntry
}

func (c *captureAudit) Log(entry port.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAudit) Close() {}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Action
	}
	return out
}

type captureNotifier struct {
	mu     sync.Mutex
	events []port.LifecycleEvent
}

func (c *captureNotifier) Notify(_ context.Context, event port.LifecycleEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureNotifier) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Event
	}
	return out
}

// --- executor and inspector ---

type fakeExecutor struct {
	result  *port.QueryResult
	err     error
	queries []string
}

func (f *fakeExecutor) ExecuteSafeQuery(_ context.Context, sql string) (*port.QueryResult, error) {
	f.queries = append(f.queries, sql)
	return f.result, f.err
}

func (f *fakeExecutor) ExecuteSelectQuery(_ context.Context, sql string, _ ...any) (*port.QueryResult, error) {
	return f.result, f.err
}

func (f *fakeExecutor) ExecuteNonQuery(_ context.Context, sql string, _ ...any) (*port.QueryResult, error) {
	return f.result, f.err
}

func (f *fakeExecutor) ExecuteScalar(context.Context, string, ...any) (any, error) {
	return nil, f.err
}

type fakeInspector struct {
	tables    *port.QueryResult
	columns   *port.QueryResult
	indexes   *port.QueryResult
	info      *port.QueryResult
	processes *port.QueryResult
	data      *port.QueryResult
	killErr   error
	killed    []int64
	dataLimit int
}

func (f *fakeInspector) ListTables(context.Context) (*port.QueryResult, error) {
	return f.tables, nil
}

func (f *fakeInspector) TableColumns(context.Context, string) (*port.QueryResult, error) {
	return f.columns, nil
}

func (f *fakeInspector) TableIndexes(context.Context, string) (*port.QueryResult, error) {
	return f.indexes, nil
}

func (f *fakeInspector) DatabaseInfo(context.Context) (*port.QueryResult, error) {
	return f.info, nil
}

func (f *fakeInspector) ListProcesses(context.Context) (*port.QueryResult, error) {
	return f.processes, nil
}

func (f *fakeInspector) TableData(_ context.Context, _ string, limit int) (*port.QueryResult, error) {
	f.dataLimit = limit
	return f.data, nil
}

func (f *fakeInspector) KillProcess(_ context.Context, pid int64) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, pid)
	return nil
}

// Package engine wires the per-engine adapters behind a single registry.
// MySQL (also serving MariaDB), PostgreSQL and SQL Server carry the full
// capability set; Redis, MongoDB and Cassandra are liveness-probe-only and
// report ErrEngineUnsupported for everything else.
package engine

import (
	"time"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// HostConfig locates the shared physical host for one engine type and the
// administrative credentials the platform uses to provision on it. Built
// from configuration at process start, read-only thereafter.
type HostConfig struct {
	Host           string
	Port           int
	AdminUser      string
	AdminPassword  string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRows        int
}

// Registry selects the adapter for an engine type.
type Registry struct {
	adapters map[domain.EngineType]port.EngineAdapter
}

func NewRegistry(adapters ...port.EngineAdapter) *Registry {
	m := make(map[domain.EngineType]port.EngineAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	// MariaDB speaks the MySQL protocol; one adapter serves both.
	if mysql, ok := m[domain.EngineMySQL]; ok {
		if _, present := m[domain.EngineMariaDB]; !present {
			m[domain.EngineMariaDB] = mysql
		}
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for the engine type, or BadRequest when the
// platform has no adapter configured for it.
func (r *Registry) Adapter(engine domain.EngineType) (port.EngineAdapter, error) {
	a, ok := r.adapters[engine]
	if !ok {
		return nil, domain.Ef(domain.KindBadRequest, "engine %q is not supported", engine)
	}
	return a, nil
}

// Unsupported is returned by probe-only adapters for capabilities beyond
// connection validation.
func Unsupported(engine domain.EngineType, capability string) error {
	return domain.Ef(domain.KindBadRequest, "engine %q does not support %s", engine, capability)
}

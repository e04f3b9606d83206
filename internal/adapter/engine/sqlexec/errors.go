package sqlexec

import (
	"context"
	"errors"
	"net"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

// The three user-facing connectivity categories. Raw driver errors are
// wrapped as the cause but never rendered to callers.

func Unreachable(err error) error {
	return domain.Wrap(domain.KindUpstreamUnavailable, "database host unreachable", err)
}

func AccessDenied(err error) error {
	return domain.Wrap(domain.KindUpstreamUnavailable, "access denied by database engine", err)
}

func UnknownDatabase(err error) error {
	return domain.Wrap(domain.KindUpstreamUnavailable, "unknown database", err)
}

func Generic(err error) error {
	return domain.Wrap(domain.KindUpstreamUnavailable, "database connectivity failure", err)
}

// TranslateCommon handles the driver-independent cases: network failures
// and timeouts. Returns nil when the error needs engine-specific handling.
func TranslateCommon(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.Wrap(domain.KindUpstreamUnavailable, "database operation timed out", err)
		}
		return Unreachable(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Unreachable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindUpstreamUnavailable, "database operation timed out", err)
	}
	return nil
}

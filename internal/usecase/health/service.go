package health

import (
	"context"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckStale indicates a peer whose manifest heartbeat lapsed (advisory).
	CheckStale CheckResult = "stale"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// DBPinger checks storage connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ManifestReader reads the coordination snapshot for peer staleness checks.
type ManifestReader interface {
	Snapshot(ctx context.Context) (domain.ManifestSnapshot, error)
}

// Service coordinates health checks. A stale peer degrades the report but
// never fails it; only storage loss is unhealthy.
type Service struct {
	db       DBPinger
	manifest ManifestReader
	self     string
}

// New creates a Service. manifest can be nil (no peer check).
func New(db DBPinger, manifest ManifestReader, self string) *Service {
	return &Service{db: db, manifest: manifest, self: self}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	if s.manifest != nil {
		checks["peer"] = s.checkPeer(ctx)
	}

	return Report{Status: aggregate(checks), Checks: checks}
}

func (s *Service) checkPeer(ctx context.Context) CheckResult {
	snap, err := s.manifest.Snapshot(ctx)
	if err != nil {
		return CheckError
	}
	// No peer published yet means nothing to judge.
	for id, st := range snap.Agents {
		if id == s.self {
			continue
		}
		if st.Stale {
			return CheckStale
		}
	}
	return CheckOK
}

func aggregate(checks map[string]CheckResult) Status {
	if checks["database"] == CheckError {
		return Unhealthy
	}
	for _, r := range checks {
		if r != CheckOK {
			return Degraded
		}
	}
	return Healthy
}

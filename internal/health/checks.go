package health

import (
	"context"
	"fmt"

	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/stream"
)

// ScoringProber probes the scoring service.
type ScoringProber interface {
	Health(ctx context.Context) (*scoring.HealthStatus, error)
}

// ScoringService reports whether the scoring service answers its /health.
func ScoringService(p ScoringProber) Checker {
	return func(ctx context.Context) Status {
		hs, err := p.Health(ctx)
		if err != nil {
			return Status{Name: "scoring", Healthy: false, Detail: err.Error()}
		}
		if hs.Status != "ok" {
			return Status{Name: "scoring", Healthy: false, Detail: "status " + hs.Status}
		}
		return Status{Name: "scoring", Healthy: true, Detail: fmt.Sprintf("threshold %.2f", hs.Threshold)}
	}
}

// Snapshotter exposes the stream state.
type Snapshotter interface {
	Snapshot() stream.Snapshot
}

// Stream reports the scheduler state. A stopped stream is healthy; the
// detail carries the counters.
func Stream(s Snapshotter) Checker {
	return func(_ context.Context) Status {
		snap := s.Snapshot()
		return Status{
			Name:    "stream",
			Healthy: true,
			Detail: fmt.Sprintf("%s, %d evaluated, %d failed, %d in flight",
				snap.State, snap.Evaluated, snap.Failed, snap.InFlight),
		}
	}
}

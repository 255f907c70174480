// Package health polls a fixed set of named subsystems and keeps the most
// recent classification for each. Only the latest result per probe is
// retained; history is the job of logs and metrics.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Statuses, ordered by severity.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// A Probe checks one subsystem. Check must respect the context deadline;
// the monitor enforces a timeout around every call, so a probe that blocks
// is classified unhealthy rather than stalling the sweep.
type Probe interface {
	Name() string
	Check(ctx context.Context) (status string, details map[string]string, err error)
}

// Check is a point-in-time classification of one subsystem.
type Check struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	CheckedAt time.Time         `json:"checked_at"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Monitor runs probes and stores their latest results. The scheduler
// drives Sweep on a fixed interval; callers read through Snapshot.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check

	probes  []Probe
	timeout time.Duration
	logger  *zap.Logger
}

func NewMonitor(probes []Probe, timeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		checks:  make(map[string]Check, len(probes)),
		probes:  probes,
		timeout: timeout,
		logger:  logger.Named("health"),
	}
}

// Sweep runs every probe once, sequentially, and overwrites the stored
// results. Probes are few and cheap; sequential keeps per-probe latency
// measurements honest.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, p := range m.probes {
		check := m.run(ctx, p)

		m.mu.Lock()
		m.checks[check.Service] = check
		m.mu.Unlock()

		if check.Status != StatusHealthy {
			m.logger.Warn("probe unhealthy",
				zap.String("service", check.Service),
				zap.String("status", check.Status),
				zap.String("error", check.Error))
		}
	}
}

// run executes one probe with the configured timeout. The deadline is
// hard: the probe body runs on its own goroutine and a probe that ignores
// its context is abandoned and classified unhealthy when the deadline
// passes, rather than stalling the sweep. A panicking probe is recovered
// and classified unhealthy.
func (m *Monitor) run(ctx context.Context, p Probe) Check {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	check := Check{Service: p.Name(), CheckedAt: start}

	done := make(chan Check, 1)
	go func() {
		var inner Check
		defer func() {
			if r := recover(); r != nil {
				inner.Status = StatusUnhealthy
				inner.Error = fmt.Sprintf("probe panicked: %v", r)
			}
			done <- inner
		}()

		status, details, err := p.Check(ctx)
		inner.Details = details
		if err != nil {
			inner.Status = StatusUnhealthy
			inner.Error = err.Error()
			return
		}
		if status == "" {
			status = StatusHealthy
		}
		inner.Status = status
	}()

	select {
	case inner := <-done:
		check.Status = inner.Status
		check.Details = inner.Details
		check.Error = inner.Error
	case <-ctx.Done():
		check.Status = StatusUnhealthy
		check.Error = "timeout"
	}
	check.Latency = time.Since(start)
	return check
}

// Snapshot returns a copy of the latest result for every probe. Probes not
// yet swept are absent from the map.
func (m *Monitor) Snapshot() map[string]Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Check, len(m.checks))
	for name, c := range m.checks {
		out[name] = c
	}
	return out
}

// Status returns an overall classification: unhealthy if any probe is
// unhealthy, degraded if any probe is degraded, healthy otherwise. A
// monitor that has never swept reports degraded because nothing is known.
func (m *Monitor) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return StatusDegraded
	}
	overall := StatusHealthy
	for _, c := range m.checks {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

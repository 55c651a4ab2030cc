/*
scheduler.go - Periodic digest of undelivered notifications

PURPOSE:
  Failed deliveries sit in the notification ledger until an operator
  resends or clears them. The digest job counts what is outstanding per
  region, publishes it as a Prometheus gauge, and logs a warning so the
  backlog is visible without anyone opening the failures screen.

DESIGN:
  - robfig/cron drives the job; the schedule is a cron spec or descriptor
    ("@every 15m", "0 9 * * *")
  - Runs once immediately on Start so the gauge is populated at boot
  - Read-only: the digest never resends or deletes anything

CONFIGURATION:
  - Spec:    FAILURE_DIGEST_CRON (default "@every 15m"); empty disables
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewFailureDigestScheduler(ledger, metrics, logger, "@every 15m")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - notification/ledger.go: ListFailures
  - metrics/metrics.go: SetOutstandingFailures
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/metrics"
	"github.com/rayalaseema/regengine/notification"
)

const digestTimeout = time.Minute

// Digest summarizes outstanding delivery failures.
type Digest struct {
	Total    int
	ByRegion map[string]int
	Oldest   time.Time // zero when nothing is outstanding
}

// FailureDigestScheduler periodically publishes the failure backlog.
type FailureDigestScheduler struct {
	Ledger  *notification.Ledger
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Spec    string
	Enabled bool

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewFailureDigestScheduler creates a new scheduler.
func NewFailureDigestScheduler(ledger *notification.Ledger, m *metrics.Metrics, logger *zap.Logger, spec string) *FailureDigestScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailureDigestScheduler{
		Ledger:  ledger,
		Metrics: m,
		Logger:  logger,
		Spec:    spec,
		Enabled: spec != "",
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the digest job and begins the scheduler. An invalid
// spec is returned as an error and nothing is started.
func (s *FailureDigestScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("failure digest disabled, not starting")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.Spec, s.run); err != nil {
		return fmt.Errorf("schedule failure digest %q: %w", s.Spec, err)
	}

	// Run immediately on start
	s.run()

	s.cron.Start()
	s.running = true
	s.Logger.Info("failure digest started", zap.String("spec", s.Spec))
	return nil
}

// Stop stops the scheduler and waits for a running digest to finish.
func (s *FailureDigestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.Logger.Info("failure digest stopped")
}

func (s *FailureDigestScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), digestTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.Logger.Error("failure digest failed", zap.Error(err))
	}
}

// RunOnce computes the digest, updates the gauge and logs the backlog.
func (s *FailureDigestScheduler) RunOnce(ctx context.Context) (Digest, error) {
	failures, err := s.Ledger.ListFailures(ctx, notification.Filter{})
	if err != nil {
		return Digest{}, fmt.Errorf("list delivery failures: %w", err)
	}

	d := Digest{ByRegion: map[string]int{}}
	for _, f := range failures {
		region := f.Region
		if region == "" {
			region = "unknown"
		}
		d.ByRegion[region]++
		d.Total++
		if d.Oldest.IsZero() || f.CreatedAt.Before(d.Oldest) {
			d.Oldest = f.CreatedAt
		}
	}

	s.Metrics.SetOutstandingFailures(d.ByRegion)

	if d.Total == 0 {
		s.Logger.Debug("no outstanding delivery failures")
		return d, nil
	}
	fields := []zap.Field{
		zap.Int("total", d.Total),
		zap.Time("oldest", d.Oldest),
	}
	for region, n := range d.ByRegion {
		fields = append(fields, zap.Int("region_"+region, n))
	}
	s.Logger.Warn("outstanding delivery failures", fields...)
	return d, nil
}

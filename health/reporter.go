package health

import (
	"fmt"
	"sync"

	"github.com/invdash/backend/logging"
	"github.com/invdash/backend/postgres"
	"github.com/robfig/cron/v3"
)

// StatsSource is the part of the connection manager the reporter reads.
type StatsSource interface {
	Stats() (*postgres.PoolStats, error)
}

// StatsReporter logs connection pool usage on a cron schedule.
type StatsReporter struct {
	source   StatsSource
	logger   logging.Logger
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewStatsReporter validates schedule (standard cron syntax or descriptors
// such as "@every 5m") and returns a stopped reporter.
func NewStatsReporter(source StatsSource, schedule string, logger logging.Logger) (*StatsReporter, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	r := &StatsReporter{
		source:   source,
		logger:   logger.WithField("component", "pool_stats"),
		schedule: schedule,
		cron:     cron.New(),
	}

	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid pool stats schedule %q: %w", schedule, err)
	}

	return r, nil
}

// Start begins reporting in the background. It is a no-op if already started.
func (r *StatsReporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.cron.Start()
	r.running = true

	r.logger.WithField("schedule", r.schedule).Info("Pool stats reporter started")
}

// Stop halts the schedule and waits for a running report to finish.
func (r *StatsReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	<-r.cron.Stop().Done()
	r.running = false

	r.logger.Info("Pool stats reporter stopped")
}

// Report logs one snapshot of pool usage.
func (r *StatsReporter) Report() {
	stats, err := r.source.Stats()
	if err != nil {
		r.logger.Debugf("Pool stats unavailable: %v", err)
		return
	}

	r.logger.WithFields(map[string]any{
		"acquired_conns": stats.AcquiredConns,
		"idle_conns":     stats.IdleConns,
		"total_conns":    stats.TotalConns,
		"max_conns":      stats.MaxConns,
		"acquire_count":  stats.AcquireCount,
	}).Info("Postgres connection pool stats")
}

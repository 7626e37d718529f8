// Package janitor sweeps orphaned run directories out of the sandbox
// runs root. The sandbox removes its run directory on every exit path,
// so under normal operation there is nothing to sweep — the janitor
// exists for the crash case, where a dying gateway leaves directories
// behind.
//
// Core invariant: only entries carrying the sandbox run-dir prefix are
// ever touched. The runs root may be a shared temp directory; everything
// else in it belongs to someone else.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/sandbox"
)

// Janitor removes stale run directories on a cron schedule.
// It runs as a background goroutine in gateway mode.
type Janitor struct {
	runsRoot string
	maxAge   time.Duration
	schedule cron.Schedule
	metrics  *Metrics
	logger   *slog.Logger
}

// New creates a Janitor. The schedule comes from config and must be a
// valid five-field cron expression.
func New(runsRoot string, cfg *config.JanitorConfig, metrics *Metrics, logger *slog.Logger) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.CronSchedule(), err)
	}

	return &Janitor{
		runsRoot: runsRoot,
		maxAge:   cfg.MaxAge(),
		schedule: schedule,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
// One sweep runs immediately to clear leftovers from a previous crash.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.InfoContext(ctx, "janitor started",
			slog.String("runs_root", j.runsRoot),
			slog.Duration("max_age", j.maxAge),
		)

		j.sweepAndLog(ctx)

		for {
			next := j.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("janitor stopped")
				return
			case <-timer.C:
				j.sweepAndLog(ctx)
			}
		}
	}()

	return cancel
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	start := time.Now()
	removed, err := j.Sweep(ctx)

	if j.metrics != nil {
		j.metrics.SweepsTotal.Inc()
		j.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		j.metrics.DirsRemoved.Add(float64(removed))
	}

	if err != nil {
		j.logger.ErrorContext(ctx, "janitor sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "janitor removed orphaned run dirs",
			slog.Int("removed", removed),
		)
	}
}

// Sweep removes run directories older than the configured max age and
// returns how many were removed. Entries without the run-dir prefix are
// never touched; removal failures on individual entries are logged and
// skipped so one stuck directory cannot block the rest.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.runsRoot)
	if err != nil {
		return 0, fmt.Errorf("reading runs root %s: %w", j.runsRoot, err)
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sandbox.RunDirPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // Removed between ReadDir and Info.
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.runsRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("janitor failed to remove run dir",
				slog.String("dir", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	return removed, nil
}

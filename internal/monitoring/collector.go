package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of import health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsAborted   int     `json:"runs_aborted"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Row metrics aggregated across the window's run reports.
	RowsTotal    int     `json:"rows_total"`
	RowsCreated  int     `json:"rows_created"`
	RowsUpdated  int     `json:"rows_updated"`
	RowsSkipped  int     `json:"rows_skipped"`
	RowErrors    int     `json:"row_errors"`
	RowErrorRate float64 `json:"row_error_rate"`

	// Runs still marked running past the stale threshold. A crashed
	// process leaves its run in running forever; these need operator
	// attention.
	StaleRuns int `json:"stale_runs"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs       store.Store
	staleAfter time.Duration
}

// NewCollector creates a metrics collector. Runs older than staleAfter
// and still running are counted as stale.
func NewCollector(runs store.Store, staleAfter time.Duration) *Collector {
	return &Collector{runs: runs, staleAfter: staleAfter}
}

// Collect gathers a snapshot of import metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++

		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusAborted:
			snap.RunsAborted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if c.staleAfter > 0 && now.Sub(r.StartedAt) > c.staleAfter {
				snap.StaleRuns++
			}
		}

		if r.Report != nil {
			snap.RowsTotal += r.Report.Total
			snap.RowsCreated += r.Report.Created
			snap.RowsUpdated += r.Report.Updated
			snap.RowsSkipped += r.Report.Skipped
			snap.RowErrors += r.Report.Errors
		}
	}

	finished := snap.RunsCompleted + snap.RunsAborted + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RowsTotal > 0 {
		snap.RowErrorRate = float64(snap.RowErrors) / float64(snap.RowsTotal)
	}

	return snap, nil
}

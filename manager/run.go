package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrPartialFetch = errors.New("reports missing for some locations")

// Run executes fetch, select, update, re-fetch and count once. The returned
// error is non-nil only when the run could not go on: locations were
// unavailable, or a location failed under PolicyAbort. The summary is filled
// as far as the run got either way.
func (c *climate) Run(ctx context.Context) (summary Summary, err error) {
	start := c.clock.Now()
	summary = Summary{RunID: uuid.NewString(), DryRun: c.dryRun}

	c.logger.Info("run started", "run_id", summary.RunID, "dry_run", c.dryRun, "policy", string(c.policy))
	defer func() {
		summary.Duration = c.clock.Since(start)
		c.metrics.RunDuration.Set(summary.Duration.Seconds())
		c.metrics.LastRunTimestamp.Set(float64(c.clock.Now().Unix()))
	}()

	locations, err := c.FetchLocations(ctx)
	if err != nil {
		c.logger.Error("could not retrieve locations", "error", err)
		return summary, err
	}
	summary.Locations = len(locations)

	reports, failures := c.FetchAllReports(ctx, locations)
	summary.Fetched = len(reports)
	summary.LocationFailures = failures
	c.logger.Info("reports retrieved", "locations", len(locations), "reports", len(reports), "failed_locations", len(failures))

	if len(failures) > 0 {
		switch c.policy {
		case PolicyAbort:
			err = fmt.Errorf("%w: %d of %d locations", ErrPartialFetch, len(failures), len(locations))
			c.logger.Error("aborting run", "error", err)
			return summary, err
		case PolicyTolerate:
			c.logger.Warn("continuing without failed locations", "failed_locations", len(failures))
		}
	}

	selected := SelectReportsToUpdate(reports)
	summary.Selected = len(selected)
	c.metrics.ReportsSelected.Set(float64(len(selected)))

	if len(selected) == 0 {
		return summary, nil
	}
	if c.dryRun {
		for _, report := range selected {
			c.logger.Info("would update report", "id", report.ID, "from", report.Temperature, "to", *report.NewTemperature)
		}
		return summary, nil
	}

	for _, result := range c.ApplyUpdates(ctx, selected) {
		if result.Err != nil {
			summary.Failed++
			continue
		}
		summary.Applied++
	}

	refreshed, refreshFailures := c.FetchAllReports(ctx, locations)
	summary.RefreshFailures = refreshFailures
	summary.Updated = CountUpdated(refreshed)
	c.metrics.ReportsUpdated.Set(float64(summary.Updated))

	c.logger.Info("run finished",
		"run_id", summary.RunID,
		"selected", summary.Selected,
		"applied", summary.Applied,
		"failed", summary.Failed,
		"updated", summary.Updated,
	)
	return summary, nil
}

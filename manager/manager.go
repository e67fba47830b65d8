package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"

	"climate/observability"
)

const (
	// Threshold is the temperature a report must exceed to be lowered.
	Threshold = 20.0
	// Step is how much an eligible report is lowered by.
	Step = 1.0
)

// Descriptions are the values an update may carry as description.
var Descriptions = []string{"tornados", "floods", ""}

var ErrNotSelected = errors.New("report has no new temperature")

// Policy decides what a run does when some locations fail.
type Policy string

const (
	PolicyTolerate Policy = "tolerate"
	PolicyAbort    Policy = "abort"
)

func New(service Service, logger *slog.Logger) *climate {
	return &climate{
		service:  service,
		logger:   logger,
		describe: RandomDescription,
		clock:    clockwork.NewRealClock(),
		metrics:  observability.NewMetrics(),
		policy:   PolicyTolerate,
	}
}

type climate struct {
	service  Service
	logger   *slog.Logger
	describe Describer
	clock    clockwork.Clock
	metrics  *observability.Metrics
	policy   Policy
	dryRun   bool
}

func (c *climate) SetDescriber(describe Describer) {
	c.describe = describe
}

func (c *climate) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

func (c *climate) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

func (c *climate) SetPolicy(policy Policy) {
	c.policy = policy
}

// SetDryRun makes Run stop after selection: no updates, no re-fetch.
func (c *climate) SetDryRun(dryRun bool) {
	c.dryRun = dryRun
}

func (c *climate) FetchLocations(ctx context.Context) ([]Location, error) {
	locations, err := c.service.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch locations: %w", err)
	}
	return locations, nil
}

func (c *climate) FetchReports(ctx context.Context, location Location) ([]Report, error) {
	reports, err := c.service.Reports(ctx, location.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch reports for %q: %w", location.Name, err)
	}
	return reports, nil
}

// FetchAllReports fetches the reports of every location in order. A location
// that fails is logged, left out of the result and returned as a failure.
func (c *climate) FetchAllReports(ctx context.Context, locations []Location) ([]Report, []LocationFailure) {
	var (
		reports  []Report
		failures []LocationFailure
	)

	for _, location := range locations {
		found, err := c.FetchReports(ctx, location)
		if err != nil {
			c.logger.Error("could not get reports", "location", location.Name, "error", err)
			c.metrics.LocationFailures.Inc()
			failures = append(failures, LocationFailure{Location: location.Name, Err: err})
			continue
		}
		reports = append(reports, found...)
	}

	c.metrics.ReportsFetched.Add(float64(len(reports)))
	return reports, failures
}

// Eligible reports whether r may be lowered: warmer than Threshold and
// never modified before.
func (r Report) Eligible() bool {
	return r.Temperature > Threshold && r.ModificationCount == 0
}

// SelectReportsToUpdate returns copies of the eligible reports with
// NewTemperature set. The input is left untouched.
func SelectReportsToUpdate(reports []Report) []Report {
	var selected []Report
	for _, report := range reports {
		if !report.Eligible() {
			continue
		}
		newTemperature := report.Temperature - Step
		report.NewTemperature = &newTemperature
		selected = append(selected, report)
	}
	return selected
}

// ApplyUpdates sends one update per selected report. A failed update is
// recorded in its result and does not stop the batch.
func (c *climate) ApplyUpdates(ctx context.Context, reports []Report) []UpdateResult {
	results := make([]UpdateResult, 0, len(reports))

	for _, report := range reports {
		if report.NewTemperature == nil {
			results = append(results, UpdateResult{
				Update: Update{ID: report.ID},
				Err:    fmt.Errorf("update report %s: %w", report.ID, ErrNotSelected),
			})
			c.metrics.Updates.WithLabelValues("error").Inc()
			continue
		}

		update := Update{
			ID:          report.ID,
			Temperature: *report.NewTemperature,
			Description: c.describe(),
		}

		updated, err := c.service.UpdateReport(ctx, update)
		if err != nil {
			c.logger.Error("could not update report", "id", report.ID, "temperature", update.Temperature, "error", err)
			c.metrics.Updates.WithLabelValues("error").Inc()
			results = append(results, UpdateResult{
				Update: update,
				Err:    fmt.Errorf("update report %s: %w", report.ID, err),
			})
			continue
		}

		c.logger.Info("report updated",
			"id", report.ID,
			"location", report.Location,
			"from", report.Temperature,
			"to", update.Temperature,
			"description", update.Description,
		)
		c.metrics.Updates.WithLabelValues("success").Inc()
		results = append(results, UpdateResult{Update: update, Report: updated})
	}

	return results
}

// CountUpdated counts reports the service marks as modified.
func CountUpdated(reports []Report) int {
	n := 0
	for _, report := range reports {
		if report.ModificationCount >= 1 {
			n++
		}
	}
	return n
}

// RandomDescription picks one of Descriptions uniformly.
func RandomDescription() string {
	return Descriptions[rand.IntN(len(Descriptions))]
}

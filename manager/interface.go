package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Climate runs the report pipeline once.
type Climate interface {
	Run(ctx context.Context) (Summary, error)
}

// Service is the remote weather report service.
type Service interface {
	Locations(ctx context.Context) ([]Location, error)
	Reports(ctx context.Context, location string) ([]Report, error)
	UpdateReport(ctx context.Context, update Update) (Report, error)
}

// Describer picks the description sent along with an update.
type Describer func() string

type Location struct {
	Name string `json:"name"`
}

// Report is a weather report as the service returns it. The service owns
// ModificationCount; NewTemperature is only set by SelectReportsToUpdate.
type Report struct {
	ID                ReportID `json:"id"`
	Location          string   `json:"location"`
	Temperature       float64  `json:"temperature"`
	Description       string   `json:"description"`
	ModificationCount int      `json:"modification_count"`

	NewTemperature *float64 `json:"-"`
}

// Update is the change proposed for one report.
type Update struct {
	ID          ReportID
	Temperature float64
	Description string
}

// UpdateResult is the outcome of one update. Report is the service's answer
// and is only meaningful when Err is nil.
type UpdateResult struct {
	Update Update
	Report Report
	Err    error
}

type LocationFailure struct {
	Location string
	Err      error
}

// Summary is the best-effort account of a run.
type Summary struct {
	RunID     string
	Locations int
	Fetched   int
	Selected  int
	Applied   int
	Failed    int
	Updated   int
	DryRun    bool

	LocationFailures []LocationFailure
	RefreshFailures  []LocationFailure
	Duration         time.Duration
}

// ReportID identifies a report. The service may send it as a JSON number or
// string; either way it is kept as its literal text.
type ReportID string

func (id *ReportID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("report id: %w", err)
		}
		*id = ReportID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("report id: %w", err)
	}
	*id = ReportID(n.String())
	return nil
}

func (id ReportID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ReportID) String() string {
	return string(id)
}

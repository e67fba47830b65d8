package manager_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate/apis/reports"
	"climate/apis/reports/reportstest"
	"climate/apis/transport"
	"climate/manager"
)

func newClimate(t *testing.T, baseURL string) manager.Climate {
	t.Helper()
	client := transport.New(transport.Config{
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		Retries:       2,
		RetryStatuses: []int{500, 502, 504},
	}, discardLogger())

	c := manager.New(reports.New(client), discardLogger())
	c.SetDescriber(func() string { return "tornados" })
	return c
}

func TestScenario_SingleHotReport(t *testing.T) {
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}},
		[]manager.Report{{ID: "1", Location: "A", Temperature: 25.0, ModificationCount: 0}},
	)
	defer srv.Close()

	summary, err := newClimate(t, srv.URL).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []reportstest.Patch{{ID: "1", Temperature: 24.0, Description: "tornados"}}, srv.Patches())
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Updated)
}

func TestScenario_ColdReportIsLeftAlone(t *testing.T) {
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}},
		[]manager.Report{{ID: "2", Location: "A", Temperature: 15.0, ModificationCount: 0}},
	)
	defer srv.Close()

	summary, err := newClimate(t, srv.URL).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, srv.Patches())
	assert.Zero(t, summary.Selected)
	assert.Zero(t, summary.Updated)
}

func TestScenario_SecondRunIsIdempotent(t *testing.T) {
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}, {Name: "B"}},
		[]manager.Report{
			{ID: "1", Location: "A", Temperature: 25.0},
			{ID: "2", Location: "A", Temperature: 18.0},
			{ID: "3", Location: "B", Temperature: 33.3},
		},
	)
	defer srv.Close()

	c := newClimate(t, srv.URL)

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Selected)
	assert.Equal(t, 2, first.Updated)
	require.Len(t, srv.Patches(), 2)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Selected)
	assert.Len(t, srv.Patches(), 2, "modified reports must not be patched again")

	for _, report := range srv.Reports() {
		if report.ID == "2" {
			assert.Zero(t, report.ModificationCount)
			continue
		}
		assert.Equal(t, 1, report.ModificationCount)
	}
}

func TestScenario_OneLocationFails(t *testing.T) {
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}, {Name: "B"}},
		[]manager.Report{
			{ID: "1", Location: "A", Temperature: 25.0},
			{ID: "2", Location: "B", Temperature: 22.0},
		},
	)
	defer srv.Close()
	srv.FailLocation("A", http.StatusServiceUnavailable)

	var logs bytes.Buffer
	client := transport.New(transport.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, discardLogger())
	c := manager.New(reports.New(client), newBufferLogger(&logs))

	found, failures := c.FetchAllReports(context.Background(), []manager.Location{{Name: "A"}, {Name: "B"}})
	require.Len(t, found, 1)
	assert.Equal(t, manager.ReportID("2"), found[0].ID)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, transport.ErrServer)
	assert.Contains(t, logs.String(), "could not get reports")
	assert.Contains(t, logs.String(), "location=A")

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, []reportstest.Patch{{ID: "2", Temperature: 21.0, Description: srv.Patches()[0].Description}}, srv.Patches())
	assert.Contains(t, manager.Descriptions, srv.Patches()[0].Description)
}

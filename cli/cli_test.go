package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate/apis/reports/reportstest"
	"climate/manager"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd, err := New()
	require.NoError(t, err)

	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(context.Background())
	return out.String(), logs.String(), err
}

func hotServer(t *testing.T) *reportstest.Server {
	t.Helper()
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}, {Name: "B"}},
		[]manager.Report{
			{ID: "1", Location: "A", Temperature: 25.0},
			{ID: "2", Location: "B", Temperature: 15.0},
			{ID: "3", Location: "B", Temperature: 28.0, ModificationCount: 1},
		},
	)
	t.Cleanup(srv.Close)
	return srv
}

func TestCLI_Run(t *testing.T) {
	srv := hotServer(t)
	metricsPath := filepath.Join(t.TempDir(), "climate.prom")

	out, _, err := execute(t, "--base-url", srv.URL, "--backoff", "0s", "--metrics-file", metricsPath)
	require.NoError(t, err)

	assert.Equal(t, "We got 3 reports\n"+
		"We have 1 reports to update\n"+
		"Fixing climate now (aka updating reports) ...\n"+
		"We updated 2 reports\n", out)

	require.Len(t, srv.Patches(), 1)
	assert.Equal(t, "1", srv.Patches()[0].ID)
	assert.InDelta(t, 24.0, srv.Patches()[0].Temperature, 0)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `climate_updates_total{outcome="success"} 1`)
	assert.Contains(t, string(data), "climate_reports_updated 2")
}

func TestCLI_DryRun(t *testing.T) {
	srv := hotServer(t)

	out, _, err := execute(t, "--base-url", srv.URL, "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "We have 1 reports to update\n")
	assert.Contains(t, out, "Dry run, no reports were changed\n")
	assert.Empty(t, srv.Patches())
}

func TestCLI_ConfigFile(t *testing.T) {
	srv := hotServer(t)
	path := filepath.Join(t.TempDir(), "climate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: "+srv.URL+"\ndry_run: true\n"), 0o600))

	out, _, err := execute(t, "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run")
}

func TestCLI_ServiceDownStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	out, logs, err := execute(t, "--base-url", url, "--retries", "0", "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, "We got 0 reports\nWe have 0 reports to update\n", out)
	assert.Contains(t, logs, "could not retrieve locations")
}

func TestCLI_AbortPolicy(t *testing.T) {
	srv := hotServer(t)
	srv.FailLocation("B", 500)

	out, logs, err := execute(t, "--base-url", srv.URL, "--retries", "0", "--partial-failures", "abort")
	require.NoError(t, err)
	assert.Contains(t, out, "Could not get reports for 1 of 2 locations\n")
	assert.Contains(t, logs, "run did not complete")
	assert.Empty(t, srv.Patches())
}

func TestCLI_InvalidFlags(t *testing.T) {
	tests := [][]string{
		{"--partial-failures", "ignore"},
		{"--base-url", "nowhere"},
		{"--log-level", "loud"},
		{"unexpected-arg"},
	}
	for _, args := range tests {
		_, _, err := execute(t, args...)
		assert.Error(t, err, "args %v", args)
	}
}

func TestCLI_LogsGoToStderr(t *testing.T) {
	srv := hotServer(t)

	out, logs, err := execute(t, "--base-url", srv.URL, "--log-level", "debug")
	require.NoError(t, err)
	assert.NotContains(t, out, "request_id")
	assert.Contains(t, logs, "request_id")
}

func TestCLI_DefaultsKeepHealthyLocationWhenOthersFail(t *testing.T) {
	srv := reportstest.NewServer(
		[]manager.Location{{Name: "A"}, {Name: "B"}, {Name: "C"}},
		[]manager.Report{
			{ID: "1", Location: "A", Temperature: 30.0},
			{ID: "2", Location: "B", Temperature: 30.0},
			{ID: "9", Location: "C", Temperature: 25.0},
		},
	)
	t.Cleanup(srv.Close)
	srv.FailLocation("A", 500)
	srv.FailLocation("B", 500)

	out, _, err := execute(t, "--base-url", srv.URL, "--backoff", "0s")
	require.NoError(t, err)

	assert.Contains(t, out, "We got 1 reports\n")
	assert.Contains(t, out, "Could not get reports for 2 of 3 locations\n")
	require.Len(t, srv.Patches(), 1)
	assert.Equal(t, "9", srv.Patches()[0].ID)
	assert.InDelta(t, 24.0, srv.Patches()[0].Temperature, 0)
}

package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"climate/apis/reports"
	"climate/apis/transport"
	"climate/config"
	"climate/manager"
	"climate/observability"
)

type flags struct {
	configPath      string
	baseURL         string
	retries         int
	backoff         time.Duration
	timeout         time.Duration
	dryRun          bool
	partialFailures string
	metricsFile     string
	logLevel        string
	logFormat       string
}

func New() (*cobra.Command, error) {
	var f flags

	cmd := &cobra.Command{
		Use:   "climate",
		Args:  cobra.NoArgs,
		Short: "Lower every weather report above 20 degrees by one degree, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err = cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			metrics := observability.NewMetrics()

			client := transport.New(cfg.Transport(), logger, transport.WithMetrics(metrics))

			climate := manager.New(reports.New(client), logger)
			climate.SetMetrics(metrics)
			climate.SetPolicy(manager.Policy(cfg.PartialFailures))
			climate.SetDryRun(cfg.DryRun)

			summary, err := climate.Run(cmd.Context())
			if err != nil {
				logger.Error("run did not complete", "error", err)
			}

			printSummary(cmd, summary)

			if cfg.MetricsFile != "" {
				if err = metrics.WriteTextfile(cfg.MetricsFile); err != nil {
					logger.Error("could not write metrics", "path", cfg.MetricsFile, "error", err)
				}
			}

			return nil
		},
	}

	cmd.SetOut(os.Stdout)

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML config file (defaults are built in)")
	fs.StringVar(&f.baseURL, "base-url", "", "report service base URL")
	fs.IntVar(&f.retries, "retries", 0, "retries per request on connection errors and 500/502/504")
	fs.DurationVar(&f.backoff, "backoff", 0, "backoff factor; the n-th retry waits factor*2^(n-1)")
	fs.DurationVar(&f.timeout, "timeout", 0, "timeout of a single HTTP attempt")
	fs.BoolVar(&f.dryRun, "dry-run", false, "select reports but do not update them")
	fs.StringVar(&f.partialFailures, "partial-failures", "", "tolerate or abort when some locations fail")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")

	return cmd, nil
}

// apply copies the flags the user set over cfg.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("retries") {
		cfg.Retries = f.retries
	}
	if changed("backoff") {
		cfg.BackoffFactor = f.backoff
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if changed("partial-failures") {
		cfg.PartialFailures = f.partialFailures
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
}

func printSummary(cmd *cobra.Command, summary manager.Summary) {
	cmd.Printf("We got %d reports\n", summary.Fetched)
	if n := len(summary.LocationFailures); n > 0 {
		cmd.Printf("Could not get reports for %d of %d locations\n", n, summary.Locations)
	}
	cmd.Printf("We have %d reports to update\n", summary.Selected)

	if summary.Selected == 0 {
		return
	}
	if summary.DryRun {
		cmd.Printf("Dry run, no reports were changed\n")
		return
	}

	cmd.Printf("Fixing climate now (aka updating reports) ...\n")
	if summary.Failed > 0 {
		cmd.Printf("%d updates failed\n", summary.Failed)
	}
	cmd.Printf("We updated %d reports\n", summary.Updated)
}

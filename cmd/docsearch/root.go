package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/canonical/docsearch/internal/config"
	"github.com/canonical/docsearch/internal/logging"
	"github.com/canonical/docsearch/internal/metrics"
)

type globalOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string

	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "docsearch",
		Short:        "Maintain the documentation search index",
		Long:         `Import rendered documentation manuals into the search index and remove them again.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config JSON")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	cmd.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "",
		"Write Prometheus metrics of the run to this file (node_exporter textfile format)")

	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newDeleteManualCmd(opts))
	return cmd
}

// load reads the config and sets up logging and the metrics of one run.
func (o *globalOptions) load() (*config.Config, *slog.Logger, *metrics.Metrics, error) {
	logger := logging.BuildLogger(o.logLevel, o.logFormat)
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	o.registry = prometheus.NewRegistry()
	return cfg, logger, metrics.New(o.registry), nil
}

// writeMetrics stores the metrics of the run when --metrics-file is set.
// It runs whether or not the command failed.
func (o *globalOptions) writeMetrics(logger *slog.Logger) {
	if o.metricsFile == "" || o.registry == nil {
		return
	}
	if err := prometheus.WriteToTextfile(o.metricsFile, o.registry); err != nil {
		logger.Error("write metrics", "path", o.metricsFile, "error", err)
	}
}

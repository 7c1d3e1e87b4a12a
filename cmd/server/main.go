package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/canonical/docsearch/internal/config"
	"github.com/canonical/docsearch/internal/logging"
	"github.com/canonical/docsearch/internal/metrics"
	"github.com/canonical/docsearch/internal/search"
	"github.com/canonical/docsearch/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config JSON")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	addr := flag.String("addr", ":8080", "HTTP bind address")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel, *logFormat)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// The server still starts without an index so /healthz can report it.
	var searcher web.Searcher
	sqlSearcher, err := search.NewSQLiteSearcher(context.Background(), cfg.IndexPath(), m)
	if err != nil {
		logger.Error("open search index", "path", cfg.IndexPath(), "error", err)
	} else {
		searcher = sqlSearcher
	}

	server := web.NewServer(cfg, logger, searcher, m, reg)
	if err := server.ListenAndServe(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Command transportx is the CLI entry point of the columnar transport
// layer: a thin bootstrap that loads an internal/runconfig.Config,
// wires a sqlsource/mysql Source to an
// internal/destination.ArrowDestination through the mysql_to_arrow
// Transport table, and runs the internal/dispatcher.Dispatcher to
// completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/cohenjo/transportx/internal/destination"
	"github.com/cohenjo/transportx/internal/dialect/mysql"
	"github.com/cohenjo/transportx/internal/dispatcher"
	"github.com/cohenjo/transportx/internal/runconfig"
	"github.com/cohenjo/transportx/internal/sqlsource"
	"github.com/cohenjo/transportx/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path")
		dsn         = flag.String("dsn", "", "Source DSN (overrides config file source.dsn)")
		showVersion = flag.Bool("version", false, "Show version information")
		showConfig  = flag.Bool("show-config", false, "Show configuration and exit")
		validate    = flag.Bool("validate", false, "Validate configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("transportx %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", date)
		os.Exit(0)
	}

	// Bootstrap logging is logrus: flag/config errors go through it, the
	// transport run itself through the zerolog logger built below.
	boot := logrus.New()
	boot.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := runconfig.Load(*configFile)
	if err != nil {
		boot.WithError(err).Fatal("failed to load configuration")
	}
	if *dsn != "" {
		cfg.Source.DSN = *dsn
	}

	boot.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("starting transportx")

	if *showConfig {
		fmt.Printf("Source:    dialect=%s dsn=%s queries=%d\n", cfg.Source.Dialect, cfg.Source.DSN, len(cfg.Source.Queries))
		fmt.Printf("Transport: partitions=%d table=%s\n", cfg.Transport.Partitions, cfg.Transport.Table)
		fmt.Printf("Flush:     string=%dB bytes=%dB nbstr=%t\n", cfg.Flush.StringThresholdBytes, cfg.Flush.BytesThresholdBytes, cfg.Flush.NonBlockingHalfFlush)
		os.Exit(0)
	}

	if len(cfg.Source.Queries) == 0 {
		boot.Fatal("no queries configured: set source.queries in the config file")
	}
	if *validate {
		boot.Info("configuration validation passed")
		os.Exit(0)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "transportx").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		boot.WithError(err).Fatal("transport run failed")
	}
}

// run wires and executes one transport run. Only the mysql dialect is
// wired to the CLI today; internal/dialect/mongo and the kafkasink/essink
// destinations are reachable as library packages for callers that embed
// the dispatcher directly.
func run(ctx context.Context, cfg runconfig.Config, logger zerolog.Logger) error {
	if cfg.Source.Dialect != "mysql" {
		return fmt.Errorf("transportx: unsupported source dialect %q (cmd/transportx only wires mysql)", cfg.Source.Dialect)
	}
	if cfg.Transport.Table != "mysql_to_arrow" {
		return fmt.Errorf("transportx: unknown transport table %q", cfg.Transport.Table)
	}
	if cfg.Transport.Partitions != len(cfg.Source.Queries) {
		logger.Warn().
			Int("partitions", cfg.Transport.Partitions).
			Int("queries", len(cfg.Source.Queries)).
			Msg("partition count ignored: one query is one partition")
	}

	src := sqlsource.New(mysql.Dialect{}, sqlsource.Config{
		DriverName: mysql.DriverName,
		DSN:        cfg.Source.DSN,
	}, logger)

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New(cfg.Metrics.Namespace)
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	dst := destination.NewArrowDestination(destination.Options{
		StringThreshold:      cfg.Flush.StringThresholdBytes,
		BytesThreshold:       cfg.Flush.BytesThresholdBytes,
		NonBlockingHalfFlush: cfg.Flush.NonBlockingHalfFlush,
		Metrics:              metrics,
	}, logger)

	d := dispatcher.New(src, dst, mysql.NewTransportTable(), logger, metrics)
	result, err := d.Run(ctx, cfg.Source.Queries)
	if err != nil {
		return err
	}

	total := 0
	for _, b := range result.Batches {
		total += b.NumRows
	}
	logger.Info().Int("batches", len(result.Batches)).Int("rows", total).Msg("transport run complete")
	return nil
}

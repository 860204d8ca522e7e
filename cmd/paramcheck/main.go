// Command paramcheck evaluates the parameter, transform and prior contracts
// against live models and exits non-zero if any of them does not hold.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/copyleftdev/TUNDR-gp/internal/config"
	apperrors "github.com/copyleftdev/TUNDR-gp/internal/errors"
	"github.com/copyleftdev/TUNDR-gp/internal/invariants"
	"github.com/copyleftdev/TUNDR-gp/internal/logging"
	"github.com/copyleftdev/TUNDR-gp/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize base logger
	base, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	base = base.WithFields(map[string]interface{}{
		"service": "paramcheck",
		"env":     cfg.Environment,
	})
	logger := logging.NewZapLogger(base)
	defer func() { _ = logger.Sync() }()

	if err := check(cfg, logger); err != nil {
		fields := []zap.Field{zap.Error(err)}
		if e, ok := apperrors.AsError(err); ok {
			fields = append(fields, zap.Strings("stack", e.StackTrace()))
		}
		logger.Error("Invariant checks failed", fields...)
		return 1
	}
	return 0
}

// check runs every invariant with the configured settings and writes the
// metrics textfile if one is configured.
func check(cfg *config.Config, logger *zap.Logger) error {
	settings, err := cfg.Settings()
	if err != nil {
		return apperrors.Wrap(err, "invalid GP settings").WithComponent("paramcheck")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder := metrics.New(reg)

	icfg := invariants.Config{
		Settings:       settings,
		Jitter:         cfg.GP.Jitter,
		JitterAttempts: cfg.GP.JitterAttempts,
		Seed:           cfg.GP.Seed,
		DataPoints:     cfg.GP.DataPoints,
		DataScale:      cfg.GP.DataScale,
	}
	logger.Info("Running invariant checks",
		zap.Stringer("precision", settings.Precision),
		zap.String("positive_bijector", settings.Positive),
		zap.Int64("seed", icfg.Seed),
		zap.Int("data_points", icfg.DataPoints),
		zap.Float64("data_scale", icfg.DataScale),
	)

	results, runErr := invariants.RunAll(icfg, logger, recorder)

	if path := cfg.Metrics.Textfile; path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			logger.Error("Failed to write metrics", zap.String("path", path), zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed := invariants.Failed(results); failed > 0 {
		return apperrors.Errorf("%d of %d invariant checks failed", failed, len(results)).
			WithOperation("RunAll").
			WithComponent("paramcheck")
	}
	logger.Info("All invariant checks passed", zap.Int("checks", len(results)))
	return nil
}

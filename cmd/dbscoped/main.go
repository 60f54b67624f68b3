// dbscoped publishes configured database engines and context-scoped
// sessions as lifecycle resources and keeps them healthy until shutdown.
//
// It is the standalone daemon form of the integration: engines are opened
// and verified at boot, pool and session statistics are reported to
// InfluxDB, and engine lifecycle events are announced over MQTT. Embedded
// use goes through internal/component directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/dbscope/internal/component"
	"github.com/nerrad567/dbscope/internal/infrastructure/announce"
	"github.com/nerrad567/dbscope/internal/infrastructure/config"
	"github.com/nerrad567/dbscope/internal/infrastructure/logging"
	"github.com/nerrad567/dbscope/internal/infrastructure/metrics"
	"github.com/nerrad567/dbscope/internal/lifecycle"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// teardownTimeout bounds how long shutdown waits for pending session
// finalizations and engine disposal.
const teardownTimeout = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting dbscope",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Root lifecycle context: resources published here are visible to every
	// child context for the lifetime of the process.
	root := lifecycle.New(nil)

	comp, err := component.New(cfg.Database,
		component.WithLogger(log.ForNamespace(cfg.Database.ResourceName)))
	if err != nil {
		return fmt.Errorf("building component: %w", err)
	}
	if err := comp.Start(ctx, root); err != nil {
		return fmt.Errorf("starting component: %w", err)
	}
	defer func() {
		teardownCtx, teardownCancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer teardownCancel()
		log.Info("finishing root context")
		if finishErr := root.Finish(teardownCtx, nil); finishErr != nil {
			log.Error("error during teardown", "error", finishErr)
		}
	}()
	for name, e := range comp.Engines() {
		log.ForEngine(name, e.Driver()).Info("engine ready")
	}

	// Announce engine lifecycle over MQTT (optional)
	var announcer *announce.Announcer
	if cfg.Announce.Enabled {
		announcer, err = announce.Connect(cfg.Announce)
		if err != nil {
			return fmt.Errorf("connecting announcer: %w", err)
		}
		defer func() {
			log.Info("disconnecting announcer")
			if closeErr := announcer.Close(); closeErr != nil {
				log.Error("error closing announcer", "error", closeErr)
			}
		}()
		for name, e := range comp.Engines() {
			announcer.EngineUp(name, e.Driver())
		}
		comp.Manager().SetOnFinalizeError(announcer.FinalizeError)
		log.Info("announcer connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Announce.Broker.Host, cfg.Announce.Broker.Port),
			"client_id", cfg.Announce.Broker.ClientID,
		)
	} else {
		log.Info("announcements disabled")
	}

	// Report pool and session statistics to InfluxDB (optional)
	var reporter *metrics.Reporter
	if cfg.Metrics.Enabled {
		metricsClient, connectErr := metrics.Connect(cfg.Metrics)
		if connectErr != nil {
			return fmt.Errorf("connecting to metrics backend: %w", connectErr)
		}
		defer func() {
			log.Info("closing metrics connection")
			if closeErr := metricsClient.Close(); closeErr != nil {
				log.Error("error closing metrics connection", "error", closeErr)
			}
		}()
		metricsClient.SetOnError(func(err error) {
			log.Error("metrics write error", "error", err)
		})

		reporter = metrics.NewReporter(metricsClient, cfg.GetMetricsInterval())
		for _, e := range comp.Engines() {
			reporter.AddEngine(e)
		}
		reporter.SetManagerStats(cfg.Database.ResourceName, comp.Manager().Stats)
		reporter.Start(ctx)
		defer func() {
			log.Info("stopping metrics reporter")
			reporter.Stop()
		}()
		log.Info("metrics reporter started",
			"url", cfg.Metrics.URL,
			"bucket", cfg.Metrics.Bucket,
			"interval", cfg.GetMetricsInterval(),
		)
	} else {
		log.Info("metrics disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, comp, announcer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if announcer != nil {
		for name, e := range comp.Engines() {
			announcer.EngineDown(name, e.Driver())
		}
	}

	// Deferred calls run in reverse order:
	// 1. Metrics reporter, then metrics connection (if enabled)
	// 2. Announcer (if enabled)
	// 3. Root context finish (drains finalizations, disposes engines)

	log.Info("dbscope stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DBSCOPE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DBSCOPE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every engine and the optional announcer connection.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - comp: Started component
//   - announcer: Connected announcer, or nil when disabled
//
// Returns:
//   - error: nil if all healthy, joined errors otherwise
func healthCheck(ctx context.Context, comp *component.Component, announcer *announce.Announcer) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for name, e := range comp.Engines() {
		if err := e.HealthCheck(checkCtx); err != nil {
			errs = append(errs, fmt.Errorf("engine %q: %w", name, err))
		}
	}
	if announcer != nil {
		if err := announcer.HealthCheck(checkCtx); err != nil {
			errs = append(errs, fmt.Errorf("announcer: %w", err))
		}
	}

	return errors.Join(errs...)
}

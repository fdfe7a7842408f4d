package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/database"
	"github.com/nmslite/engine/internal/exporter"
	"github.com/nmslite/engine/internal/poller"
	"github.com/nmslite/engine/internal/protocol"
	"github.com/nmslite/engine/internal/strategy"
	"github.com/nmslite/engine/internal/telemetry"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "engine",
		Usage:   "Connector-driven hardware monitoring engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("NMS_CONFIG"),
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "dump-config",
				Usage: "Print an example configuration and exit",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("dump-config") {
		return config.DumpExampleConfig(os.Stdout)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.InitLogger(cfg.Logging)
	logger.Info("Starting engine",
		"version", version,
		"hosts", len(cfg.Hosts),
		"connectors_directory", cfg.Engine.ConnectorsDirectory,
	)

	store := connector.NewStore(logger)
	if err := store.LoadDirectory(cfg.Engine.ConnectorsDirectory); err != nil {
		return fmt.Errorf("failed to load connectors: %w", err)
	}
	logger.Info("Connectors loaded", "count", store.Len())

	registry := protocol.NewDefaultRegistry(logger)
	defer registry.Close()

	g, ctx := errgroup.WithContext(ctx)

	var sink poller.SampleSink
	if cfg.Database.Enabled {
		pool, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.RunMigrations(ctx, pool, logger); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}

		writer := poller.NewBatchWriter(pool, cfg.Database, logger)
		sink = writer
		g.Go(func() error { return writer.Run(ctx) })
	}

	local := telemetry.DetectLocalIdentity()
	scheduler := poller.NewScheduler(cfg.Engine, logger)
	hosts := make(exporter.Hosts, 0, len(cfg.Hosts))
	for i := range cfg.Hosts {
		host := &cfg.Hosts[i]
		manager := telemetry.NewTelemetryManager(host, store, local.IsLocal(host.Hostname), logger)
		env := &strategy.Env{
			Manager:       manager,
			Executor:      registry,
			EngineVersion: strategy.DefaultEngineVersion,
			Logger:        logger,
		}
		scheduler.Add(poller.NewHostTask(env, sink))
		hosts = append(hosts, manager)
	}

	if cfg.Exporter.Enabled {
		if err := prometheus.Register(exporter.NewCollector(hosts, logger)); err != nil {
			return fmt.Errorf("failed to register monitor collector: %w", err)
		}
		server := exporter.NewServer(cfg.Exporter, exporter.NewRouter(hosts, prometheus.DefaultGatherer, logger), logger)

		g.Go(server.Start)
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Shutting down exporter...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Exporter forced to shutdown", "error", err)
			}
			return nil
		})
	}

	if cfg.MQTT.Enabled {
		publisher := exporter.NewPublisher(exporter.NewMQTTClient(cfg.MQTT), hosts, cfg.MQTT, logger)
		g.Go(func() error {
			// A broker outage must not stop collection.
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MQTT publisher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return scheduler.Run(ctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Engine stopped with error", "error", err)
		return err
	}
	logger.Info("Engine stopped gracefully")
	return nil
}

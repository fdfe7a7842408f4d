package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmslite/engine/internal/compute"
	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/protocol"
	"github.com/nmslite/engine/internal/telemetry"
)

// Options wires an Orchestrator to one connector on one host.
type Options struct {
	Executor  Executor
	Host      *config.HostConfig
	Target    protocol.Target
	Connector *connector.Connector
	Namespace *telemetry.ConnectorNamespace
	Logger    *slog.Logger
}

// Orchestrator runs the source lists of a connector's jobs and stores each
// final table in the connector namespace.
type Orchestrator struct {
	connector  *connector.Connector
	namespace  *telemetry.ConnectorNamespace
	updater    *Updater
	serializer *Serializer
	hostname   string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := opts.Host
	if host == nil {
		host = opts.Target.Config
	}
	if host == nil {
		host = &config.HostConfig{Hostname: opts.Target.Hostname}
	}

	processor := NewProcessor(opts.Executor, opts.Target, opts.Connector.ID, opts.Namespace, logger)
	return &Orchestrator{
		connector:  opts.Connector,
		namespace:  opts.Namespace,
		updater:    NewUpdater(processor, compute.NewPipeline(opts.Connector, logger), opts.Namespace),
		serializer: NewSerializer(host.SerializationTimeout(), logger),
		hostname:   opts.Target.Hostname,
		maxRetries: host.RetryMaxAttempts,
		retryDelay: host.RetryDelay(),
		logger: logger.With(
			"component", "source_orchestrator",
			"hostname", opts.Target.Hostname,
			"connector", opts.Connector.ID,
		),
	}
}

// Namespace returns the namespace results are stored in.
func (o *Orchestrator) Namespace() *telemetry.ConnectorNamespace { return o.namespace }

// Run executes sources in declaration order; a later source may read the
// table an earlier one just stored. An empty or failed source does not stop
// the list. The only error returned is the context's.
func (o *Orchestrator) Run(ctx context.Context, sources []connector.Source, attributes map[string]string) error {
	for _, src := range sources {
		if _, err := o.RunSource(ctx, src, attributes); err != nil {
			return err
		}
	}
	return nil
}

// RunSource executes one source with its computes and stores the final
// table under src.Key. A failure stores an empty table; when ctx ends
// first nothing is stored and the previous table stays in place.
func (o *Orchestrator) RunSource(ctx context.Context, src connector.Source, attributes map[string]string) (*telemetry.SourceTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	table, err := o.execute(ctx, src, attributes)
	sourceDuration.WithLabelValues(string(src.Type)).Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		sourceExecutions.WithLabelValues(string(src.Type), resultCancelled).Inc()
		o.logger.Debug("Source interrupted", "source_key", src.Key)
		return nil, ctx.Err()
	}

	switch {
	case errors.Is(err, ErrSerializationTimeout):
		sourceExecutions.WithLabelValues(string(src.Type), resultEmpty).Inc()
		table = telemetry.EmptyTable()
	case err != nil:
		sourceExecutions.WithLabelValues(string(src.Type), resultError).Inc()
		o.logger.Error("Source execution failed",
			"source_key", src.Key,
			"type", src.Type,
			"error", err,
		)
		table = telemetry.EmptyTable()
	case table.IsEmpty():
		sourceExecutions.WithLabelValues(string(src.Type), resultEmpty).Inc()
		o.logger.Debug("Source returned no data", "source_key", src.Key)
	default:
		sourceExecutions.WithLabelValues(string(src.Type), resultOK).Inc()
	}

	o.namespace.PutSourceTable(src.Key, table)
	return table, nil
}

func (o *Orchestrator) execute(ctx context.Context, src connector.Source, attributes map[string]string) (table *telemetry.SourceTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			table, err = nil, fmt.Errorf("%w: %v", ErrSourcePanic, r)
		}
	}()

	previous := o.namespace.SourceTable(src.Key)
	run := func(ctx context.Context) (*telemetry.SourceTable, error) {
		return o.updater.Process(ctx, src, attributes)
	}
	if !previous.IsEmpty() {
		process := run
		run = func(ctx context.Context) (*telemetry.SourceTable, error) {
			r := &Retry[*telemetry.SourceTable]{
				Fallback:     telemetry.EmptyTable(),
				MaxRetries:   o.maxRetries,
				Delay:        o.retryDelay,
				Description:  src.Key,
				Hostname:     o.hostname,
				IsRegression: (*telemetry.SourceTable).IsEmpty,
				Logger:       o.logger,
			}
			return r.Run(ctx, process)
		}
	}

	if src.ForceSerialization {
		table, err = o.serializer.Run(ctx, o.namespace, o.connector.ID, src.Key, run)
	} else {
		table, err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	for i, c := range src.Computes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		table, err = o.updater.Compute(table, c, attributes)
		if err != nil {
			return nil, fmt.Errorf("compute %d (%s): %w", i+1, c.Type, err)
		}
	}
	return table, nil
}

// Package strategy runs the phases of a host cycle: detection, pre-sources,
// discovery, post-discovery reconciliation, collect, simple jobs and
// hardware energy. Strategies only touch the monitor registry through the
// TelemetryManager.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/protocol"
	"github.com/nmslite/engine/internal/source"
	"github.com/nmslite/engine/internal/telemetry"
)

// DefaultEngineVersion is matched against productRequirements criteria.
const DefaultEngineVersion = "1.0.0"

// Strategy is one phase of a host cycle.
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
}

// Env holds what every strategy of one host needs.
type Env struct {
	Manager       *telemetry.TelemetryManager
	Executor      source.Executor
	EngineVersion string
	Logger        *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) target() protocol.Target {
	host := e.Manager.HostConfig()
	return protocol.Target{
		Hostname: host.Hostname,
		Config:   host,
		Local:    e.Manager.HostProperties().IsLocalhost(),
	}
}

func (e *Env) orchestrator(c *connector.Connector) *source.Orchestrator {
	return source.NewOrchestrator(source.Options{
		Executor:  e.Executor,
		Host:      e.Manager.HostConfig(),
		Target:    e.target(),
		Connector: c,
		Namespace: e.Manager.HostProperties().ConnectorNamespace(c.ID),
		Logger:    e.logger(),
	})
}

func (e *Env) poolSize() int {
	host := e.Manager.HostConfig()
	if host.Sequential || host.JobPoolSize < 1 {
		return 1
	}
	return host.JobPoolSize
}

// forEach runs fn for 0..n-1 on the job pool. It stops scheduling once ctx
// is done and returns the first error.
func (e *Env) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.poolSize())
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error { return fn(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type connectorJob struct {
	connector *connector.Connector
	job       *connector.MonitorJob
}

// jobsOf lists the jobs of the detected connectors that satisfy keep.
func (e *Env) jobsOf(keep func(*connector.MonitorJob) bool) []connectorJob {
	var out []connectorJob
	for _, c := range e.Manager.DetectedConnectors() {
		for i := range c.Jobs {
			if keep(&c.Jobs[i]) {
				out = append(out, connectorJob{connector: c, job: &c.Jobs[i]})
			}
		}
	}
	return out
}

// Run executes s bounded by timeout. A run that exceeds it returns
// ErrStrategyTimeout; sources that did not run keep their cached tables.
func Run(ctx context.Context, s Strategy, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.Run(ctx)
	strategyDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		strategyTimeouts.WithLabelValues(s.Name()).Inc()
		logger.Warn("Strategy timed out", "strategy", s.Name(), "timeout", timeout)
		return fmt.Errorf("%w: %s", ErrStrategyTimeout, s.Name())
	}
	return err
}

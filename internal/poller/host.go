// Package poller schedules host cycles and ships the collected samples to
// the optional database sink.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nmslite/engine/internal/strategy"
	"github.com/nmslite/engine/internal/telemetry"
)

const (
	cycleDiscovery = "discovery"
	cycleCollect   = "collect"
)

// SampleSink receives the samples of each cycle. *BatchWriter implements it.
type SampleSink interface {
	Submit(ctx context.Context, samples ...Sample) error
}

// HostTask runs the strategies of one host. The first cycle and every
// discovery_cycle-th cycle after it are discovery cycles.
type HostTask struct {
	env    *strategy.Env
	sink   SampleSink
	logger *slog.Logger
	clock  func() time.Time

	cycles       int
	lastStrategy int64
}

// NewHostTask builds the task for env.Manager. sink may be nil.
func NewHostTask(env *strategy.Env, sink SampleSink) *HostTask {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HostTask{
		env:  env,
		sink: sink,
		logger: logger.With(
			"component", "host_task",
			"hostname", env.Manager.Hostname(),
		),
		clock: time.Now,
	}
}

func (h *HostTask) Manager() *telemetry.TelemetryManager { return h.env.Manager }

func (h *HostTask) Hostname() string { return h.env.Manager.Hostname() }

func (h *HostTask) Interval() time.Duration { return h.env.Manager.HostConfig().CollectInterval() }

// RunCycle stamps a new strategy time and runs the strategies of the cycle
// in order. A strategy timeout or failure is logged and the cycle moves on;
// only cancellation of ctx stops it.
func (h *HostTask) RunCycle(ctx context.Context) error {
	manager := h.env.Manager
	host := manager.HostConfig()

	discovery := h.cycles%max(host.DiscoveryCycle, 1) == 0
	h.cycles++
	kind := cycleCollect
	if discovery {
		kind = cycleDiscovery
	}

	now := h.clock().UnixMilli()
	if now <= h.lastStrategy {
		now = h.lastStrategy + 1
	}
	h.lastStrategy = now
	manager.SetStrategyTime(now)

	logger := h.logger.With("cycle_id", uuid.NewString(), "cycle", kind)
	logger.Debug("Starting host cycle", "strategy_time", now)

	start := time.Now()
	if err := h.runStrategies(ctx, h.strategies(discovery), host.StrategyTimeout(), logger); err != nil {
		return err
	}
	hostCycles.WithLabelValues(manager.Hostname(), kind).Inc()
	hostCycleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if h.sink != nil {
		samples := SamplesOf(manager, now)
		if err := h.sink.Submit(ctx, samples...); err != nil {
			logger.Warn("Failed to submit samples", "count", len(samples), "error", err)
		}
	}

	logger.Info("Host cycle complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"connectors", len(manager.DetectedConnectorIDs()),
	)
	return nil
}

// runStrategies runs list in order, each bounded by timeout. Only
// cancellation of ctx stops it. Presence reconciliation is skipped when
// discovery timed out, so monitors of jobs that never ran stay present.
func (h *HostTask) runStrategies(ctx context.Context, list []strategy.Strategy, timeout time.Duration, logger *slog.Logger) error {
	discoveryTimedOut := false
	for _, s := range list {
		if discoveryTimedOut && s.Name() == strategy.NamePostDiscovery {
			logger.Warn("Skipping presence reconciliation, discovery did not complete")
			continue
		}
		err := strategy.Run(ctx, s, timeout, logger)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, strategy.ErrStrategyTimeout):
			if s.Name() == strategy.NameDiscovery {
				discoveryTimedOut = true
			}
		default:
			logger.Error("Strategy failed", "strategy", s.Name(), "error", err)
		}
	}
	return nil
}

func (h *HostTask) strategies(discovery bool) []strategy.Strategy {
	env := h.env
	if discovery {
		return []strategy.Strategy{
			strategy.NewDetection(env),
			strategy.NewPrepareSources(env),
			strategy.NewDiscovery(env),
			strategy.NewPostDiscovery(env),
			strategy.NewCollect(env),
			strategy.NewSimple(env),
			strategy.NewHardwareEnergy(env),
		}
	}
	return []strategy.Strategy{
		strategy.NewPrepareSources(env),
		strategy.NewCollect(env),
		strategy.NewSimple(env),
		strategy.NewHardwareEnergy(env),
	}
}

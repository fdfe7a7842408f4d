package strategy

import (
	"context"
	"strconv"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// Collect refreshes the metrics of monitors found by discovery. It never
// creates monitors: multi-instance rows whose id is unknown are ignored.
type Collect struct {
	env *Env
}

func NewCollect(env *Env) *Collect {
	return &Collect{env: env}
}

func (c *Collect) Name() string { return "collect" }

func (c *Collect) Run(ctx context.Context) error {
	jobs := c.env.jobsOf(func(j *connector.MonitorJob) bool { return j.Collect != nil })
	return c.env.forEach(ctx, len(jobs), func(ctx context.Context, i int) error {
		if jobs[i].job.Collect.Kind == connector.CollectMonoInstance {
			return c.collectMono(ctx, jobs[i])
		}
		return c.collectMulti(ctx, jobs[i])
	})
}

func (c *Collect) collectMulti(ctx context.Context, cj connectorJob) error {
	task := &cj.job.Collect.Task
	orch := c.env.orchestrator(cj.connector)
	if err := orch.Run(ctx, task.Sources, nil); err != nil {
		return err
	}

	manager := c.env.Manager
	mp := &mapper{connector: cj.connector, collectTime: manager.StrategyTime(), logger: c.env.logger()}
	for _, row := range orch.Namespace().SourceTable(task.Mapping.Source).Rows {
		id, _, err := evaluate(task.Mapping.Attributes[telemetry.AttributeID], row)
		if err != nil || id == "" {
			continue
		}
		m, ok := manager.FindMonitorByTypeAndID(cj.job.Type, telemetry.BuildMonitorID(cj.connector.ID, cj.job.Type, id))
		if !ok {
			continue
		}
		mp.collectMetrics(m, task.Mapping.Metrics, row)
	}
	return nil
}

// collectMono runs the task once per monitor of the job's type, with the
// monitor's attributes available as ${attribute::NAME}.
func (c *Collect) collectMono(ctx context.Context, cj connectorJob) error {
	task := &cj.job.Collect.Task
	orch := c.env.orchestrator(cj.connector)
	manager := c.env.Manager
	mp := &mapper{connector: cj.connector, collectTime: manager.StrategyTime(), logger: c.env.logger()}

	for _, m := range manager.FindMonitorsByType(cj.job.Type) {
		if m.ConnectorID() != cj.connector.ID {
			continue
		}
		if err := orch.Run(ctx, task.Sources, m.Attributes()); err != nil {
			return err
		}
		table := orch.Namespace().SourceTable(task.Mapping.Source)
		if table == nil || len(table.Rows) == 0 {
			continue
		}
		mp.collectMetrics(m, task.Mapping.Metrics, table.Rows[0])
	}
	return nil
}

// Simple runs simple jobs: every cycle they create or refresh their
// monitors and collect metrics in one pass. They are not reconciled by
// PostDiscovery.
type Simple struct {
	env *Env
}

func NewSimple(env *Env) *Simple {
	return &Simple{env: env}
}

func (s *Simple) Name() string { return "simple" }

func (s *Simple) Run(ctx context.Context) error {
	jobs := s.env.jobsOf(func(j *connector.MonitorJob) bool { return j.Simple != nil })
	return s.env.forEach(ctx, len(jobs), func(ctx context.Context, i int) error {
		return s.run(ctx, jobs[i])
	})
}

func (s *Simple) run(ctx context.Context, cj connectorJob) error {
	task := cj.job.Simple
	orch := s.env.orchestrator(cj.connector)
	if err := orch.Run(ctx, task.Sources, nil); err != nil {
		return err
	}

	manager := s.env.Manager
	now := manager.StrategyTime()
	mp := &mapper{connector: cj.connector, collectTime: now, logger: s.env.logger()}
	factory := telemetry.NewMonitorFactory(manager, cj.connector.ID, now)

	for i, row := range orch.Namespace().SourceTable(task.Mapping.Source).Rows {
		attrs := mp.attributes(task.Mapping.Attributes, row)
		id := attrs[telemetry.AttributeID]
		if id == "" {
			id = strconv.Itoa(i + 1)
			attrs[telemetry.AttributeID] = id
		}
		m := factory.CreateOrUpdateMonitor(cj.job.Type, id, attrs)
		telemetry.SetPresent(m, true, now)
		mp.collectMetrics(m, task.Mapping.Metrics, row)
	}
	return nil
}

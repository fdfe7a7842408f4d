package strategy

import (
	"context"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// PrepareSources runs the pre sources of every detected connector. Jobs
// reference their tables through ${source::pre.NAME}.
type PrepareSources struct {
	env *Env
}

func NewPrepareSources(env *Env) *PrepareSources {
	return &PrepareSources{env: env}
}

func (p *PrepareSources) Name() string { return "pre_sources" }

func (p *PrepareSources) Run(ctx context.Context) error {
	connectors := p.env.Manager.DetectedConnectors()
	return p.env.forEach(ctx, len(connectors), func(ctx context.Context, i int) error {
		c := connectors[i]
		if len(c.PreSources) == 0 {
			return nil
		}
		return p.env.orchestrator(c).Run(ctx, c.PreSources, nil)
	})
}

// Discovery runs the discovery task of every job and creates or refreshes
// one monitor per mapped row, stamped with the strategy time.
type Discovery struct {
	env *Env
}

func NewDiscovery(env *Env) *Discovery {
	return &Discovery{env: env}
}

// Names of the discovery phases, as reported by Strategy.Name.
const (
	NameDiscovery     = "discovery"
	NamePostDiscovery = "post_discovery"
)

func (d *Discovery) Name() string { return NameDiscovery }

func (d *Discovery) Run(ctx context.Context) error {
	jobs := d.env.jobsOf(func(j *connector.MonitorJob) bool { return j.Discovery != nil })
	counts := make([]int, len(jobs))

	err := d.env.forEach(ctx, len(jobs), func(ctx context.Context, i int) error {
		n, err := d.discover(ctx, jobs[i])
		counts[i] = n
		return err
	})
	if err != nil {
		return err
	}

	perConnector := map[string]int{}
	for i, cj := range jobs {
		perConnector[cj.connector.ID] += counts[i]
	}
	for id, n := range perConnector {
		discoveredMonitors.WithLabelValues(d.env.Manager.Hostname(), id).Set(float64(n))
	}
	return nil
}

func (d *Discovery) discover(ctx context.Context, cj connectorJob) (int, error) {
	task := cj.job.Discovery
	orch := d.env.orchestrator(cj.connector)
	if err := orch.Run(ctx, task.Sources, nil); err != nil {
		return 0, err
	}

	manager := d.env.Manager
	now := manager.StrategyTime()
	mp := &mapper{connector: cj.connector, collectTime: now, logger: d.env.logger()}
	factory := telemetry.NewMonitorFactory(manager, cj.connector.ID, now)

	count := 0
	for _, row := range orch.Namespace().SourceTable(task.Mapping.Source).Rows {
		attrs := mp.attributes(task.Mapping.Attributes, row)
		id := attrs[telemetry.AttributeID]
		if id == "" {
			continue
		}
		m := factory.CreateOrUpdateMonitor(cj.job.Type, id, attrs)
		telemetry.SetPresent(m, true, now)
		mp.collectMetrics(m, task.Mapping.Metrics, row)
		count++
	}

	d.env.logger().Debug("Discovered monitors",
		"hostname", manager.Hostname(),
		"connector", cj.connector.ID,
		"monitor_type", cj.job.Type,
		"count", count,
	)
	return count, nil
}

// PostDiscovery marks as missing the monitors that a discovery job owns but
// did not report in the current cycle. Every connector of the store is
// considered, so monitors of a connector that stopped passing detection are
// reconciled too. Monitors are kept so they can come back.
type PostDiscovery struct {
	env *Env
}

func NewPostDiscovery(env *Env) *PostDiscovery {
	return &PostDiscovery{env: env}
}

func (p *PostDiscovery) Name() string { return NamePostDiscovery }

type monitorOwner struct {
	connectorID string
	monitorType string
}

// discoveryOwners lists the (connector, monitor type) pairs declared by a
// discovery job.
func discoveryOwners(store *connector.Store) map[monitorOwner]struct{} {
	owners := map[monitorOwner]struct{}{}
	for _, c := range store.List() {
		for i := range c.Jobs {
			if c.Jobs[i].Discovery != nil {
				owners[monitorOwner{connectorID: c.ID, monitorType: c.Jobs[i].Type}] = struct{}{}
			}
		}
	}
	return owners
}

func (p *PostDiscovery) Run(ctx context.Context) error {
	manager := p.env.Manager
	now := manager.StrategyTime()
	owners := discoveryOwners(manager.Connectors())

	for _, m := range manager.Monitors() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Type() == telemetry.HostMonitorType || m.Type() == telemetry.ConnectorMonitorType {
			continue
		}
		if _, owned := owners[monitorOwner{connectorID: m.ConnectorID(), monitorType: m.Type()}]; !owned {
			continue
		}
		if m.DiscoveryTime() == now {
			continue
		}
		if telemetry.IsPresent(m) {
			p.env.logger().Info("Monitor missing",
				"hostname", manager.Hostname(),
				"connector", m.ConnectorID(),
				"monitor_id", m.ID(),
			)
		}
		telemetry.SetPresent(m, false, now)
		// Energy must not be integrated over the absence once it returns.
		telemetry.ResetNumberMetric(m, telemetry.PowerMetricName(m.Type()))
	}
	return nil
}

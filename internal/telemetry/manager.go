package telemetry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
)

// TelemetryManager is the per-host root aggregate. It owns the monitor
// registry, the connector namespaces and the host configuration, and lives
// for the whole engine run.
//
// FindMonitorByTypeAndID, FindMonitorsByType and AddNewMonitor are the only
// entry points that touch the registry, so (type, id) stays unique.
type TelemetryManager struct {
	host       *config.HostConfig
	properties *HostProperties
	connectors *connector.Store
	logger     *slog.Logger

	mu           sync.RWMutex
	monitors     map[string]map[string]*Monitor
	strategyTime int64
}

// NewTelemetryManager creates the registry for one host.
func NewTelemetryManager(host *config.HostConfig, connectors *connector.Store, localhost bool, logger *slog.Logger) *TelemetryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryManager{
		host:       host,
		properties: NewHostProperties(localhost),
		connectors: connectors,
		logger:     logger.With("component", "telemetry", "hostname", host.Hostname),
		monitors:   make(map[string]map[string]*Monitor),
	}
}

func (t *TelemetryManager) HostConfig() *config.HostConfig  { return t.host }
func (t *TelemetryManager) HostProperties() *HostProperties { return t.properties }
func (t *TelemetryManager) Connectors() *connector.Store    { return t.connectors }
func (t *TelemetryManager) Hostname() string                { return t.host.Hostname }
func (t *TelemetryManager) HostID() string                  { return t.host.HostID }
func (t *TelemetryManager) Logger() *slog.Logger            { return t.logger }

// StrategyTime is the timestamp (unix ms) shared by every monitor touched
// during the current cycle.
func (t *TelemetryManager) StrategyTime() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.strategyTime
}

func (t *TelemetryManager) SetStrategyTime(ts int64) {
	t.mu.Lock()
	t.strategyTime = ts
	t.mu.Unlock()
}

// FindMonitorByTypeAndID returns the monitor registered under (type, id).
func (t *TelemetryManager) FindMonitorByTypeAndID(monitorType, id string) (*Monitor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.monitors[monitorType][id]
	return m, ok
}

// FindMonitorsByType returns every monitor of a type sorted by id.
func (t *TelemetryManager) FindMonitorsByType(monitorType string) []*Monitor {
	t.mu.RLock()
	byID := t.monitors[monitorType]
	out := make([]*Monitor, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AddNewMonitor registers m unless a monitor with the same type and id
// already exists, and returns the registered one.
func (t *TelemetryManager) AddNewMonitor(m *Monitor) *Monitor {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID, ok := t.monitors[m.Type()]
	if !ok {
		byID = make(map[string]*Monitor)
		t.monitors[m.Type()] = byID
	}
	if existing, ok := byID[m.ID()]; ok {
		return existing
	}
	byID[m.ID()] = m
	t.logger.Debug("Monitor added", "monitor_type", m.Type(), "monitor_id", m.ID())
	return m
}

// Monitors returns every monitor sorted by type then id.
func (t *TelemetryManager) Monitors() []*Monitor {
	t.mu.RLock()
	var out []*Monitor
	for _, byID := range t.monitors {
		for _, m := range byID {
			out = append(out, m)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type() != out[j].Type() {
			return out[i].Type() < out[j].Type()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// MonitorTypes returns the registered monitor types, sorted.
func (t *TelemetryManager) MonitorTypes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]string, 0, len(t.monitors))
	for k := range t.monitors {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// EndpointHostMonitor returns the host monitor, creating it on first use.
func (t *TelemetryManager) EndpointHostMonitor() *Monitor {
	if m, ok := t.FindMonitorByTypeAndID(HostMonitorType, t.HostID()); ok {
		return m
	}
	m := NewMonitor(t.HostID(), HostMonitorType, "")
	m.AddAttributes(map[string]string{
		AttributeID:       t.HostID(),
		AttributeName:     t.Hostname(),
		AttributeHostName: t.Hostname(),
		"host.type":       t.host.HostType,
	})
	m.SetEndpointHost(true)
	return t.AddNewMonitor(m)
}

// DetectedConnectorIDs returns the connectors whose status metric is ok,
// in id order.
func (t *TelemetryManager) DetectedConnectorIDs() []string {
	var ids []string
	for _, m := range t.FindMonitorsByType(ConnectorMonitorType) {
		status, ok := m.StateSetMetric(ConnectorStatusMetric)
		if ok && status.Value() == ConnectorStatusOK {
			ids = append(ids, m.ConnectorID())
		}
	}
	sort.Strings(ids)
	return ids
}

// DetectedConnectors resolves DetectedConnectorIDs against the store.
func (t *TelemetryManager) DetectedConnectors() []*connector.Connector {
	var out []*connector.Connector
	for _, id := range t.DetectedConnectorIDs() {
		if c, ok := t.connectors.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

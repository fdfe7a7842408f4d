// Package exporter publishes the monitor registry of every host: a
// Prometheus collector, a read-only JSON API and periodic MQTT snapshots.
// Nothing in this package writes to the registry.
package exporter

import (
	"strings"

	"github.com/nmslite/engine/internal/telemetry"
)

// Hosts is the set of host registries the engine runs.
type Hosts []*telemetry.TelemetryManager

// Find returns the registry of hostname.
func (h Hosts) Find(hostname string) (*telemetry.TelemetryManager, bool) {
	for _, m := range h {
		if strings.EqualFold(m.Hostname(), hostname) {
			return m, true
		}
	}
	return nil, false
}

type HostSummary struct {
	Hostname     string   `json:"hostname"`
	HostID       string   `json:"host_id"`
	HostType     string   `json:"host_type"`
	Connectors   []string `json:"connectors"`
	Monitors     int      `json:"monitors"`
	StrategyTime int64    `json:"strategy_time"`
}

type MonitorView struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	ConnectorID   string            `json:"connector_id,omitempty"`
	ParentID      string            `json:"parent_id,omitempty"`
	DiscoveryTime int64             `json:"discovery_time"`
	Attributes    map[string]string `json:"attributes"`
	Metrics       []MetricView      `json:"metrics"`
}

type MetricView struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Value       any      `json:"value"`
	StateSet    []string `json:"state_set,omitempty"`
	CollectTime int64    `json:"collect_time"`
}

type HostSnapshot struct {
	Host     HostSummary   `json:"host"`
	Monitors []MonitorView `json:"monitors"`
}

func Summarize(m *telemetry.TelemetryManager) HostSummary {
	connectors := m.DetectedConnectorIDs()
	if connectors == nil {
		connectors = []string{}
	}
	return HostSummary{
		Hostname:     m.Hostname(),
		HostID:       m.HostID(),
		HostType:     m.HostConfig().HostType,
		Connectors:   connectors,
		Monitors:     len(m.Monitors()),
		StrategyTime: m.StrategyTime(),
	}
}

// MonitorsOf renders the monitors of m, restricted to monitorType unless it
// is empty. Hidden metrics are left out.
func MonitorsOf(m *telemetry.TelemetryManager, monitorType string) []MonitorView {
	var monitors []*telemetry.Monitor
	if monitorType == "" {
		monitors = m.Monitors()
	} else {
		monitors = m.FindMonitorsByType(monitorType)
	}

	views := make([]MonitorView, 0, len(monitors))
	for _, mon := range monitors {
		views = append(views, viewOf(mon))
	}
	return views
}

func Snapshot(m *telemetry.TelemetryManager) HostSnapshot {
	return HostSnapshot{Host: Summarize(m), Monitors: MonitorsOf(m, "")}
}

func viewOf(m *telemetry.Monitor) MonitorView {
	v := MonitorView{
		ID:            m.ID(),
		Type:          m.Type(),
		ConnectorID:   m.ConnectorID(),
		ParentID:      m.ParentID(),
		DiscoveryTime: m.DiscoveryTime(),
		Attributes:    m.Attributes(),
		Metrics:       []MetricView{},
	}
	for _, s := range m.Metrics() {
		if strings.HasPrefix(s.Name, telemetry.HiddenMetricPrefix) {
			continue
		}
		mv := MetricView{Name: s.Name, Kind: string(s.Kind), CollectTime: s.CollectTime}
		switch s.Kind {
		case telemetry.KindNumber:
			mv.Value = s.Number
		case telemetry.KindStateSet:
			mv.Value = s.State
			mv.StateSet = s.StateSet
		default:
			mv.Value = s.Text
		}
		v.Metrics = append(v.Metrics, mv)
	}
	return v
}

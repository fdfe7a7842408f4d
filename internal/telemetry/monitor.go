package telemetry

import (
	"maps"
	"sort"
	"sync"
)

// Well-known monitor types and attributes.
const (
	HostMonitorType      = "host"
	ConnectorMonitorType = "connector"

	AttributeID       = "id"
	AttributeName     = "name"
	AttributeHostName = "host.name"
)

// Monitor is a discovered entity such as one fan or one enclosure. Monitors
// are never removed from the registry; absence is carried by the present
// metric.
type Monitor struct {
	id          string
	monitorType string
	connectorID string

	mu            sync.RWMutex
	attributes    map[string]string
	metrics       map[string]Metric
	discoveryTime int64
	endpoint      bool
	endpointHost  bool
	parentID      string
}

// NewMonitor creates a monitor with the given identity.
func NewMonitor(id, monitorType, connectorID string) *Monitor {
	return &Monitor{
		id:          id,
		monitorType: monitorType,
		connectorID: connectorID,
		attributes:  make(map[string]string),
		metrics:     make(map[string]Metric),
	}
}

func (m *Monitor) ID() string          { return m.id }
func (m *Monitor) Type() string        { return m.monitorType }
func (m *Monitor) ConnectorID() string { return m.connectorID }

// Attribute returns one attribute value, or "" when unset.
func (m *Monitor) Attribute(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attributes[name]
}

// Attributes returns a copy of all attributes.
func (m *Monitor) Attributes() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.attributes)
}

// AddAttributes merges attrs over the existing attributes.
func (m *Monitor) AddAttributes(attrs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.attributes, attrs)
}

func (m *Monitor) DiscoveryTime() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.discoveryTime
}

func (m *Monitor) SetDiscoveryTime(t int64) {
	m.mu.Lock()
	m.discoveryTime = t
	m.mu.Unlock()
}

func (m *Monitor) IsEndpoint() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

func (m *Monitor) IsEndpointHost() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpointHost
}

// SetEndpointHost flags the monitor as the host being monitored.
func (m *Monitor) SetEndpointHost(v bool) {
	m.mu.Lock()
	m.endpointHost = v
	m.endpoint = m.endpoint || v
	m.mu.Unlock()
}

// ParentID returns the id of the monitor this one is attached to.
func (m *Monitor) ParentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parentID
}

func (m *Monitor) SetParentID(id string) {
	m.mu.Lock()
	m.parentID = id
	m.mu.Unlock()
}

// NumberMetric returns a copy of the named number metric.
func (m *Monitor) NumberMetric(name string) (NumberMetric, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.metrics[name].(*NumberMetric); ok {
		return *v, true
	}
	return NumberMetric{}, false
}

// StateSetMetric returns a copy of the named state set metric.
func (m *Monitor) StateSetMetric(name string) (StateSetMetric, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.metrics[name].(*StateSetMetric); ok {
		c := *v
		c.stateSet = v.StateSet()
		return c, true
	}
	return StateSetMetric{}, false
}

// TextMetric returns a copy of the named text metric.
func (m *Monitor) TextMetric(name string) (TextMetric, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.metrics[name].(*TextMetric); ok {
		return *v, true
	}
	return TextMetric{}, false
}

// MetricNames returns the sorted names of all metrics.
func (m *Monitor) MetricNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.metrics))
	for name := range m.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics returns a snapshot of every metric sorted by name.
func (m *Monitor) Metrics() []MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MetricSnapshot, 0, len(m.metrics))
	for _, metric := range m.metrics {
		out = append(out, snapshotOf(metric))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// collectNumber creates the metric or advances it, then writes the value.
func (m *Monitor) collectNumber(name string, value float64, t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectNumberLocked(name, value, t)
}

func (m *Monitor) collectNumberLocked(name string, value float64, t int64) {
	metric, ok := m.metrics[name].(*NumberMetric)
	if !ok {
		metric = &NumberMetric{name: name}
		m.metrics[name] = metric
	} else {
		metric.Advance()
	}
	metric.set(value, t)
}

func (m *Monitor) collectStateSet(name, value string, stateSet []string, t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[name].(*StateSetMetric)
	if !ok {
		metric = &StateSetMetric{name: name}
		m.metrics[name] = metric
	} else {
		metric.Advance()
	}
	metric.set(value, stateSet, t)
}

func (m *Monitor) collectText(name, value string, t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[name].(*TextMetric)
	if !ok {
		metric = &TextMetric{name: name}
		m.metrics[name] = metric
	} else {
		metric.Advance()
	}
	metric.set(value, t)
}

// withLock runs fn while holding the monitor write lock, for computations
// that read one metric and write another.
func (m *Monitor) withLock(fn func(metrics map[string]Metric)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.metrics)
}

package telemetry

import (
	"strings"
)

// BuildMonitorID derives the registry id of a monitor. Whitespace is
// removed so ids differing only by spacing collapse to one monitor.
func BuildMonitorID(connectorID, monitorType, id string) string {
	return strings.Join(strings.Fields(connectorID+"_"+monitorType+"_"+id), "")
}

// MonitorFactory creates or refreshes the monitors reported by one
// connector during one cycle.
type MonitorFactory struct {
	manager       *TelemetryManager
	connectorID   string
	discoveryTime int64
}

func NewMonitorFactory(manager *TelemetryManager, connectorID string, discoveryTime int64) *MonitorFactory {
	return &MonitorFactory{manager: manager, connectorID: connectorID, discoveryTime: discoveryTime}
}

// CreateOrUpdateMonitor registers the monitor identified by instanceID, or
// refreshes its attributes and discovery time when it already exists.
func (f *MonitorFactory) CreateOrUpdateMonitor(monitorType, instanceID string, attributes map[string]string) *Monitor {
	id := BuildMonitorID(f.connectorID, monitorType, instanceID)

	m, ok := f.manager.FindMonitorByTypeAndID(monitorType, id)
	if !ok {
		m = f.manager.AddNewMonitor(NewMonitor(id, monitorType, f.connectorID))
	}

	m.AddAttributes(attributes)
	m.SetDiscoveryTime(f.discoveryTime)
	if m.ParentID() == "" && monitorType != HostMonitorType {
		m.SetParentID(f.manager.HostID())
	}
	return m
}

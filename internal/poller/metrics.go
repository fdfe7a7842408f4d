package poller

import (
	"strings"
	"time"

	"github.com/nmslite/engine/internal/telemetry"
)

// Sample is one metric observation ready for the database sink. State-set
// metrics produce a sample of value 1 carrying the current state.
type Sample struct {
	Timestamp   time.Time
	Hostname    string
	MonitorID   string
	MonitorType string
	ConnectorID string
	Name        string
	Value       float64
	State       string
}

// SamplesOf extracts the number and state-set metrics collected at
// collectTime on the monitors of manager. Text metrics and hidden
// bookkeeping metrics are left out.
func SamplesOf(manager *telemetry.TelemetryManager, collectTime int64) []Sample {
	ts := time.UnixMilli(collectTime).UTC()
	var samples []Sample
	for _, m := range manager.Monitors() {
		for _, metric := range m.Metrics() {
			if metric.CollectTime != collectTime || strings.HasPrefix(metric.Name, telemetry.HiddenMetricPrefix) {
				continue
			}
			s := Sample{
				Timestamp:   ts,
				Hostname:    manager.Hostname(),
				MonitorID:   m.ID(),
				MonitorType: m.Type(),
				ConnectorID: m.ConnectorID(),
				Name:        metric.Name,
			}
			switch metric.Kind {
			case telemetry.KindNumber:
				s.Value = metric.Number
			case telemetry.KindStateSet:
				s.Value = 1
				s.State = metric.State
			default:
				continue
			}
			samples = append(samples, s)
		}
	}
	return samples
}

package telemetry

import "fmt"

// Metric names the engine writes itself.
const (
	ConnectorStatusMetric = "engine.connector.status"
	ConnectorStatusOK     = "ok"
	ConnectorStatusFailed = "failed"

	HostPowerMetric  = "hw.host.power"
	HostEnergyMetric = "hw.host.energy"

	// HiddenMetricPrefix marks bookkeeping metrics that exporters skip.
	HiddenMetricPrefix = "__"
)

// ConnectorStatusStates is the state set of ConnectorStatusMetric.
var ConnectorStatusStates = []string{ConnectorStatusOK, ConnectorStatusFailed}

// PresentMetricName is the presence metric of a monitor type.
func PresentMetricName(monitorType string) string {
	return fmt.Sprintf(`hw.status{hw.type="%s", state="present"}`, monitorType)
}

func PowerMetricName(monitorType string) string {
	return fmt.Sprintf(`hw.power{hw.type="%s"}`, monitorType)
}

func EnergyMetricName(monitorType string) string {
	return fmt.Sprintf(`hw.energy{hw.type="%s"}`, monitorType)
}

// CollectNumberMetric creates the metric on first use; afterwards the
// current value is moved to previous before value is written.
func CollectNumberMetric(m *Monitor, name string, value float64, collectTime int64) {
	m.collectNumber(name, value, collectTime)
}

func CollectStateSetMetric(m *Monitor, name, value string, stateSet []string, collectTime int64) {
	m.collectStateSet(name, value, stateSet, collectTime)
}

func CollectTextMetric(m *Monitor, name, value string, collectTime int64) {
	m.collectText(name, value, collectTime)
}

// SetPresent writes the presence metric of m.
func SetPresent(m *Monitor, present bool, collectTime int64) {
	v := 0.0
	if present {
		v = 1
	}
	m.collectNumber(PresentMetricName(m.Type()), v, collectTime)
}

// IsPresent reports the presence value of m. Monitors without a presence
// metric count as present.
func IsPresent(m *Monitor) bool {
	p, ok := m.NumberMetric(PresentMetricName(m.Type()))
	return !ok || p.Value() == 1
}

// ResetNumberMetric drops the current and previous samples of name, so the
// next sample starts a new series. Counters derived from it keep their
// value.
func ResetNumberMetric(m *Monitor, name string) {
	m.withLock(func(metrics map[string]Metric) {
		if n, ok := metrics[name].(*NumberMetric); ok {
			n.hasValue = false
			n.hasPrevious = false
		}
	})
}

// CollectEnergyFromPower integrates the power metric into the energy
// counter: energy += power * elapsed seconds since the previous power
// sample. Nothing is written when power has no previous sample.
func CollectEnergyFromPower(m *Monitor, powerName, energyName string) (float64, bool) {
	var (
		energy float64
		ok     bool
	)
	m.withLock(func(metrics map[string]Metric) {
		power, isNumber := metrics[powerName].(*NumberMetric)
		if !isNumber || !power.hasPrevious {
			return
		}

		delta := power.value * float64(power.collectTime-power.previousCollectTime) / 1000
		if current, exists := metrics[energyName].(*NumberMetric); exists && current.hasValue {
			delta += current.value
		}
		m.collectNumberLocked(energyName, delta, power.collectTime)
		energy, ok = delta, true
	})
	return energy, ok
}

// CollectRate records counter under a hidden metric and writes the
// per-second rate under name. The first sample, a zero interval and a
// counter reset produce nothing.
func CollectRate(m *Monitor, name string, counter float64, collectTime int64) (float64, bool) {
	hidden := HiddenMetricPrefix + "rate." + name

	var (
		rate float64
		ok   bool
	)
	m.withLock(func(metrics map[string]Metric) {
		m.collectNumberLocked(hidden, counter, collectTime)
		c := metrics[hidden].(*NumberMetric)
		if !c.hasPrevious {
			return
		}
		elapsed := float64(c.collectTime-c.previousCollectTime) / 1000
		if elapsed <= 0 || c.value < c.previousValue {
			return
		}
		rate = (c.value - c.previousValue) / elapsed
		m.collectNumberLocked(name, rate, collectTime)
		ok = true
	})
	return rate, ok
}

// CollectFakeCounter integrates a per-second rate into a counter written
// under name. The first sample only starts the clock.
func CollectFakeCounter(m *Monitor, name string, rate float64, collectTime int64) (float64, bool) {
	hidden := HiddenMetricPrefix + "fakeCounter." + name

	var (
		counter float64
		ok      bool
	)
	m.withLock(func(metrics map[string]Metric) {
		m.collectNumberLocked(hidden, rate, collectTime)
		r := metrics[hidden].(*NumberMetric)
		if !r.hasPrevious {
			return
		}
		counter = r.value * float64(r.collectTime-r.previousCollectTime) / 1000
		if current, exists := metrics[name].(*NumberMetric); exists && current.hasValue {
			counter += current.value
		}
		m.collectNumberLocked(name, counter, collectTime)
		ok = true
	})
	return counter, ok
}

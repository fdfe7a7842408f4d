package strategy

import (
	"context"
	"sort"

	"github.com/nmslite/engine/internal/telemetry"
)

// HardwareEnergy estimates the power of present monitors whose type has a
// configured estimate, integrates it into energy and sums both on the host
// monitor. A power value collected by a connector in this cycle takes
// precedence over the estimate.
type HardwareEnergy struct {
	env *Env
}

func NewHardwareEnergy(env *Env) *HardwareEnergy {
	return &HardwareEnergy{env: env}
}

func (h *HardwareEnergy) Name() string { return "hardware_energy" }

func (h *HardwareEnergy) Run(ctx context.Context) error {
	manager := h.env.Manager
	estimates := manager.HostConfig().PowerEstimates
	if len(estimates) == 0 {
		return nil
	}
	now := manager.StrategyTime()

	types := make([]string, 0, len(estimates))
	for t := range estimates {
		types = append(types, t)
	}
	sort.Strings(types)

	var (
		total   float64
		reports int
	)
	for _, monitorType := range types {
		if err := ctx.Err(); err != nil {
			return err
		}
		if monitorType == telemetry.HostMonitorType || monitorType == telemetry.ConnectorMonitorType {
			continue
		}

		powerName := telemetry.PowerMetricName(monitorType)
		energyName := telemetry.EnergyMetricName(monitorType)
		for _, m := range manager.FindMonitorsByType(monitorType) {
			if !telemetry.IsPresent(m) {
				continue
			}
			power, ok := m.NumberMetric(powerName)
			if !ok || power.CollectTime() != now {
				telemetry.CollectNumberMetric(m, powerName, estimates[monitorType], now)
				power, _ = m.NumberMetric(powerName)
			}
			telemetry.CollectEnergyFromPower(m, powerName, energyName)
			total += power.Value()
			reports++
		}
	}

	host := manager.EndpointHostMonitor()
	if reports == 0 {
		telemetry.ResetNumberMetric(host, telemetry.HostPowerMetric)
		return nil
	}
	telemetry.CollectNumberMetric(host, telemetry.HostPowerMetric, total, now)
	telemetry.CollectEnergyFromPower(host, telemetry.HostPowerMetric, telemetry.HostEnergyMetric)
	return nil
}

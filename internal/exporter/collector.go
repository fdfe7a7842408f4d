package exporter

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmslite/engine/internal/telemetry"
)

// Labels added to every exported sample.
const (
	LabelHost        = "host"
	LabelMonitorID   = "monitor_id"
	LabelMonitorType = "monitor_type"
	LabelConnector   = "connector"
	LabelState       = "state"
)

var (
	labelPattern   = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\s*=\s*"([^"]*)"`)
	invalidPattern = regexp.MustCompile(`[^A-Za-z0-9_:]`)
)

// Collector exposes number and state-set metrics of every monitor as
// gauges. It is an unchecked collector: the series set changes with
// discovery.
type Collector struct {
	hosts  Hosts
	logger *slog.Logger
}

func NewCollector(hosts Hosts, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{hosts: hosts, logger: logger.With("component", "prometheus_collector")}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, manager := range c.hosts {
		for _, m := range manager.Monitors() {
			fixed := map[string]string{
				LabelHost:        manager.Hostname(),
				LabelMonitorID:   m.ID(),
				LabelMonitorType: m.Type(),
				LabelConnector:   m.ConnectorID(),
			}
			for _, s := range m.Metrics() {
				if strings.HasPrefix(s.Name, telemetry.HiddenMetricPrefix) {
					continue
				}
				base, labels := ParseMetricName(s.Name)
				for k, v := range fixed {
					labels[k] = v
				}

				switch s.Kind {
				case telemetry.KindNumber:
					c.emit(ch, base, labels, s.Number)
				case telemetry.KindStateSet:
					for _, state := range s.StateSet {
						labels[LabelState] = state
						value := 0.0
						if state == s.State {
							value = 1
						}
						c.emit(ch, base, labels, value)
					}
				}
			}
		}
	}
}

func (c *Collector) emit(ch chan<- prometheus.Metric, base string, labels map[string]string, value float64) {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}

	name := SanitizeName(base)
	desc := prometheus.NewDesc(name, "Monitor metric "+base, names, nil)
	metric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, values...)
	if err != nil {
		c.logger.Debug("Skipping metric", "metric", name, "error", err)
		return
	}
	ch <- metric
}

// ParseMetricName splits `hw.status{hw.type="fan", state="present"}` into
// its base name and sanitized label pairs.
func ParseMetricName(name string) (string, map[string]string) {
	labels := map[string]string{}
	i := strings.Index(name, "{")
	if i < 0 {
		return strings.TrimSpace(name), labels
	}
	for _, m := range labelPattern.FindAllStringSubmatch(name[i:], -1) {
		labels[SanitizeName(m[1])] = m[2]
	}
	return strings.TrimSpace(name[:i]), labels
}

// SanitizeName maps a dotted metric or label name to the Prometheus
// character set.
func SanitizeName(s string) string {
	s = invalidPattern.ReplaceAllString(s, "_")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

package strategy

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// Mapping functions.
const (
	fnPercent2Ratio   = "percent2Ratio"
	fnMegaHertz2Hertz = "megaHertz2Hertz"
	fnMebiByte2Byte   = "mebiByte2Byte"
	fnBoolean         = "boolean"
	fnRate            = "rate"
	fnFakeCounter     = "fakeCounter"
)

var (
	functionPattern = regexp.MustCompile(`^\s*([A-Za-z0-9]+)\((.*)\)\s*$`)
	columnPattern   = regexp.MustCompile(`\$(\d+)`)
)

// interpolate replaces every $N by cell N of row; missing cells become "".
func interpolate(expr string, row []string) string {
	return columnPattern.ReplaceAllStringFunc(expr, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(row) {
			return ""
		}
		return strings.TrimSpace(row[n-1])
	})
}

// evaluate computes a mapping expression against row. For rate and
// fakeCounter the interpolated argument is returned along with the function
// name, since their value depends on the monitor's previous samples.
func evaluate(expr string, row []string) (value, stateful string, err error) {
	m := functionPattern.FindStringSubmatch(expr)
	if m == nil {
		return interpolate(expr, row), "", nil
	}

	fn, arg := m[1], interpolate(m[2], row)
	switch fn {
	case fnRate, fnFakeCounter:
		return arg, fn, nil
	case fnBoolean:
		return booleanValue(arg), "", nil
	case fnPercent2Ratio:
		value, err = scale(arg, 0.01)
	case fnMegaHertz2Hertz:
		value, err = scale(arg, 1e6)
	case fnMebiByte2Byte:
		value, err = scale(arg, 1<<20)
	default:
		return "", "", fmt.Errorf("%w: unknown function %q", ErrInvalidMapping, fn)
	}
	return value, "", err
}

func scale(s string, factor float64) (string, error) {
	if s == "" {
		return "", nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidMapping, s)
	}
	return strconv.FormatFloat(v*factor, 'f', -1, 64), nil
}

func booleanValue(s string) string {
	switch strings.ToLower(s) {
	case "true", "yes":
		return "1"
	case "false", "no":
		return "0"
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v != 0 {
			return "1"
		}
		return "0"
	}
	return ""
}

// mapper folds source table rows into monitor attributes and metrics.
type mapper struct {
	connector   *connector.Connector
	collectTime int64
	logger      *slog.Logger
}

func (mp *mapper) attributes(exprs map[string]string, row []string) map[string]string {
	attrs := make(map[string]string, len(exprs))
	for name, expr := range exprs {
		v, _, err := evaluate(expr, row)
		if err != nil {
			mp.logger.Debug("Skipping attribute", "attribute", name, "error", err)
			continue
		}
		attrs[name] = v
	}
	return attrs
}

// collectMetrics writes the metrics of row on m. Metrics declared with a
// state set become state-set metrics, numbers become number metrics and
// any other non-empty value a text metric.
func (mp *mapper) collectMetrics(m *telemetry.Monitor, exprs map[string]string, row []string) {
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, stateful, err := evaluate(exprs[name], row)
		if err != nil {
			mp.logger.Debug("Skipping metric", "monitor_id", m.ID(), "metric", name, "error", err)
			continue
		}
		if value == "" {
			continue
		}

		if stateful != "" {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				mp.logger.Debug("Skipping non-numeric counter", "monitor_id", m.ID(), "metric", name, "value", value)
				continue
			}
			if stateful == fnRate {
				telemetry.CollectRate(m, name, v, mp.collectTime)
			} else {
				telemetry.CollectFakeCounter(m, name, v, mp.collectTime)
			}
			continue
		}

		if def, ok := mp.definition(name); ok && len(def.StateSet) > 0 {
			telemetry.CollectStateSetMetric(m, name, value, def.StateSet, mp.collectTime)
			continue
		}
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			telemetry.CollectNumberMetric(m, name, v, mp.collectTime)
			continue
		}
		telemetry.CollectTextMetric(m, name, value, mp.collectTime)
	}
}

// definition finds the metric definition of name, ignoring a {...} label
// suffix.
func (mp *mapper) definition(name string) (connector.MetricDefinition, bool) {
	if def, ok := mp.connector.Metrics[name]; ok {
		return def, true
	}
	if i := strings.Index(name, "{"); i > 0 {
		def, ok := mp.connector.Metrics[strings.TrimSpace(name[:i])]
		return def, ok
	}
	return connector.MetricDefinition{}, false
}

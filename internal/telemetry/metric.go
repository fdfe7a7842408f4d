package telemetry

// MetricKind identifies the value type carried by a metric.
type MetricKind string

const (
	KindNumber   MetricKind = "number"
	KindStateSet MetricKind = "stateSet"
	KindText     MetricKind = "text"
)

// Metric is a named value on a monitor that keeps its previous observation.
// Advance moves current to previous and must run once before each new
// value is written.
type Metric interface {
	Name() string
	Kind() MetricKind
	CollectTime() int64
	PreviousCollectTime() int64
	HasPrevious() bool
	Advance()
}

// NumberMetric is a numeric gauge or counter.
type NumberMetric struct {
	name                string
	value               float64
	previousValue       float64
	collectTime         int64
	previousCollectTime int64
	hasValue            bool
	hasPrevious         bool
}

func (m *NumberMetric) Name() string               { return m.name }
func (m *NumberMetric) Kind() MetricKind           { return KindNumber }
func (m *NumberMetric) Value() float64             { return m.value }
func (m *NumberMetric) PreviousValue() float64     { return m.previousValue }
func (m *NumberMetric) CollectTime() int64         { return m.collectTime }
func (m *NumberMetric) PreviousCollectTime() int64 { return m.previousCollectTime }
func (m *NumberMetric) HasPrevious() bool          { return m.hasPrevious }

func (m *NumberMetric) Advance() {
	if !m.hasValue {
		return
	}
	m.previousValue = m.value
	m.previousCollectTime = m.collectTime
	m.hasPrevious = true
}

func (m *NumberMetric) set(value float64, collectTime int64) {
	m.value = value
	m.collectTime = collectTime
	m.hasValue = true
}

// StateSetMetric holds one state out of a declared set, for example ok,
// degraded or failed.
type StateSetMetric struct {
	name                string
	stateSet            []string
	value               string
	previousValue       string
	collectTime         int64
	previousCollectTime int64
	hasValue            bool
	hasPrevious         bool
}

func (m *StateSetMetric) Name() string               { return m.name }
func (m *StateSetMetric) Kind() MetricKind           { return KindStateSet }
func (m *StateSetMetric) Value() string              { return m.value }
func (m *StateSetMetric) PreviousValue() string      { return m.previousValue }
func (m *StateSetMetric) StateSet() []string         { return append([]string(nil), m.stateSet...) }
func (m *StateSetMetric) CollectTime() int64         { return m.collectTime }
func (m *StateSetMetric) PreviousCollectTime() int64 { return m.previousCollectTime }
func (m *StateSetMetric) HasPrevious() bool          { return m.hasPrevious }

func (m *StateSetMetric) Advance() {
	if !m.hasValue {
		return
	}
	m.previousValue = m.value
	m.previousCollectTime = m.collectTime
	m.hasPrevious = true
}

func (m *StateSetMetric) set(value string, stateSet []string, collectTime int64) {
	m.value = value
	if len(stateSet) > 0 {
		m.stateSet = append([]string(nil), stateSet...)
	}
	m.collectTime = collectTime
	m.hasValue = true
}

// TextMetric holds a free-form string value.
type TextMetric struct {
	name                string
	value               string
	previousValue       string
	collectTime         int64
	previousCollectTime int64
	hasValue            bool
	hasPrevious         bool
}

func (m *TextMetric) Name() string               { return m.name }
func (m *TextMetric) Kind() MetricKind           { return KindText }
func (m *TextMetric) Value() string              { return m.value }
func (m *TextMetric) PreviousValue() string      { return m.previousValue }
func (m *TextMetric) CollectTime() int64         { return m.collectTime }
func (m *TextMetric) PreviousCollectTime() int64 { return m.previousCollectTime }
func (m *TextMetric) HasPrevious() bool          { return m.hasPrevious }

func (m *TextMetric) Advance() {
	if !m.hasValue {
		return
	}
	m.previousValue = m.value
	m.previousCollectTime = m.collectTime
	m.hasPrevious = true
}

func (m *TextMetric) set(value string, collectTime int64) {
	m.value = value
	m.collectTime = collectTime
	m.hasValue = true
}

// MetricSnapshot is a copy of a metric taken under the monitor lock, safe to
// read while collection continues.
type MetricSnapshot struct {
	Name        string
	Kind        MetricKind
	Number      float64
	State       string
	StateSet    []string
	Text        string
	CollectTime int64
}

func snapshotOf(m Metric) MetricSnapshot {
	s := MetricSnapshot{Name: m.Name(), Kind: m.Kind(), CollectTime: m.CollectTime()}
	switch v := m.(type) {
	case *NumberMetric:
		s.Number = v.value
	case *StateSetMetric:
		s.State = v.value
		s.StateSet = v.StateSet()
	case *TextMetric:
		s.Text = v.value
	}
	return s
}

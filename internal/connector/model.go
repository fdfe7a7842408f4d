package connector

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Connector is the read-only object graph of one connector file.
type Connector struct {
	ID           string
	DisplayName  string
	Detection    Detection
	Translations map[string]TranslationTable
	Metrics      map[string]MetricDefinition
	PreSources   []Source
	Jobs         []MonitorJob
}

// Translation returns the named translation table. The name may be given
// bare or as ${translation::NAME}.
func (c *Connector) Translation(name string) (TranslationTable, bool) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "${translation::") && strings.HasSuffix(name, "}") {
		name = strings.TrimSuffix(strings.TrimPrefix(name, "${translation::"), "}")
	}
	t, ok := c.Translations[name]
	return t, ok
}

// Job returns the monitor job declared for monitorType.
func (c *Connector) Job(monitorType string) (*MonitorJob, bool) {
	for i := range c.Jobs {
		if c.Jobs[i].Type == monitorType {
			return &c.Jobs[i], true
		}
	}
	return nil, false
}

// MetricDefinition describes a metric a connector may report.
type MetricDefinition struct {
	Unit        string   `yaml:"unit"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type" validate:"omitempty,oneof=gauge counter updownCounter"`
	StateSet    []string `yaml:"stateSet"`
}

// TranslationTable maps raw values to normalized ones.
type TranslationTable map[string]string

// DefaultTranslationKey holds the value used when no key matches.
const DefaultTranslationKey = "default"

// Lookup matches key case-insensitively, falling back to the "default" entry.
func (t TranslationTable) Lookup(key string) (string, bool) {
	if v, ok := t[key]; ok {
		return v, true
	}
	for k, v := range t {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	v, ok := t[DefaultTranslationKey]
	return v, ok
}

// Detection decides whether the connector applies to a host.
type Detection struct {
	AppliesTo  []string    `yaml:"appliesTo"`
	Supersedes []string    `yaml:"supersedes"`
	Criteria   []Criterion `yaml:"criteria"`
}

type CriterionType string

const (
	CriterionSNMPGet             CriterionType = "snmpGet"
	CriterionSNMPGetNext         CriterionType = "snmpGetNext"
	CriterionCommandLine         CriterionType = "commandLine"
	CriterionWMI                 CriterionType = "wmi"
	CriterionHTTP                CriterionType = "http"
	CriterionIPMI                CriterionType = "ipmi"
	CriterionSQL                 CriterionType = "sql"
	CriterionDeviceType          CriterionType = "deviceType"
	CriterionProductRequirements CriterionType = "productRequirements"
)

// Criterion is one detection test. Protocol criteria carry a Source that
// is executed like any other source; the others are evaluated locally.
type Criterion struct {
	Type           CriterionType
	Source         *Source
	ExpectedResult string
	ErrorMessage   string
	Keep           []string
	Exclude        []string
	EngineVersion  string
}

func (c *Criterion) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type           string `yaml:"type"`
		ExpectedResult string `yaml:"expectedResult"`
		ErrorMessage   string `yaml:"errorMessage"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}

	c.Type = CriterionType(head.Type)
	c.ExpectedResult = head.ExpectedResult
	c.ErrorMessage = head.ErrorMessage

	switch c.Type {
	case CriterionDeviceType:
		var dt struct {
			Keep    []string `yaml:"keep"`
			Exclude []string `yaml:"exclude"`
		}
		if err := node.Decode(&dt); err != nil {
			return err
		}
		c.Keep, c.Exclude = dt.Keep, dt.Exclude
	case CriterionProductRequirements:
		var pr struct {
			EngineVersion string `yaml:"engineVersion"`
		}
		if err := node.Decode(&pr); err != nil {
			return err
		}
		c.EngineVersion = pr.EngineVersion
	case CriterionSNMPGet, CriterionSNMPGetNext, CriterionCommandLine,
		CriterionWMI, CriterionHTTP, CriterionIPMI, CriterionSQL:
		var src Source
		if err := node.Decode(&src); err != nil {
			return err
		}
		c.Source = &src
	default:
		return fmt.Errorf("line %d: %w %q", node.Line, ErrUnknownCriterionType, head.Type)
	}
	return nil
}

// MonitorJob groups the tasks that discover and collect one monitor type.
type MonitorJob struct {
	Type      string
	Discovery *Task
	Collect   *CollectTask
	Simple    *Task
}

// Tasks returns the job's declared tasks in execution order.
func (j *MonitorJob) Tasks() []*Task {
	var tasks []*Task
	if j.Discovery != nil {
		tasks = append(tasks, j.Discovery)
	}
	if j.Collect != nil {
		tasks = append(tasks, &j.Collect.Task)
	}
	if j.Simple != nil {
		tasks = append(tasks, j.Simple)
	}
	return tasks
}

// Task is an ordered list of sources and the mapping applied to the
// resulting table.
type Task struct {
	Sources []Source
	Mapping *Mapping
}

func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Sources yaml.Node `yaml:"sources"`
		Mapping *Mapping  `yaml:"mapping"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	sources, err := decodeNamedSources(&raw.Sources)
	if err != nil {
		return err
	}
	t.Sources = sources
	t.Mapping = raw.Mapping
	return nil
}

type CollectKind string

const (
	CollectMultiInstance CollectKind = "multiInstance"
	CollectMonoInstance  CollectKind = "monoInstance"
)

// CollectTask is a Task whose rows either match monitors by id
// (multi-instance) or run once per monitor (mono-instance).
type CollectTask struct {
	Task
	Kind CollectKind
}

func (c *CollectTask) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	switch CollectKind(head.Type) {
	case "", CollectMultiInstance:
		c.Kind = CollectMultiInstance
	case CollectMonoInstance:
		c.Kind = CollectMonoInstance
	default:
		return fmt.Errorf("line %d: %w %q", node.Line, ErrUnknownCollectType, head.Type)
	}
	return c.Task.UnmarshalYAML(node)
}

// Mapping turns the rows of Source into monitor attributes and metrics.
// Values are mapping expressions such as "$2" or "percent2Ratio($3)".
type Mapping struct {
	Source     string            `yaml:"source" validate:"required"`
	Attributes map[string]string `yaml:"attributes"`
	Metrics    map[string]string `yaml:"metrics"`
}

// SourceKeyOf extracts the source key from a ${source::KEY} reference.
// Bare keys are returned unchanged.
func SourceKeyOf(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "${source::") && strings.HasSuffix(ref, "}") {
		return ref[len("${source::") : len(ref)-1]
	}
	return ref
}

// decodeNamedSources decodes a "name: source" mapping keeping document
// order. Each source's Key is set to its bare name.
func decodeNamedSources(node *yaml.Node) ([]Source, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: sources must be a mapping", node.Line)
	}

	sources := make([]Source, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var src Source
		if err := node.Content[i+1].Decode(&src); err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		src.Key = name
		sources = append(sources, src)
	}
	return sources, nil
}

// decodeNamedJobs decodes the "monitors" mapping keeping document order.
func decodeNamedJobs(node *yaml.Node) ([]MonitorJob, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: monitors must be a mapping", node.Line)
	}

	jobs := make([]MonitorJob, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var raw struct {
			Discovery *Task        `yaml:"discovery"`
			Collect   *CollectTask `yaml:"collect"`
			Simple    *Task        `yaml:"simple"`
		}
		monitorType := node.Content[i].Value
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("monitor %s: %w", monitorType, err)
		}
		jobs = append(jobs, MonitorJob{
			Type:      monitorType,
			Discovery: raw.Discovery,
			Collect:   raw.Collect,
			Simple:    raw.Simple,
		})
	}
	return jobs, nil
}

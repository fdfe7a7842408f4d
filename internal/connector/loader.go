package connector

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

var sourcePlaceholder = regexp.MustCompile(`\$\{source::([^}]+)\}`)

type document struct {
	Connector struct {
		DisplayName string    `yaml:"displayName"`
		Detection   Detection `yaml:"detection"`
	} `yaml:"connector"`
	Translations map[string]TranslationTable `yaml:"translations"`
	Metrics      map[string]MetricDefinition `yaml:"metrics"`
	Pre          yaml.Node                   `yaml:"pre"`
	Monitors     yaml.Node                   `yaml:"monitors"`
}

// LoadFile reads a connector file. The connector id is the file name
// without its extension.
func LoadFile(path string) (*Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connector file: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(id, data)
}

// Parse decodes a connector document, qualifies every source key,
// resolves table references and validates the result.
func Parse(id string, data []byte) (*Connector, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse connector %s: %w", id, err)
	}

	pre, err := decodeNamedSources(&doc.Pre)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}
	jobs, err := decodeNamedJobs(&doc.Monitors)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}

	c := &Connector{
		ID:           id,
		DisplayName:  doc.Connector.DisplayName,
		Detection:    doc.Connector.Detection,
		Translations: doc.Translations,
		Metrics:      doc.Metrics,
		PreSources:   pre,
		Jobs:         jobs,
	}
	if c.DisplayName == "" {
		c.DisplayName = id
	}

	if err := link(c); err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}
	return c, nil
}

// scope is the key prefix of one ordered source list.
type scope struct {
	prefix  string
	sources []Source
}

func scopes(c *Connector) []scope {
	out := []scope{{prefix: "pre.", sources: c.PreSources}}
	for _, job := range c.Jobs {
		if job.Discovery != nil {
			out = append(out, scope{prefix: taskPrefix(job.Type, "discovery"), sources: job.Discovery.Sources})
		}
		if job.Collect != nil {
			out = append(out, scope{prefix: taskPrefix(job.Type, "collect"), sources: job.Collect.Sources})
		}
		if job.Simple != nil {
			out = append(out, scope{prefix: taskPrefix(job.Type, "simple"), sources: job.Simple.Sources})
		}
	}
	return out
}

func taskPrefix(monitorType, phase string) string {
	return "monitors." + monitorType + "." + phase + ".sources."
}

func link(c *Connector) error {
	// Keys first, so references may point at any source of the connector.
	known := make(map[string]bool)
	all := scopes(c)
	for _, sc := range all {
		for i := range sc.sources {
			sc.sources[i].Key = sc.prefix + sc.sources[i].Key
			known[sc.sources[i].Key] = true
		}
	}
	for i := range c.Detection.Criteria {
		if src := c.Detection.Criteria[i].Source; src != nil {
			src.Key = fmt.Sprintf("detection.criteria.%d", i)
		}
	}

	for _, sc := range all {
		r := resolver{prefix: sc.prefix, known: known}
		for i := range sc.sources {
			if err := r.linkSource(&sc.sources[i]); err != nil {
				return err
			}
		}
	}
	for i := range c.Detection.Criteria {
		if src := c.Detection.Criteria[i].Source; src != nil {
			r := resolver{prefix: "pre.", known: known}
			if err := r.linkSource(src); err != nil {
				return err
			}
		}
	}

	for _, job := range c.Jobs {
		if err := linkJob(job, known); err != nil {
			return err
		}
	}

	for name, def := range c.Metrics {
		if err := validate.Struct(def); err != nil {
			return fmt.Errorf("metric %s: %w", name, err)
		}
	}
	return nil
}

func linkJob(job MonitorJob, known map[string]bool) error {
	check := func(phase string, t *Task, requireID bool) error {
		if t == nil {
			return nil
		}
		if t.Mapping == nil {
			return fmt.Errorf("monitor %s %s: %w", job.Type, phase, ErrMissingMapping)
		}
		if err := validate.Struct(t.Mapping); err != nil {
			return fmt.Errorf("monitor %s %s mapping: %w", job.Type, phase, err)
		}
		r := resolver{prefix: taskPrefix(job.Type, phase), known: known}
		key, err := r.resolve(t.Mapping.Source)
		if err != nil {
			return fmt.Errorf("monitor %s %s mapping: %w", job.Type, phase, err)
		}
		t.Mapping.Source = key
		if requireID {
			if _, ok := t.Mapping.Attributes["id"]; !ok {
				return fmt.Errorf("monitor %s %s: %w", job.Type, phase, ErrMissingIDAttribute)
			}
		}
		return nil
	}

	if err := check("discovery", job.Discovery, true); err != nil {
		return err
	}
	if job.Collect != nil {
		if err := check("collect", &job.Collect.Task, job.Collect.Kind == CollectMultiInstance); err != nil {
			return err
		}
	}
	return check("simple", job.Simple, false)
}

type resolver struct {
	prefix string
	known  map[string]bool
}

// resolve accepts a fully qualified key, a key relative to the current
// source list, or either form wrapped in ${source::...}.
func (r resolver) resolve(ref string) (string, error) {
	key := SourceKeyOf(ref)
	if r.known[key] {
		return key, nil
	}
	if r.known[r.prefix+key] {
		return r.prefix + key, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
}

func (r resolver) qualifyText(s string) string {
	return sourcePlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		key, err := r.resolve(m)
		if err != nil {
			return m
		}
		return "${source::" + key + "}"
	})
}

func (r resolver) linkSource(src *Source) error {
	linked := src.Specialize(r.qualifyText)

	var err error
	switch p := linked.Params.(type) {
	case CopyParams:
		p.From, err = r.resolve(p.From)
		linked.Params = p
	case TableJoinParams:
		if p.LeftTable, err = r.resolve(p.LeftTable); err == nil {
			p.RightTable, err = r.resolve(p.RightTable)
		}
		linked.Params = p
	case TableUnionParams:
		for i := range p.Tables {
			if p.Tables[i], err = r.resolve(p.Tables[i]); err != nil {
				break
			}
		}
		linked.Params = p
	}
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Key, err)
	}

	if linked.ExecuteForEachEntryOf != nil {
		if err := validate.Struct(linked.ExecuteForEachEntryOf); err != nil {
			return fmt.Errorf("source %s: %w", src.Key, err)
		}
		if linked.ExecuteForEachEntryOf.Source, err = r.resolve(linked.ExecuteForEachEntryOf.Source); err != nil {
			return fmt.Errorf("source %s: %w", src.Key, err)
		}
	}

	if err := validate.Struct(linked.Params); err != nil {
		return fmt.Errorf("source %s: %w", src.Key, err)
	}
	for i, cp := range linked.Computes {
		if err := validate.Struct(cp.Params); err != nil {
			return fmt.Errorf("source %s compute %d (%s): %w", src.Key, i+1, cp.Type, err)
		}
	}

	*src = linked
	return nil
}

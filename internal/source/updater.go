package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nmslite/engine/internal/compute"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

const (
	concatList      = "list"
	concatJSONArray = "jsonArray"
)

var placeholderPattern = regexp.MustCompile(`\$\{(source|attribute|entry)::([^}]*)\}`)

// Updater specializes sources and computes for one execution, then hands
// them to the processor or the compute pipeline. Templates from the
// connector are never modified.
type Updater struct {
	processor *Processor
	pipeline  *compute.Pipeline
	namespace *telemetry.ConnectorNamespace
}

func NewUpdater(processor *Processor, pipeline *compute.Pipeline, ns *telemetry.ConnectorNamespace) *Updater {
	return &Updater{processor: processor, pipeline: pipeline, namespace: ns}
}

// replacer substitutes ${source::KEY} with the cached table text,
// ${attribute::NAME} with the monitor attribute and ${entry::N} with cell N
// of the current entry. Attribute and entry placeholders are left as is
// when no monitor or entry is in scope.
func (u *Updater) replacer(attributes map[string]string, entry []string) connector.Replacer {
	return func(s string) string {
		if !strings.Contains(s, "${") {
			return s
		}
		return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
			parts := placeholderPattern.FindStringSubmatch(m)
			kind, ref := parts[1], strings.TrimSpace(parts[2])
			switch kind {
			case "source":
				return u.namespace.SourceTable(ref).Text()
			case "attribute":
				if attributes == nil {
					return m
				}
				return attributes[ref]
			case "entry":
				if entry == nil {
					return m
				}
				n, err := strconv.Atoi(ref)
				if err != nil || n < 1 || n > len(entry) {
					return ""
				}
				return entry[n-1]
			}
			return m
		})
	}
}

// Process runs src once, or once per row of its executeForEachEntryOf table.
func (u *Updater) Process(ctx context.Context, src connector.Source, attributes map[string]string) (*telemetry.SourceTable, error) {
	if src.ExecuteForEachEntryOf == nil {
		return u.processor.Process(ctx, src.Specialize(u.replacer(attributes, nil)))
	}

	fe := src.ExecuteForEachEntryOf
	entries := u.namespace.SourceTable(fe.Source)
	if entries.IsEmpty() {
		return telemetry.EmptyTable(), nil
	}

	out := telemetry.EmptyTable()
	var raws []string
	for _, entry := range entries.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := u.processor.Process(ctx, src.Specialize(u.replacer(attributes, entry)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			u.processor.logger.Debug("Entry execution failed",
				"source_key", src.Key,
				"entry", strings.Join(entry, telemetry.TableSeparator),
				"error", err,
			)
			continue
		}
		out.Rows = append(out.Rows, t.Rows...)
		if strings.TrimSpace(t.RawData) != "" {
			raws = append(raws, t.RawData)
		}
	}

	switch fe.ConcatMethod {
	case concatJSONArray:
		out.RawData = "[" + strings.Join(raws, ",") + "]"
	case concatList, "":
		out.RawData = strings.Join(raws, "\n")
	}
	return out, nil
}

// Compute applies c to in after substituting its placeholders.
func (u *Updater) Compute(in *telemetry.SourceTable, c connector.Compute, attributes map[string]string) (out *telemetry.SourceTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: compute %s: %v", ErrSourcePanic, c.Type, r)
		}
	}()
	return u.pipeline.Apply(in, c.Specialize(u.replacer(attributes, nil)))
}

// Package source executes connector sources: protocol dispatch, placeholder
// substitution, force serialization, retry on regression and the per-job
// orchestration that stores results in the connector namespace.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/protocol"
	"github.com/nmslite/engine/internal/telemetry"
)

// Executor sends a protocol request. *protocol.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, target protocol.Target, req protocol.Request) (*protocol.Result, error)
}

// Processor turns one specialized source into a SourceTable.
type Processor struct {
	executor    Executor
	target      protocol.Target
	connectorID string
	namespace   *telemetry.ConnectorNamespace
	logger      *slog.Logger
}

func NewProcessor(executor Executor, target protocol.Target, connectorID string, ns *telemetry.ConnectorNamespace, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		executor:    executor,
		target:      target,
		connectorID: connectorID,
		namespace:   ns,
		logger: logger.With(
			"component", "source_processor",
			"hostname", target.Hostname,
			"connector", connectorID,
		),
	}
}

// Process executes src. Table operations read the namespace; every other
// kind goes through the executor.
func (p *Processor) Process(ctx context.Context, src connector.Source) (*telemetry.SourceTable, error) {
	switch params := src.Params.(type) {
	case connector.SNMPGetParams:
		return p.request(ctx, protocol.Request{Kind: protocol.KindSNMP, Operation: protocol.SNMPGet, OID: params.OID})
	case connector.SNMPGetNextParams:
		return p.request(ctx, protocol.Request{Kind: protocol.KindSNMP, Operation: protocol.SNMPGetNext, OID: params.OID})
	case connector.SNMPTableParams:
		columns := splitList(params.SelectColumns)
		if len(columns) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelectColumns, params.SelectColumns)
		}
		return p.request(ctx, protocol.Request{
			Kind:          protocol.KindSNMP,
			Operation:     protocol.SNMPTable,
			OID:           params.OID,
			SelectColumns: columns,
		})
	case connector.CommandLineParams:
		return p.commandLine(ctx, params)
	case connector.WMIParams:
		return p.wmi(ctx, params)
	case connector.WBEMParams:
		return p.request(ctx, protocol.Request{Kind: protocol.KindWBEM, Query: params.Query, Namespace: params.Namespace})
	case connector.HTTPParams:
		return p.request(ctx, protocol.Request{
			Kind:          protocol.KindHTTP,
			Method:        params.Method,
			Path:          params.Path,
			Header:        params.Header,
			Body:          params.Body,
			ResultContent: params.ResultContent,
		})
	case connector.IPMIParams:
		return p.request(ctx, protocol.Request{Kind: protocol.KindIPMI, SDRType: params.SDRType})
	case connector.SQLParams:
		return p.request(ctx, protocol.Request{Kind: protocol.KindSQL, Query: params.Query})
	case connector.CopyParams:
		return p.namespace.SourceTable(params.From).Clone(), nil
	case connector.StaticParams:
		return telemetry.NewTable(telemetry.ParseTable(params.Value, telemetry.TableSeparator)), nil
	case connector.TableJoinParams:
		return joinTables(
			p.namespace.SourceTable(params.LeftTable),
			p.namespace.SourceTable(params.RightTable),
			params,
		), nil
	case connector.TableUnionParams:
		tables := make([]*telemetry.SourceTable, 0, len(params.Tables))
		for _, key := range params.Tables {
			tables = append(tables, p.namespace.SourceTable(key))
		}
		return unionTables(tables), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, src.Type)
	}
}

func (p *Processor) request(ctx context.Context, req protocol.Request) (*telemetry.SourceTable, error) {
	res, err := p.executor.Execute(ctx, p.target, req)
	if err != nil {
		return nil, err
	}
	return tableFromResult(res), nil
}

func tableFromResult(res *protocol.Result) *telemetry.SourceTable {
	if res == nil {
		return telemetry.EmptyTable()
	}
	t := telemetry.NewTable(res.Rows)
	t.RawData = res.Raw
	return t
}

func (p *Processor) commandLine(ctx context.Context, params connector.CommandLineParams) (*telemetry.SourceTable, error) {
	req := protocol.Request{
		Kind:           protocol.KindCommandLine,
		CommandLine:    params.CommandLine,
		ExecuteLocally: params.ExecuteLocally || p.target.Local,
	}
	if params.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}

	res, err := p.executor.Execute(ctx, p.target, req)
	if err != nil {
		return nil, err
	}
	return processCommandOutput(res.Raw, params)
}

// wmi resolves the automatic namespace by probing the configured candidates
// once per connector; the first namespace that answers with rows is kept.
func (p *Processor) wmi(ctx context.Context, params connector.WMIParams) (*telemetry.SourceTable, error) {
	if !strings.EqualFold(params.Namespace, connector.AutomaticNamespace) {
		return p.request(ctx, protocol.Request{Kind: protocol.KindWMI, Query: params.Query, Namespace: params.Namespace})
	}

	if ns := p.namespace.AutomaticWMINamespace(); ns != "" {
		return p.request(ctx, protocol.Request{Kind: protocol.KindWMI, Query: params.Query, Namespace: ns})
	}

	var lastErr error
	for _, candidate := range p.wmiCandidates() {
		t, err := p.request(ctx, protocol.Request{Kind: protocol.KindWMI, Query: params.Query, Namespace: candidate})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if !t.IsEmpty() {
			p.namespace.SetAutomaticWMINamespace(candidate)
			p.logger.Info("Detected WMI namespace", "namespace", candidate)
			return t, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return telemetry.EmptyTable(), nil
}

func (p *Processor) wmiCandidates() []string {
	var cfg *config.WinRMConfig
	if p.target.Config != nil {
		cfg = p.target.Config.Protocols.WinRM
	}
	if cfg == nil || len(cfg.Namespaces) == 0 {
		return []string{protocol.DefaultWMINamespace}
	}
	return cfg.Namespaces
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

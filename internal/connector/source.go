package connector

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SourceType identifies the acquisition protocol or internal table
// operation performed by a source.
type SourceType string

const (
	SourceSNMPGet     SourceType = "snmpGet"
	SourceSNMPGetNext SourceType = "snmpGetNext"
	SourceSNMPTable   SourceType = "snmpTable"
	SourceCommandLine SourceType = "commandLine"
	SourceWMI         SourceType = "wmi"
	SourceWBEM        SourceType = "wbem"
	SourceHTTP        SourceType = "http"
	SourceIPMI        SourceType = "ipmi"
	SourceSQL         SourceType = "sql"
	SourceCopy        SourceType = "copy"
	SourceStatic      SourceType = "static"
	SourceTableJoin   SourceType = "tableJoin"
	SourceTableUnion  SourceType = "tableUnion"
)

// Replacer rewrites placeholder references inside a parameter value.
type Replacer func(string) string

// Source is one acquisition step of a job. Params holds the parameters of
// Type; the pair is matched exhaustively by the source processor.
type Source struct {
	Key                   string
	Type                  SourceType
	ForceSerialization    bool
	Computes              []Compute
	ExecuteForEachEntryOf *ForEachEntry
	Params                SourceParams
}

// ForEachEntry runs a source once per row of another source's table.
type ForEachEntry struct {
	Source       string `yaml:"source" validate:"required"`
	ConcatMethod string `yaml:"concatMethod" validate:"omitempty,oneof=list jsonArray"`
}

// SourceParams is implemented by the parameter struct of every source type.
// Substitute returns a copy with placeholders replaced; the receiver is
// never modified.
type SourceParams interface {
	Substitute(r Replacer) SourceParams
}

// Specialize returns a copy of the source whose parameters went through r.
// Computes are copied as declared; they are specialized one by one when
// applied.
func (s Source) Specialize(r Replacer) Source {
	out := s
	if s.Params != nil {
		out.Params = s.Params.Substitute(r)
	}
	out.Computes = append([]Compute(nil), s.Computes...)
	if s.ExecuteForEachEntryOf != nil {
		fe := *s.ExecuteForEachEntryOf
		out.ExecuteForEachEntryOf = &fe
	}
	return out
}

type SNMPGetParams struct {
	OID string `yaml:"oid" validate:"required"`
}

func (p SNMPGetParams) Substitute(r Replacer) SourceParams {
	p.OID = r(p.OID)
	return p
}

type SNMPGetNextParams struct {
	OID string `yaml:"oid" validate:"required"`
}

func (p SNMPGetNextParams) Substitute(r Replacer) SourceParams {
	p.OID = r(p.OID)
	return p
}

// SNMPTableParams selects columns of an SNMP table. SelectColumns is a
// comma-separated list where "ID" stands for the row index.
type SNMPTableParams struct {
	OID           string `yaml:"oid" validate:"required"`
	SelectColumns string `yaml:"selectColumns" validate:"required"`
}

func (p SNMPTableParams) Substitute(r Replacer) SourceParams {
	p.OID = r(p.OID)
	return p
}

type CommandLineParams struct {
	CommandLine       string `yaml:"commandLine" validate:"required"`
	ExecuteLocally    bool   `yaml:"executeLocally"`
	TimeoutSeconds    int    `yaml:"timeout" validate:"min=0"`
	Keep              string `yaml:"keep"`
	Exclude           string `yaml:"exclude"`
	BeginAtLineNumber int    `yaml:"beginAtLineNumber" validate:"min=0"`
	EndAtLineNumber   int    `yaml:"endAtLineNumber" validate:"min=0"`
	Separators        string `yaml:"separators"`
	SelectColumns     string `yaml:"selectColumns"`
}

func (p CommandLineParams) Substitute(r Replacer) SourceParams {
	p.CommandLine = r(p.CommandLine)
	p.Keep = r(p.Keep)
	p.Exclude = r(p.Exclude)
	return p
}

// AutomaticNamespace asks the WMI backend to probe candidate namespaces.
const AutomaticNamespace = "automatic"

type WMIParams struct {
	Query     string `yaml:"query" validate:"required"`
	Namespace string `yaml:"namespace"`
}

func (p WMIParams) Substitute(r Replacer) SourceParams {
	p.Query = r(p.Query)
	p.Namespace = r(p.Namespace)
	return p
}

type WBEMParams struct {
	Query     string `yaml:"query" validate:"required"`
	Namespace string `yaml:"namespace"`
}

func (p WBEMParams) Substitute(r Replacer) SourceParams {
	p.Query = r(p.Query)
	p.Namespace = r(p.Namespace)
	return p
}

type HTTPParams struct {
	Method        string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT DELETE"`
	Path          string            `yaml:"path" validate:"required"`
	Header        map[string]string `yaml:"header"`
	Body          string            `yaml:"body"`
	ResultContent string            `yaml:"resultContent" validate:"omitempty,oneof=body header httpStatus all"`
}

func (p HTTPParams) Substitute(r Replacer) SourceParams {
	p.Path = r(p.Path)
	p.Body = r(p.Body)
	if p.Header != nil {
		header := make(map[string]string, len(p.Header))
		for k, v := range p.Header {
			header[k] = r(v)
		}
		p.Header = header
	}
	return p
}

type IPMIParams struct {
	SDRType string `yaml:"sdrType"`
}

func (p IPMIParams) Substitute(Replacer) SourceParams { return p }

type SQLParams struct {
	Query string `yaml:"query" validate:"required"`
}

func (p SQLParams) Substitute(r Replacer) SourceParams {
	p.Query = r(p.Query)
	return p
}

// CopyParams duplicates the table of another source.
type CopyParams struct {
	From string `yaml:"from" validate:"required"`
}

func (p CopyParams) Substitute(Replacer) SourceParams { return p }

// StaticParams produces a table from a literal ";"-separated value.
type StaticParams struct {
	Value string `yaml:"value"`
}

func (p StaticParams) Substitute(r Replacer) SourceParams {
	p.Value = r(p.Value)
	return p
}

// TableJoinParams joins two cached tables on one key column each (1-based).
type TableJoinParams struct {
	LeftTable        string `yaml:"leftTable" validate:"required"`
	RightTable       string `yaml:"rightTable" validate:"required"`
	LeftKeyColumn    int    `yaml:"leftKeyColumn" validate:"min=1"`
	RightKeyColumn   int    `yaml:"rightKeyColumn" validate:"min=1"`
	DefaultRightLine string `yaml:"defaultRightLine"`
	KeyType          string `yaml:"keyType" validate:"omitempty,oneof=wbem"`
}

func (p TableJoinParams) Substitute(r Replacer) SourceParams {
	p.DefaultRightLine = r(p.DefaultRightLine)
	return p
}

type TableUnionParams struct {
	Tables []string `yaml:"tables" validate:"required,min=1"`
}

func (p TableUnionParams) Substitute(Replacer) SourceParams {
	p.Tables = append([]string(nil), p.Tables...)
	return p
}

// UnmarshalYAML decodes the common source fields, then the parameters of
// the declared type from the same mapping.
func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type                  string        `yaml:"type"`
		ForceSerialization    bool          `yaml:"forceSerialization"`
		Computes              []Compute     `yaml:"computes"`
		ExecuteForEachEntryOf *ForEachEntry `yaml:"executeForEachEntryOf"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}

	params, err := decodeSourceParams(SourceType(head.Type), node)
	if err != nil {
		return err
	}

	s.Type = SourceType(head.Type)
	s.ForceSerialization = head.ForceSerialization
	s.Computes = head.Computes
	s.ExecuteForEachEntryOf = head.ExecuteForEachEntryOf
	s.Params = params
	return nil
}

func decodeSourceParams(t SourceType, node *yaml.Node) (SourceParams, error) {
	switch t {
	case SourceSNMPGet:
		return decodeInto[SNMPGetParams](node)
	case SourceSNMPGetNext:
		return decodeInto[SNMPGetNextParams](node)
	case SourceSNMPTable:
		return decodeInto[SNMPTableParams](node)
	case SourceCommandLine:
		return decodeInto[CommandLineParams](node)
	case SourceWMI:
		return decodeInto[WMIParams](node)
	case SourceWBEM:
		return decodeInto[WBEMParams](node)
	case SourceHTTP:
		return decodeInto[HTTPParams](node)
	case SourceIPMI:
		return decodeInto[IPMIParams](node)
	case SourceSQL:
		return decodeInto[SQLParams](node)
	case SourceCopy:
		return decodeInto[CopyParams](node)
	case SourceStatic:
		return decodeInto[StaticParams](node)
	case SourceTableJoin:
		return decodeInto[TableJoinParams](node)
	case SourceTableUnion:
		return decodeInto[TableUnionParams](node)
	default:
		return nil, fmt.Errorf("line %d: %w %q", node.Line, ErrUnknownSourceType, t)
	}
}

func decodeInto[P SourceParams](node *yaml.Node) (SourceParams, error) {
	var p P
	if err := node.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

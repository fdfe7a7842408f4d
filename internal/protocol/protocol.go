// Package protocol defines the request/response contract between the
// source processor and the transports that reach a monitored host.
package protocol

import (
	"context"
	"time"

	"github.com/nmslite/engine/internal/config"
)

//go:generate mockgen -destination=mock_backend.go -package=protocol github.com/nmslite/engine/internal/protocol Backend

// Kind identifies a protocol backend.
type Kind string

const (
	KindSNMP        Kind = "snmp"
	KindCommandLine Kind = "commandLine"
	KindWMI         Kind = "wmi"
	KindWBEM        Kind = "wbem"
	KindHTTP        Kind = "http"
	KindIPMI        Kind = "ipmi"
	KindSQL         Kind = "sql"
)

// SNMP operations.
const (
	SNMPGet     = "get"
	SNMPGetNext = "getNext"
	SNMPTable   = "table"
)

// HTTP result content selectors.
const (
	ResultBody       = "body"
	ResultHeader     = "header"
	ResultHTTPStatus = "httpStatus"
	ResultAll        = "all"
)

// Request describes one protocol call. Only the fields of Kind are read.
type Request struct {
	Kind Kind

	// SNMP
	Operation     string
	OID           string
	SelectColumns []string

	// Command line
	CommandLine    string
	ExecuteLocally bool
	Timeout        time.Duration

	// WMI, WBEM and SQL
	Namespace string
	Query     string

	// HTTP
	Method        string
	Path          string
	Header        map[string]string
	Body          string
	ResultContent string

	// IPMI
	SDRType string
}

// Result is the raw answer of a backend. Backends that produce tabular
// data fill Rows; the others fill Raw.
type Result struct {
	Rows [][]string
	Raw  string
}

// Target is the host a request is sent to.
type Target struct {
	Hostname string
	Config   *config.HostConfig
	Local    bool
}

// Backend executes requests of one protocol kind.
type Backend interface {
	Execute(ctx context.Context, target Target, req Request) (*Result, error)
}

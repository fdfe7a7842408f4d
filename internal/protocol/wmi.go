package protocol

import (
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/nmslite/engine/internal/config"
)

const (
	defaultWMITimeout   = 60 * time.Second
	DefaultWMINamespace = `root\cimv2`
)

var wqlSelect = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+`)

// WMIBackend runs WQL queries through WinRM. The query goes to
// Get-CimInstance and comes back as CSV.
type WMIBackend struct{}

func NewWMIBackend() *WMIBackend {
	return &WMIBackend{}
}

func (b *WMIBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	if target.Config == nil || target.Config.Protocols.WinRM == nil {
		return nil, fmt.Errorf("%w: winrm", ErrMissingConfiguration)
	}
	cfg := target.Config.Protocols.WinRM

	client, err := newWinRMClient(target.Hostname, cfg)
	if err != nil {
		return nil, newError(KindWMI, "connect", target.Hostname, err)
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = DefaultWMINamespace
	}
	script := fmt.Sprintf(
		"Get-CimInstance -Namespace '%s' -Query '%s' | ConvertTo-Csv -NoTypeInformation",
		escapePowerShell(namespace), escapePowerShell(req.Query),
	)

	stdout, stderr, code, err := client.RunWithContextWithString(ctx, winrm.Powershell(script), "")
	if err != nil {
		return nil, newError(KindWMI, "query", target.Hostname, err)
	}
	if code != 0 {
		return nil, newError(KindWMI, "query", target.Hostname,
			fmt.Errorf("%w (%d): %s", ErrCommandFailed, code, strings.TrimSpace(stderr)))
	}

	rows, err := parseCIMOutput(stdout, wqlColumns(req.Query))
	if err != nil {
		return nil, newError(KindWMI, "parse", target.Hostname, err)
	}
	return &Result{Rows: rows}, nil
}

func newWinRMClient(hostname string, cfg *config.WinRMConfig) (*winrm.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 5985
		if cfg.HTTPS {
			port = 5986
		}
	}
	endpoint := winrm.NewEndpoint(hostname, port, cfg.HTTPS, cfg.Insecure, nil, nil, nil,
		config.Timeout(cfg.TimeoutMS, defaultWMITimeout))

	username := cfg.Username
	if cfg.Domain == "" {
		return winrm.NewClient(endpoint, username, cfg.Password)
	}

	params := *winrm.DefaultParameters
	params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
	return winrm.NewClientWithParameters(endpoint, cfg.Domain+`\`+username, cfg.Password, &params)
}

func escapePowerShell(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// wqlColumns returns the property list of a WQL select, or nil for "*".
func wqlColumns(query string) []string {
	m := wqlSelect.FindStringSubmatch(query)
	if m == nil || strings.TrimSpace(m[1]) == "*" {
		return nil
	}
	var cols []string
	for _, c := range strings.Split(m[1], ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// parseCIMOutput reads ConvertTo-Csv output. Cells follow columns when
// given (case-insensitive on the CSV header), otherwise header order.
func parseCIMOutput(out string, columns []string) ([][]string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return [][]string{}, nil
	}

	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return [][]string{}, nil
	}

	header := records[0]
	index := make([]int, 0, len(header))
	if len(columns) == 0 {
		for i := range header {
			index = append(index, i)
		}
	} else {
		for _, col := range columns {
			pos := -1
			for i, h := range header {
				if strings.EqualFold(h, col) {
					pos = i
					break
				}
			}
			index = append(index, pos)
		}
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]string, len(index))
		for i, pos := range index {
			if pos >= 0 && pos < len(rec) {
				row[i] = rec[pos]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nmslite/engine/internal/config"
)

const defaultIPMITimeout = 120 * time.Second

// IPMIBackend reads the sensor data repository through ipmitool, out of
// band over lan/lanplus, or in band through the open interface when the
// target is the local host.
type IPMIBackend struct {
	run func(ctx context.Context, commandLine string) (string, error)
}

func NewIPMIBackend() *IPMIBackend {
	return &IPMIBackend{run: runLocal}
}

func (b *IPMIBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	if target.Config == nil || target.Config.Protocols.IPMI == nil {
		return nil, fmt.Errorf("%w: ipmi", ErrMissingConfiguration)
	}
	cfg := target.Config.Protocols.IPMI

	ctx, cancel := context.WithTimeout(ctx, config.Timeout(cfg.TimeoutMS, defaultIPMITimeout))
	defer cancel()

	out, err := b.run(ctx, ipmitoolCommand(target, cfg, req.SDRType))
	if err != nil {
		return nil, newError(KindIPMI, "sdr", target.Hostname, err)
	}
	return &Result{Rows: parseSDR(out), Raw: out}, nil
}

func ipmitoolCommand(target Target, cfg *config.IPMIConfig, sdrType string) string {
	tool := cfg.Command
	if tool == "" {
		tool = "ipmitool"
	}

	iface := cfg.Interface
	if iface == "" {
		iface = "lanplus"
		if target.Local {
			iface = "open"
		}
	}

	var b strings.Builder
	b.WriteString(tool)
	b.WriteString(" -I ")
	b.WriteString(iface)
	if iface != "open" {
		fmt.Fprintf(&b, " -H %s -U %s -P %s", shellQuote(target.Hostname), shellQuote(cfg.Username), shellQuote(cfg.Password))
	}
	b.WriteString(" sdr elist")
	if sdrType != "" {
		b.WriteString(" ")
		b.WriteString(shellQuote(sdrType))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// parseSDR splits "sdr elist" lines on "|" and trims every cell.
func parseSDR(out string) [][]string {
	rows := [][]string{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}

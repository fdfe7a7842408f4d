package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// maxExpandedHosts caps how many hosts a single range or CIDR entry may
// produce.
const maxExpandedHosts = 4096

// HostnameKind classifies the hostname field of a host entry.
type HostnameKind string

const (
	HostnameCIDR   HostnameKind = "cidr"
	HostnameRange  HostnameKind = "range"
	HostnameSingle HostnameKind = "single"
)

// DetectHostnameKind tells whether a hostname is a CIDR block
// ("10.0.0.0/29"), an address range ("10.0.0.1-10.0.0.5") or a single name
// or address.
func DetectHostnameKind(value string) HostnameKind {
	value = strings.TrimSpace(value)

	if strings.Contains(value, "/") {
		if _, err := netip.ParsePrefix(value); err == nil {
			return HostnameCIDR
		}
	}

	if start, end, ok := strings.Cut(value, "-"); ok {
		if _, err := netip.ParseAddr(strings.TrimSpace(start)); err == nil {
			if _, err := netip.ParseAddr(strings.TrimSpace(end)); err == nil {
				return HostnameRange
			}
		}
	}

	return HostnameSingle
}

// ExpandHosts replaces every host entry whose hostname is a range or CIDR
// block with one entry per address. Expanded entries use the address as
// host id.
func ExpandHosts(hosts []HostConfig) ([]HostConfig, error) {
	out := make([]HostConfig, 0, len(hosts))
	for _, h := range hosts {
		var addrs []string
		var err error

		switch DetectHostnameKind(h.Hostname) {
		case HostnameCIDR:
			addrs, err = expandCIDR(h.Hostname)
		case HostnameRange:
			addrs, err = expandRange(h.Hostname)
		default:
			h.Hostname = strings.TrimSpace(h.Hostname)
			out = append(out, h)
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, addr := range addrs {
			expanded := h
			expanded.Hostname = addr
			expanded.HostID = addr
			expanded.Connectors = append([]string(nil), h.Connectors...)
			out = append(out, expanded)
		}
	}
	return out, nil
}

// expandCIDR lists the usable addresses of a block. IPv4 blocks larger
// than /31 skip the network and broadcast addresses.
func expandCIDR(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR notation: %w", err)
	}

	bits := prefix.Bits()
	skipEdges := prefix.Addr().Is4() && bits < 31

	var addrs []string
	for addr := prefix.Masked().Addr(); prefix.Contains(addr); addr = addr.Next() {
		addrs = append(addrs, addr.String())
		if len(addrs) > maxExpandedHosts+2 {
			return nil, fmt.Errorf("CIDR block too large (>%d hosts): %s", maxExpandedHosts, cidr)
		}
	}

	if skipEdges && len(addrs) >= 2 {
		addrs = addrs[1 : len(addrs)-1]
	}
	return addrs, nil
}

// expandRange lists every address between start and end inclusive.
func expandRange(value string) ([]string, error) {
	startText, endText, _ := strings.Cut(value, "-")

	start, err := netip.ParseAddr(strings.TrimSpace(startText))
	if err != nil {
		return nil, fmt.Errorf("invalid start address in range: %w", err)
	}
	end, err := netip.ParseAddr(strings.TrimSpace(endText))
	if err != nil {
		return nil, fmt.Errorf("invalid end address in range: %w", err)
	}
	if start.Is4() != end.Is4() {
		return nil, fmt.Errorf("address family mismatch: %s and %s", start, end)
	}
	if start.Compare(end) > 0 {
		return nil, fmt.Errorf("start address must be <= end address: %s > %s", start, end)
	}

	var addrs []string
	for current := start; ; current = current.Next() {
		if !current.IsValid() {
			return nil, fmt.Errorf("address overflow while expanding range: %s", value)
		}
		addrs = append(addrs, current.String())
		if len(addrs) > maxExpandedHosts {
			return nil, fmt.Errorf("address range too large (>%d hosts): %s", maxExpandedHosts, value)
		}
		if current == end {
			break
		}
	}
	return addrs, nil
}

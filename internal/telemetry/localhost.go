package telemetry

import (
	"net"
	"os"
	"strings"

	"github.com/shirou/gopsutil/host"
	psnet "github.com/shirou/gopsutil/net"
)

// LocalIdentity holds the names and addresses of the machine running the
// engine.
type LocalIdentity struct {
	Hostnames []string
	Addresses []string
}

// DetectLocalIdentity reads the local hostname and interface addresses.
// Lookup failures leave the corresponding list with the loopback defaults.
func DetectLocalIdentity() LocalIdentity {
	id := LocalIdentity{
		Hostnames: []string{"localhost"},
		Addresses: []string{"127.0.0.1", "::1"},
	}

	if info, err := host.Info(); err == nil && info.Hostname != "" {
		id.Hostnames = append(id.Hostnames, info.Hostname)
	} else if name, err := os.Hostname(); err == nil {
		id.Hostnames = append(id.Hostnames, name)
	}

	if ifaces, err := psnet.Interfaces(); err == nil {
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				ip := addr.Addr
				if i := strings.IndexByte(ip, '/'); i >= 0 {
					ip = ip[:i]
				}
				if ip != "" {
					id.Addresses = append(id.Addresses, ip)
				}
			}
		}
	}
	return id
}

// IsLocal reports whether hostname designates this machine. Short names
// match the first label of a fully qualified local hostname.
func (l LocalIdentity) IsLocal(hostname string) bool {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return false
	}
	if ip := net.ParseIP(hostname); ip != nil {
		for _, a := range l.Addresses {
			if other := net.ParseIP(a); other != nil && other.Equal(ip) {
				return true
			}
		}
		return false
	}
	for _, name := range l.Hostnames {
		if strings.EqualFold(name, hostname) || strings.EqualFold(shortName(name), shortName(hostname)) {
			return true
		}
	}
	return false
}

func shortName(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

package telemetry

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// HostProperties holds the connector namespaces of one host and the
// host-wide facts learned while monitoring it.
type HostProperties struct {
	namespaces cmap.ConcurrentMap[string, *ConnectorNamespace]

	mu             sync.RWMutex
	localhost      bool
	shellAvailable bool
}

// NewHostProperties creates the properties of a host.
func NewHostProperties(localhost bool) *HostProperties {
	return &HostProperties{
		namespaces: cmap.New[*ConnectorNamespace](),
		localhost:  localhost,
	}
}

// ConnectorNamespace returns the namespace of connectorID, creating it on
// first access. Creation only locks the map shard holding the key.
func (h *HostProperties) ConnectorNamespace(connectorID string) *ConnectorNamespace {
	if ns, ok := h.namespaces.Get(connectorID); ok {
		return ns
	}
	return h.namespaces.Upsert(connectorID, nil, func(exist bool, inMap, _ *ConnectorNamespace) *ConnectorNamespace {
		if exist && inMap != nil {
			return inMap
		}
		return NewConnectorNamespace()
	})
}

// ConnectorIDs lists the connectors that own a namespace on this host.
func (h *HostProperties) ConnectorIDs() []string {
	return h.namespaces.Keys()
}

// IsLocalhost reports whether the host is the machine running the engine.
func (h *HostProperties) IsLocalhost() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.localhost
}

// SetLocalhost overrides the localhost flag.
func (h *HostProperties) SetLocalhost(v bool) {
	h.mu.Lock()
	h.localhost = v
	h.mu.Unlock()
}

// ShellAvailable reports whether a command line shell answered on the host.
func (h *HostProperties) ShellAvailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shellAvailable
}

// SetShellAvailable records the result of a command line probe.
func (h *HostProperties) SetShellAvailable(v bool) {
	h.mu.Lock()
	h.shellAvailable = v
	h.mu.Unlock()
}

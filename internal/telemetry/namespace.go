package telemetry

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ConnectorNamespace is the per-host, per-connector execution state: the
// latest table of every source key, the force-serialization lock and
// protocol auto-detection results.
type ConnectorNamespace struct {
	mu           sync.RWMutex
	sourceTables map[string]*SourceTable

	// Single permit, granted to waiters in FIFO order.
	serial *semaphore.Weighted

	detectionMu           sync.RWMutex
	automaticWMINamespace string
}

// NewConnectorNamespace creates an empty namespace.
func NewConnectorNamespace() *ConnectorNamespace {
	return &ConnectorNamespace{
		sourceTables: make(map[string]*SourceTable),
		serial:       semaphore.NewWeighted(1),
	}
}

// SourceTable returns the cached table for key, or nil when the key has
// never been stored.
func (n *ConnectorNamespace) SourceTable(key string) *SourceTable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sourceTables[key]
}

// PutSourceTable replaces the cached table for key.
func (n *ConnectorNamespace) PutSourceTable(key string, table *SourceTable) {
	if table == nil {
		table = EmptyTable()
	}
	n.mu.Lock()
	n.sourceTables[key] = table
	n.mu.Unlock()
}

// SourceKeys returns the keys currently cached.
func (n *ConnectorNamespace) SourceKeys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	keys := make([]string, 0, len(n.sourceTables))
	for k := range n.sourceTables {
		keys = append(keys, k)
	}
	return keys
}

// LockSerial waits for the force-serialization lock until ctx is done.
func (n *ConnectorNamespace) LockSerial(ctx context.Context) error {
	return n.serial.Acquire(ctx, 1)
}

// UnlockSerial releases the force-serialization lock.
func (n *ConnectorNamespace) UnlockSerial() {
	n.serial.Release(1)
}

// AutomaticWMINamespace returns the WMI namespace detected for this connector.
func (n *ConnectorNamespace) AutomaticWMINamespace() string {
	n.detectionMu.RLock()
	defer n.detectionMu.RUnlock()
	return n.automaticWMINamespace
}

// SetAutomaticWMINamespace records the WMI namespace that answered a probe.
func (n *ConnectorNamespace) SetAutomaticWMINamespace(ns string) {
	n.detectionMu.Lock()
	n.automaticWMINamespace = ns
	n.detectionMu.Unlock()
}

package connector

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store holds the connectors of one engine run, keyed by connector id.
// It is built once at startup and handed to every host.
type Store struct {
	connectors map[string]*Connector
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewStore creates an empty connector store
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		connectors: make(map[string]*Connector),
		logger:     logger.With("component", "connector_store"),
	}
}

// LoadDirectory scans dir for *.yaml and *.yml connector files.
// Files that fail to parse are logged and skipped.
func (s *Store) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read connectors directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		c, err := LoadFile(path)
		if err != nil {
			s.logger.Warn("Failed to load connector", "path", path, "error", err)
			continue
		}
		s.Add(c)

		s.logger.Info("Loaded connector",
			"id", c.ID,
			"display_name", c.DisplayName,
			"monitor_jobs", len(c.Jobs),
		)
	}
	return nil
}

// Add registers c, replacing any connector with the same id.
func (s *Store) Add(c *Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID] = c
}

// Get retrieves a connector by its id
func (s *Store) Get(id string) (*Connector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[id]
	return c, ok
}

// List returns all connectors sorted by id.
func (s *Store) List() []*Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of loaded connectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connectors)
}

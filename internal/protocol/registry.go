package protocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/time/rate"
)

// Registry dispatches requests to the backend of their kind and throttles
// them per host when the host configures max_requests_per_second.
type Registry struct {
	backends map[Kind]Backend
	mu       sync.RWMutex
	limiters cmap.ConcurrentMap[string, *rate.Limiter]
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backends: make(map[Kind]Backend),
		limiters: cmap.New[*rate.Limiter](),
		logger:   logger.With("component", "protocol_registry"),
	}
}

// NewDefaultRegistry registers every built-in backend. WBEM has none, so
// wbem sources fail with ErrNoBackend.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(KindSNMP, NewSNMPBackend())
	r.Register(KindCommandLine, NewCommandBackend())
	r.Register(KindWMI, NewWMIBackend())
	r.Register(KindHTTP, NewHTTPBackend())
	r.Register(KindIPMI, NewIPMIBackend())
	r.Register(KindSQL, NewSQLBackend())
	return r
}

// Register installs backend for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = backend
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Execute sends req to the backend of req.Kind.
func (r *Registry) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	r.mu.RLock()
	backend, ok := r.backends[req.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, req.Kind)
	}

	if limiter := r.limiter(target); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, newError(req.Kind, "rate limit", target.Hostname, err)
		}
	}

	r.logger.Debug("Executing request",
		"kind", req.Kind,
		"hostname", target.Hostname,
		"operation", req.Operation,
	)
	return backend.Execute(ctx, target, req)
}

func (r *Registry) limiter(target Target) *rate.Limiter {
	if target.Config == nil || target.Config.MaxRequestsPerSecond <= 0 {
		return nil
	}
	perSecond := target.Config.MaxRequestsPerSecond
	return r.limiters.Upsert(target.Hostname, nil, func(exist bool, inMap, _ *rate.Limiter) *rate.Limiter {
		if exist && inMap != nil {
			return inMap
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		return rate.NewLimiter(rate.Limit(perSecond), burst)
	})
}

// Close releases backends that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for kind, b := range r.backends {
		c, ok := b.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			r.logger.Warn("Failed to close backend", "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

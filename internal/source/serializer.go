package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmslite/engine/internal/telemetry"
)

// Serializer runs force-serialized sources one at a time per connector
// namespace. Waiters acquire the lock in arrival order.
type Serializer struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewSerializer(timeout time.Duration, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		timeout: timeout,
		logger:  logger.With("component", "force_serialization"),
	}
}

// Run executes fn while holding the serialization lock of ns. When the lock
// cannot be obtained within the timeout, fn is not run and Run returns an
// empty table with ErrSerializationTimeout (or the context error when ctx
// itself ended). The lock is released even if fn panics.
func (s *Serializer) Run(
	ctx context.Context,
	ns *telemetry.ConnectorNamespace,
	connectorID, sourceKey string,
	fn func(context.Context) (*telemetry.SourceTable, error),
) (*telemetry.SourceTable, error) {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	err := ns.LockSerial(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return telemetry.EmptyTable(), ctx.Err()
		}
		serializationTimeouts.Inc()
		s.logger.Warn("Force-serialization lock not acquired",
			"connector", connectorID,
			"source_key", sourceKey,
			"timeout", s.timeout,
		)
		return telemetry.EmptyTable(), fmt.Errorf("%w: %s", ErrSerializationTimeout, sourceKey)
	}
	defer ns.UnlockSerial()

	return fn(ctx)
}

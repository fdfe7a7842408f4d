package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nmslite/engine/internal/config"
)

// SampleTable is created by the database migrations.
const SampleTable = "metric_samples"

var sampleColumns = []string{"time", "hostname", "monitor_id", "monitor_type", "connector_id", "metric", "value", "state"}

// Copier is the part of *pgxpool.Pool the batch writer needs.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// BatchWriter handles bulk sample writes using the pgx COPY protocol. Failed
// batches are requeued and retried with the next flush until too many
// consecutive failures make it drop them.
type BatchWriter struct {
	copier Copier
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	submitCh      chan Sample
	requeueBuffer []Sample
	bufferMu      sync.Mutex

	currentBatch []Sample
	batchMu      sync.Mutex

	consecutiveFailures int
	maxConsecutiveFails int
}

func NewBatchWriter(copier Copier, cfg config.DatabaseConfig, logger *slog.Logger) *BatchWriter {
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	flushInterval := cfg.FlushInterval()
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &BatchWriter{
		copier:              copier,
		logger:              logger.With("component", "batch_writer"),
		batchSize:           batchSize,
		flushInterval:       flushInterval,
		submitCh:            make(chan Sample, batchSize*2),
		requeueBuffer:       make([]Sample, 0, batchSize),
		currentBatch:        make([]Sample, 0, batchSize),
		maxConsecutiveFails: 5,
	}
}

// Submit queues samples, blocking while the queue is full.
func (bw *BatchWriter) Submit(ctx context.Context, samples ...Sample) error {
	for _, s := range samples {
		select {
		case bw.submitCh <- s:
		case <-ctx.Done():
			return fmt.Errorf("submit cancelled: %w", ctx.Err())
		}
	}
	return nil
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (bw *BatchWriter) Run(ctx context.Context) error {
	bw.logger.Info("Batch writer starting",
		"batch_size", bw.batchSize,
		"flush_interval", bw.flushInterval,
	)

	flushTicker := time.NewTicker(bw.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.drain()
			if err := bw.flush(context.Background()); err != nil {
				bw.logger.Error("Final flush failed", "error", err)
			}
			return ctx.Err()

		case s := <-bw.submitCh:
			bw.batchMu.Lock()
			bw.currentBatch = append(bw.currentBatch, s)
			full := len(bw.currentBatch) >= bw.batchSize
			bw.batchMu.Unlock()

			if full {
				if err := bw.flush(ctx); err != nil {
					bw.logger.Error("Flush on batch size failed", "error", err)
				}
			}

		case <-flushTicker.C:
			if bw.pending() > 0 {
				if err := bw.flush(ctx); err != nil {
					bw.logger.Error("Periodic flush failed", "error", err)
				}
			}
		}
	}
}

// drain moves whatever is still queued into the current batch.
func (bw *BatchWriter) drain() {
	bw.batchMu.Lock()
	defer bw.batchMu.Unlock()
	for {
		select {
		case s := <-bw.submitCh:
			bw.currentBatch = append(bw.currentBatch, s)
		default:
			return
		}
	}
}

func (bw *BatchWriter) pending() int {
	bw.batchMu.Lock()
	n := len(bw.currentBatch)
	bw.batchMu.Unlock()

	bw.bufferMu.Lock()
	n += len(bw.requeueBuffer)
	bw.bufferMu.Unlock()
	return n
}

func (bw *BatchWriter) flush(ctx context.Context) error {
	bw.batchMu.Lock()
	batch := bw.currentBatch
	bw.currentBatch = make([]Sample, 0, bw.batchSize)
	bw.batchMu.Unlock()

	bw.bufferMu.Lock()
	if len(bw.requeueBuffer) > 0 {
		bw.logger.Info("Including requeued samples in flush", "requeued_count", len(bw.requeueBuffer))
		batch = append(bw.requeueBuffer, batch...)
		bw.requeueBuffer = make([]Sample, 0, bw.batchSize)
	}
	bw.bufferMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := bw.writeBatch(ctx, batch)
	if err != nil {
		bw.consecutiveFailures++
		sampleWrites.WithLabelValues("failed").Add(float64(len(batch)))
		bw.logger.Error("Batch write failed",
			"error", err,
			"batch_size", len(batch),
			"consecutive_failures", bw.consecutiveFailures,
		)

		if bw.consecutiveFailures < bw.maxConsecutiveFails {
			bw.requeue(batch)
		} else {
			sampleWrites.WithLabelValues("dropped").Add(float64(len(batch)))
			bw.logger.Error("Max consecutive failures reached, dropping batch", "dropped_count", len(batch))
			bw.consecutiveFailures = 0
		}
		return err
	}

	bw.consecutiveFailures = 0
	sampleWrites.WithLabelValues("written").Add(float64(len(batch)))
	bw.logger.Debug("Batch written",
		"batch_size", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (bw *BatchWriter) writeBatch(ctx context.Context, batch []Sample) error {
	n, err := bw.copier.CopyFrom(ctx,
		pgx.Identifier{SampleTable},
		sampleColumns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			s := batch[i]
			var state *string
			if s.State != "" {
				state = &s.State
			}
			return []any{s.Timestamp, s.Hostname, s.MonitorID, s.MonitorType, s.ConnectorID, s.Name, s.Value, state}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("COPY operation failed: %w", err)
	}
	if n != int64(len(batch)) {
		return fmt.Errorf("COPY count mismatch: expected %d, got %d", len(batch), n)
	}
	return nil
}

// requeue keeps as much of batch as fits in ten batches worth of buffer.
func (bw *BatchWriter) requeue(batch []Sample) {
	bw.bufferMu.Lock()
	defer bw.bufferMu.Unlock()

	available := bw.batchSize*10 - len(bw.requeueBuffer)
	if available <= 0 {
		bw.logger.Warn("Requeue buffer full, dropping batch", "dropping_count", len(batch))
		return
	}
	if len(batch) > available {
		bw.logger.Warn("Partial requeue due to buffer limit",
			"requested", len(batch),
			"dropped", len(batch)-available,
		)
		batch = batch[:available]
	}
	bw.requeueBuffer = append(bw.requeueBuffer, batch...)
}

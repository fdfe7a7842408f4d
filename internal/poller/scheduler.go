package poller

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nmslite/engine/internal/config"
)

// Cycler is the unit of work the scheduler runs periodically for one host.
type Cycler interface {
	Hostname() string
	Interval() time.Duration
	RunCycle(ctx context.Context) error
}

// ScheduledHost is a heap entry: a host and the deadline of its next cycle.
type ScheduledHost struct {
	Cycler       Cycler
	NextDeadline time.Time
	heapIndex    int
}

// PriorityQueue implements heap.Interface for *ScheduledHost
type PriorityQueue []*ScheduledHost

func (pq PriorityQueue) Len() int {
	return len(pq)
}

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].NextDeadline.Before(pq[j].NextDeadline)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].heapIndex = i
	pq[j].heapIndex = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*ScheduledHost)
	item.heapIndex = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*pq = old[0 : n-1]
	return item
}

// Scheduler runs host cycles when their deadline is reached. A host is out
// of the heap while its cycle runs, so the same host never runs two cycles
// at once; it is pushed back with a new deadline when the cycle ends.
type Scheduler struct {
	logger       *slog.Logger
	tickInterval time.Duration

	heap   PriorityQueue
	heapMu sync.Mutex

	workers chan struct{}

	running bool
	runMu   sync.Mutex
	wg      sync.WaitGroup
}

func NewScheduler(cfg config.EngineConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.HostWorkers
	if workers <= 0 {
		workers = 1
	}
	tick := cfg.TickInterval()
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		logger:       logger.With("component", "scheduler"),
		tickInterval: tick,
		heap:         make(PriorityQueue, 0),
		workers:      make(chan struct{}, workers),
	}
}

// Add schedules c for an immediate first cycle.
func (s *Scheduler) Add(c Cycler) {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	heap.Push(&s.heap, &ScheduledHost{Cycler: c, NextDeadline: time.Now()})

	s.logger.Debug("Host added to scheduler", "hostname", c.Hostname(), "interval", c.Interval())
}

// Len returns the number of hosts waiting in the heap.
func (s *Scheduler) Len() int {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	return len(s.heap)
}

func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Run ticks until ctx is cancelled, then waits for in-flight cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.runMu.Unlock()

	s.logger.Info("Starting scheduler",
		"tick_interval", s.tickInterval,
		"host_workers", cap(s.workers),
		"hosts", s.Len(),
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a cycle for every host whose deadline has passed.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.heapMu.Lock()
	var due []*ScheduledHost
	for len(s.heap) > 0 && !s.heap[0].NextDeadline.After(now) {
		due = append(due, heap.Pop(&s.heap).(*ScheduledHost))
	}
	s.heapMu.Unlock()

	for _, sh := range due {
		sh := sh
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.process(ctx, sh)
		}()
	}

	if len(due) > 0 {
		s.logger.Debug("Tick started host cycles", "count", len(due))
	}
}

func (s *Scheduler) process(ctx context.Context, sh *ScheduledHost) {
	hostname := sh.Cycler.Hostname()

	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}

	start := time.Now()
	err := sh.Cycler.RunCycle(ctx)
	<-s.workers

	if err != nil && ctx.Err() == nil {
		s.logger.Error("Host cycle failed", "hostname", hostname, "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	s.reschedule(sh, start)
}

// reschedule pushes sh back one interval after the start of its last
// cycle, or immediately when the cycle overran its interval.
func (s *Scheduler) reschedule(sh *ScheduledHost, lastStart time.Time) {
	next := lastStart.Add(sh.Cycler.Interval())
	if now := time.Now(); next.Before(now) {
		next = now
	}

	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	sh.NextDeadline = next
	heap.Push(&s.heap, sh)

	s.logger.Debug("Host rescheduled", "hostname", sh.Cycler.Hostname(), "next_cycle", next)
}

func (s *Scheduler) shutdown() {
	s.logger.Info("Shutting down scheduler, waiting for host cycles to complete")
	s.wg.Wait()

	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()

	s.logger.Info("Scheduler shutdown complete")
}

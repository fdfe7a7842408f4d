package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/strategy"
	"github.com/nmslite/engine/internal/telemetry"
)

type fakeCycler struct {
	hostname string
	interval time.Duration
	work     time.Duration
	global   *int32
	peak     *int32

	active    int32
	maxActive int32
	runs      int32
}

func (f *fakeCycler) Hostname() string        { return f.hostname }
func (f *fakeCycler) Interval() time.Duration { return f.interval }

func (f *fakeCycler) RunCycle(ctx context.Context) error {
	n := atomic.AddInt32(&f.active, 1)
	bump(&f.maxActive, n)
	if f.global != nil {
		bump(f.peak, atomic.AddInt32(f.global, 1))
		defer atomic.AddInt32(f.global, -1)
	}
	atomic.AddInt32(&f.runs, 1)

	select {
	case <-time.After(f.work):
	case <-ctx.Done():
	}
	atomic.AddInt32(&f.active, -1)
	return nil
}

func bump(peak *int32, n int32) {
	for {
		p := atomic.LoadInt32(peak)
		if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
			return
		}
	}
}

func TestScheduler_NoConcurrentCycleForSameHost(t *testing.T) {
	s := NewScheduler(config.EngineConfig{HostWorkers: 4, TickIntervalMS: 10}, nil)
	hosts := []*fakeCycler{
		{hostname: "a", interval: 5 * time.Millisecond, work: 40 * time.Millisecond},
		{hostname: "b", interval: 5 * time.Millisecond, work: 40 * time.Millisecond},
	}
	for _, h := range hosts {
		s.Add(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.IsRunning())

	for _, h := range hosts {
		assert.Equal(t, int32(1), atomic.LoadInt32(&h.maxActive), h.hostname)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&h.runs), int32(2), h.hostname)
	}
}

func TestScheduler_HostWorkersBoundConcurrency(t *testing.T) {
	var global, peak int32
	s := NewScheduler(config.EngineConfig{HostWorkers: 1, TickIntervalMS: 10}, nil)
	for _, name := range []string{"a", "b", "c"} {
		s.Add(&fakeCycler{hostname: name, interval: time.Millisecond, work: 20 * time.Millisecond, global: &global, peak: &peak})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestScheduler_RunTwice(t *testing.T) {
	s := NewScheduler(config.EngineConfig{HostWorkers: 1, TickIntervalMS: 10}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, s.IsRunning, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Run(ctx))
	cancel()
	<-done
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Sample
}

func (r *recordingSink) Submit(_ context.Context, samples ...Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, samples)
	return nil
}

func (r *recordingSink) names(cycle int) map[string]Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]Sample{}
	for _, s := range r.batches[cycle] {
		out[s.MonitorID+"/"+s.Name] = s
	}
	return out
}

const fanConnector = `
monitors:
  fan:
    discovery:
      sources:
        list:
          type: static
          value: "1;Fan A"
      mapping:
        source: list
        attributes:
          id: $1
          name: $2
    collect:
      sources:
        speeds:
          type: static
          value: "1;5400;OK"
      mapping:
        source: speeds
        attributes:
          id: $1
        metrics:
          hw.fan.speed: $2
          hw.fan.label: $3
`

func TestHostTask_CycleSequencing(t *testing.T) {
	c, err := connector.Parse("fans", []byte(fanConnector))
	require.NoError(t, err)
	store := connector.NewStore(nil)
	store.Add(c)

	host := &config.HostConfig{
		Hostname:               "server-01",
		HostID:                 "server-01",
		HostType:               "linux",
		CollectIntervalSeconds: 60,
		DiscoveryCycle:         2,
		StrategyTimeoutSeconds: 60,
		JobPoolSize:            2,
		SerializationTimeoutMS: 1000,
	}
	manager := telemetry.NewTelemetryManager(host, store, false, nil)
	sink := &recordingSink{}
	task := NewHostTask(&strategy.Env{Manager: manager}, sink)

	clock := int64(1_000_000)
	task.clock = func() time.Time { return time.UnixMilli(clock) }

	assert.Equal(t, "server-01", task.Hostname())
	assert.Equal(t, time.Minute, task.Interval())

	statusKey := "fans_connector_fans/" + telemetry.ConnectorStatusMetric
	speedKey := "fans_fan_1/hw.fan.speed"

	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, task.RunCycle(context.Background()))
		assert.Equal(t, clock, manager.StrategyTime())

		samples := sink.names(cycle)
		speed, ok := samples[speedKey]
		require.True(t, ok, "cycle %d", cycle)
		assert.Equal(t, 5400.0, speed.Value)
		assert.Equal(t, "fan", speed.MonitorType)
		assert.Equal(t, "fans", speed.ConnectorID)
		assert.Equal(t, time.UnixMilli(clock).UTC(), speed.Timestamp)

		status, isDiscovery := samples[statusKey]
		assert.Equal(t, cycle%2 == 0, isDiscovery, "cycle %d", cycle)
		if isDiscovery {
			assert.Equal(t, telemetry.ConnectorStatusOK, status.State)
		}
		_, hasText := samples["fans_fan_1/hw.fan.label"]
		assert.False(t, hasText)

		clock += 60_000
	}

	fan, ok := manager.FindMonitorByTypeAndID("fan", "fans_fan_1")
	require.True(t, ok)
	assert.True(t, telemetry.IsPresent(fan))
}

func TestHostTask_StrategyTimeIsMonotonic(t *testing.T) {
	host := &config.HostConfig{Hostname: "h", HostID: "h", HostType: "linux", DiscoveryCycle: 1, StrategyTimeoutSeconds: 1, JobPoolSize: 1}
	manager := telemetry.NewTelemetryManager(host, connector.NewStore(nil), false, nil)
	task := NewHostTask(&strategy.Env{Manager: manager}, nil)
	task.clock = func() time.Time { return time.UnixMilli(5000) }

	require.NoError(t, task.RunCycle(context.Background()))
	require.NoError(t, task.RunCycle(context.Background()))
	assert.Equal(t, int64(5001), manager.StrategyTime())
}

func TestSamplesOf(t *testing.T) {
	host := &config.HostConfig{Hostname: "h", HostID: "h"}
	manager := telemetry.NewTelemetryManager(host, connector.NewStore(nil), false, nil)
	m := telemetry.NewMonitorFactory(manager, "cx", 1000).CreateOrUpdateMonitor("nic", "1", nil)

	telemetry.CollectNumberMetric(m, "hw.network.up", 1, 1000)
	telemetry.CollectNumberMetric(m, "hw.network.old", 1, 500)
	telemetry.CollectTextMetric(m, "hw.network.label", "eth0", 1000)
	telemetry.CollectRate(m, "hw.network.io", 10, 1000)
	telemetry.CollectStateSetMetric(m, "hw.status", "ok", []string{"ok", "failed"}, 1000)

	samples := SamplesOf(manager, 1000)
	require.Len(t, samples, 2)
	assert.Equal(t, "hw.network.up", samples[0].Name)
	assert.Equal(t, "hw.status", samples[1].Name)
	assert.Equal(t, "ok", samples[1].State)
	assert.Equal(t, 1.0, samples[1].Value)
	assert.Equal(t, "h", samples[0].Hostname)
}

type fakeCopier struct {
	mu       sync.Mutex
	failures int
	rows     [][]any
	calls    int
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if table[0] != SampleTable || len(columns) != len(sampleColumns) {
		return 0, errors.New("unexpected table")
	}
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("connection refused")
	}
	var n int64
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return n, err
		}
		f.rows = append(f.rows, values)
		n++
	}
	return n, nil
}

func (f *fakeCopier) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func TestBatchWriter_RequeuesFailedBatch(t *testing.T) {
	copier := &fakeCopier{failures: 1}
	bw := NewBatchWriter(copier, config.DatabaseConfig{BatchSize: 2, FlushIntervalMS: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bw.Run(ctx) }()

	ts := time.UnixMilli(1000)
	require.NoError(t, bw.Submit(ctx,
		Sample{Timestamp: ts, Hostname: "h", MonitorID: "m1", Name: "hw.fan.speed", Value: 10},
		Sample{Timestamp: ts, Hostname: "h", MonitorID: "m2", Name: "hw.status", Value: 1, State: "ok"},
	))

	require.Eventually(t, func() bool { return copier.written() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	copier.mu.Lock()
	defer copier.mu.Unlock()
	assert.GreaterOrEqual(t, copier.calls, 2)
	assert.Nil(t, copier.rows[0][7])
	state, ok := copier.rows[1][7].(*string)
	require.True(t, ok)
	assert.Equal(t, "ok", *state)
}

func TestBatchWriter_FlushesOnShutdown(t *testing.T) {
	copier := &fakeCopier{}
	bw := NewBatchWriter(copier, config.DatabaseConfig{BatchSize: 100, FlushIntervalMS: 60000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bw.Run(ctx) }()

	require.NoError(t, bw.Submit(ctx, Sample{Hostname: "h", MonitorID: "m1", Name: "a", Value: 1}))
	cancel()
	<-done

	assert.Equal(t, 1, copier.written())
}

type namedStrategy struct {
	name  string
	block bool
	runs  int32
}

func (n *namedStrategy) Name() string { return n.name }

func (n *namedStrategy) Run(ctx context.Context) error {
	atomic.AddInt32(&n.runs, 1)
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func TestHostTask_DiscoveryTimeoutSkipsReconciliation(t *testing.T) {
	host := &config.HostConfig{Hostname: "h", HostID: "h", HostType: "linux"}
	task := NewHostTask(&strategy.Env{Manager: telemetry.NewTelemetryManager(host, connector.NewStore(nil), false, nil)}, nil)

	tests := []struct {
		name          string
		blockDiscover bool
		wantPostRuns  int32
	}{
		{name: "discovery completes", blockDiscover: false, wantPostRuns: 1},
		{name: "discovery times out", blockDiscover: true, wantPostRuns: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discovery := &namedStrategy{name: strategy.NameDiscovery, block: tt.blockDiscover}
			post := &namedStrategy{name: strategy.NamePostDiscovery}
			collect := &namedStrategy{name: "collect"}

			err := task.runStrategies(context.Background(),
				[]strategy.Strategy{discovery, post, collect}, 20*time.Millisecond, task.logger)
			require.NoError(t, err)

			assert.Equal(t, int32(1), atomic.LoadInt32(&discovery.runs))
			assert.Equal(t, tt.wantPostRuns, atomic.LoadInt32(&post.runs))
			assert.Equal(t, int32(1), atomic.LoadInt32(&collect.runs), "later strategies still run")
		})
	}

	t.Run("other timeouts do not skip", func(t *testing.T) {
		collect := &namedStrategy{name: "collect", block: true}
		post := &namedStrategy{name: strategy.NamePostDiscovery}
		require.NoError(t, task.runStrategies(context.Background(),
			[]strategy.Strategy{collect, post}, 20*time.Millisecond, task.logger))
		assert.Equal(t, int32(1), atomic.LoadInt32(&post.runs))
	})
}

package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/protocol"
	"github.com/nmslite/engine/internal/telemetry"
)

func testHost() *config.HostConfig {
	return &config.HostConfig{
		Hostname:               "server-01",
		HostID:                 "server-01",
		HostType:               "linux",
		JobPoolSize:            4,
		RetryMaxAttempts:       1,
		RetryDelayMS:           1,
		SerializationTimeoutMS: 1000,
		StrategyTimeoutSeconds: 60,
	}
}

func newManager(t *testing.T, host *config.HostConfig, docs map[string]string) *telemetry.TelemetryManager {
	t.Helper()
	store := connector.NewStore(nil)
	for id, doc := range docs {
		c, err := connector.Parse(id, []byte(doc))
		require.NoError(t, err, id)
		store.Add(c)
	}
	return telemetry.NewTelemetryManager(host, store, false, nil)
}

func runAll(t *testing.T, strategies ...Strategy) {
	t.Helper()
	for _, s := range strategies {
		require.NoError(t, Run(context.Background(), s, time.Minute, nil), s.Name())
	}
}

func discoveryCycle(env *Env) []Strategy {
	return []Strategy{NewDetection(env), NewPrepareSources(env), NewDiscovery(env), NewPostDiscovery(env)}
}

const cxConnector = `
monitors:
  disk:
    discovery:
      sources:
        S1:
          type: snmpTable
          oid: 1.2.3
          selectColumns: ID,2,3
          forceSerialization: true
      mapping:
        source: ${source::S1}
        attributes:
          id: $1
          name: $2
`

func TestDiscovery_PresenceRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := protocol.NewMockBackend(ctrl)

	var (
		mu   sync.Mutex
		rows [][]string
	)
	setRows := func(r [][]string) {
		mu.Lock()
		rows = r
		mu.Unlock()
	}
	backend.EXPECT().Execute(gomock.Any(), gomock.Any(), protocol.Request{
		Kind:          protocol.KindSNMP,
		Operation:     protocol.SNMPTable,
		OID:           "1.2.3",
		SelectColumns: []string{"ID", "2", "3"},
	}).DoAndReturn(func(context.Context, protocol.Target, protocol.Request) (*protocol.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		return &protocol.Result{Rows: rows}, nil
	}).AnyTimes()

	tm := newManager(t, testHost(), map[string]string{"cx": cxConnector})
	env := &Env{Manager: tm, Executor: backend}

	present := func(instance string) float64 {
		t.Helper()
		m, ok := tm.FindMonitorByTypeAndID("disk", telemetry.BuildMonitorID("cx", "disk", instance))
		require.True(t, ok, "monitor %s must stay registered", instance)
		p, ok := m.NumberMetric(telemetry.PresentMetricName("disk"))
		require.True(t, ok)
		return p.Value()
	}

	setRows([][]string{{"1", "a", "b"}, {"2", "c", "d"}})
	tm.SetStrategyTime(1000)
	runAll(t, discoveryCycle(env)...)

	assert.Equal(t, []string{"cx"}, tm.DetectedConnectorIDs())
	require.Len(t, tm.FindMonitorsByType("disk"), 2)
	assert.Equal(t, 1.0, present("1"))
	assert.Equal(t, 1.0, present("2"))
	m, _ := tm.FindMonitorByTypeAndID("disk", "cx_disk_1")
	assert.Equal(t, "1", m.Attribute(telemetry.AttributeID))
	assert.Equal(t, "a", m.Attribute(telemetry.AttributeName))
	assert.Equal(t, "server-01", m.ParentID())

	setRows(nil)
	tm.SetStrategyTime(2000)
	runAll(t, discoveryCycle(env)...)

	assert.Len(t, tm.FindMonitorsByType("disk"), 2)
	assert.Equal(t, 0.0, present("1"))
	assert.Equal(t, 0.0, present("2"))

	setRows([][]string{{"1", "a", "b"}})
	tm.SetStrategyTime(3000)
	runAll(t, discoveryCycle(env)...)

	assert.Equal(t, 1.0, present("1"))
	assert.Equal(t, 0.0, present("2"))
}

const detectionConnectors = `
connector:
  detection:
    appliesTo: [Linux]
    supersedes: [MIB2]
    criteria:
      - type: snmpGetNext
        oid: 1.3.6.1.4.1
        expectedResult: ^1\.3\.6\.1\.4\.1\.
`

func TestDetection(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := protocol.NewMockBackend(ctrl)
	backend.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, req protocol.Request) (*protocol.Result, error) {
			switch req.Operation {
			case protocol.SNMPGetNext:
				return &protocol.Result{Rows: [][]string{{"1.3.6.1.4.1.674.1", "x"}}}, nil
			case protocol.SNMPGet:
				return &protocol.Result{Rows: [][]string{{"Linux server-01"}}}, nil
			}
			t.Errorf("unexpected request %+v", req)
			return nil, nil
		}).Times(2)

	host := testHost()
	host.Connectors = []string{"+Forced", "!Excluded"}
	tm := newManager(t, host, map[string]string{
		"GenericFan": detectionConnectors,
		"MIB2": `
connector:
  detection:
    criteria:
      - type: snmpGet
        oid: 1.3.6.1.2.1.1.1.0
`,
		"WinOnly": `
connector:
  detection:
    appliesTo: [windows]
`,
		"NeedsNew": `
connector:
  detection:
    criteria:
      - type: productRequirements
        engineVersion: ">= 2.0.0"
`,
		"Keeper": `
connector:
  detection:
    criteria:
      - type: deviceType
        keep: [network, storage]
`,
		"Forced": `
connector:
  detection:
    criteria:
      - type: commandLine
        commandLine: exit 1
`,
		"Excluded": `
connector:
  displayName: Excluded
`,
	})

	env := &Env{Manager: tm, Executor: backend, EngineVersion: "1.4.0"}
	tm.SetStrategyTime(1000)
	runAll(t, NewDetection(env))

	assert.Equal(t, []string{"Forced", "GenericFan"}, tm.DetectedConnectorIDs())

	status := func(id string) (string, string) {
		m, ok := tm.FindMonitorByTypeAndID(telemetry.ConnectorMonitorType, telemetry.BuildMonitorID(id, telemetry.ConnectorMonitorType, id))
		require.True(t, ok, id)
		s, ok := m.StateSetMetric(telemetry.ConnectorStatusMetric)
		require.True(t, ok, id)
		return s.Value(), m.Attribute("connector.message")
	}

	for _, id := range []string{"MIB2", "WinOnly", "NeedsNew", "Keeper"} {
		s, _ := status(id)
		assert.Equal(t, telemetry.ConnectorStatusFailed, s, id)
	}
	_, msg := status("MIB2")
	assert.Equal(t, "superseded by GenericFan", msg)

	_, ok := tm.FindMonitorByTypeAndID(telemetry.ConnectorMonitorType, telemetry.BuildMonitorID("Excluded", telemetry.ConnectorMonitorType, "Excluded"))
	assert.False(t, ok)

	assert.True(t, tm.EndpointHostMonitor().IsEndpointHost())
	assert.Len(t, tm.FindMonitorsByType(telemetry.HostMonitorType), 1)
}

const fanConnector = `
metrics:
  hw.status:
    stateSet: [ok, degraded, failed]
monitors:
  fan:
    discovery:
      sources:
        list:
          type: static
          value: "1;Fan A\n2;Fan B"
      mapping:
        source: list
        attributes:
          id: $1
          name: $2
    collect:
      sources:
        speeds:
          type: static
          value: "1;5400;ok;50\n3;100;failed;10"
      mapping:
        source: speeds
        attributes:
          id: $1
        metrics:
          hw.fan.speed: $2
          'hw.status{hw.type="fan"}': $3
          hw.fan.speed_ratio: percent2Ratio($4)
  temperature:
    discovery:
      sources:
        sensors:
          type: static
          value: "40;CPU\n55;GPU"
      mapping:
        source: sensors
        attributes:
          id: $1
          name: $2
    collect:
      type: monoInstance
      sources:
        reading:
          type: static
          value: "${attribute::id};${attribute::name} sensor"
      mapping:
        source: reading
        metrics:
          hw.temperature: $1
          hw.sensor.label: $2
  enclosure:
    simple:
      sources:
        chassis:
          type: static
          value: "PowerEdge R740;OK"
      mapping:
        source: chassis
        attributes:
          name: $1
        metrics:
          hw.enclosure.state: $2
`

func TestCollect_MultiAndMonoInstance(t *testing.T) {
	tm := newManager(t, testHost(), map[string]string{"fans": fanConnector})
	env := &Env{Manager: tm}

	tm.SetStrategyTime(1000)
	runAll(t, NewDetection(env), NewPrepareSources(env), NewDiscovery(env), NewPostDiscovery(env), NewCollect(env), NewSimple(env))

	fans := tm.FindMonitorsByType("fan")
	require.Len(t, fans, 2, "collect must not create monitors for unknown ids")

	fan1, ok := tm.FindMonitorByTypeAndID("fan", "fans_fan_1")
	require.True(t, ok)
	speed, ok := fan1.NumberMetric("hw.fan.speed")
	require.True(t, ok)
	assert.Equal(t, 5400.0, speed.Value())
	ratio, ok := fan1.NumberMetric("hw.fan.speed_ratio")
	require.True(t, ok)
	assert.Equal(t, 0.5, ratio.Value())
	status, ok := fan1.StateSetMetric(`hw.status{hw.type="fan"}`)
	require.True(t, ok)
	assert.Equal(t, "ok", status.Value())

	fan2, _ := tm.FindMonitorByTypeAndID("fan", "fans_fan_2")
	_, ok = fan2.NumberMetric("hw.fan.speed")
	assert.False(t, ok)

	gpu, ok := tm.FindMonitorByTypeAndID("temperature", "fans_temperature_55")
	require.True(t, ok)
	temp, ok := gpu.NumberMetric("hw.temperature")
	require.True(t, ok)
	assert.Equal(t, 55.0, temp.Value())
	label, ok := gpu.TextMetric("hw.sensor.label")
	require.True(t, ok)
	assert.Equal(t, "GPU sensor", label.Value())

	enclosures := tm.FindMonitorsByType("enclosure")
	require.Len(t, enclosures, 1)
	assert.Equal(t, "fans_enclosure_1", enclosures[0].ID())
	assert.Equal(t, "PowerEdge R740", enclosures[0].Attribute(telemetry.AttributeName))
	state, ok := enclosures[0].TextMetric("hw.enclosure.state")
	require.True(t, ok)
	assert.Equal(t, "OK", state.Value())

	// Simple monitors are not reconciled as missing.
	tm.SetStrategyTime(2000)
	runAll(t, NewPostDiscovery(env))
	assert.True(t, telemetry.IsPresent(enclosures[0]))
	assert.False(t, telemetry.IsPresent(fan1))
}

func TestHardwareEnergy(t *testing.T) {
	host := testHost()
	host.PowerEstimates = map[string]float64{"disk": 10}
	tm := newManager(t, host, nil)
	env := &Env{Manager: tm}

	f := telemetry.NewMonitorFactory(tm, "cx", 1000)
	disk := f.CreateOrUpdateMonitor("disk", "1", nil)
	telemetry.SetPresent(disk, true, 1000)
	missing := f.CreateOrUpdateMonitor("disk", "2", nil)
	telemetry.SetPresent(missing, false, 1000)

	energyName := telemetry.EnergyMetricName("disk")
	powerName := telemetry.PowerMetricName("disk")

	tm.SetStrategyTime(1000)
	runAll(t, NewHardwareEnergy(env))
	_, ok := disk.NumberMetric(energyName)
	assert.False(t, ok, "first observation has no energy")
	power, ok := disk.NumberMetric(powerName)
	require.True(t, ok)
	assert.Equal(t, 10.0, power.Value())
	_, ok = missing.NumberMetric(powerName)
	assert.False(t, ok)

	tm.SetStrategyTime(61000)
	runAll(t, NewHardwareEnergy(env))
	energy, ok := disk.NumberMetric(energyName)
	require.True(t, ok)
	assert.InDelta(t, 600.0, energy.Value(), 1e-9)

	hostEnergy, ok := tm.EndpointHostMonitor().NumberMetric(telemetry.HostEnergyMetric)
	require.True(t, ok)
	assert.InDelta(t, 600.0, hostEnergy.Value(), 1e-9)

	// A power value collected by a connector this cycle wins over the estimate.
	tm.SetStrategyTime(121000)
	telemetry.CollectNumberMetric(disk, powerName, 25, 121000)
	runAll(t, NewHardwareEnergy(env))
	energy, _ = disk.NumberMetric(energyName)
	assert.InDelta(t, 2100.0, energy.Value(), 1e-9)
	hostPower, _ := tm.EndpointHostMonitor().NumberMetric(telemetry.HostPowerMetric)
	assert.Equal(t, 25.0, hostPower.Value())
}

type blockingStrategy struct{}

func (blockingStrategy) Name() string { return "blocking" }

func (blockingStrategy) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_Timeout(t *testing.T) {
	err := Run(context.Background(), blockingStrategy{}, 20*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrStrategyTimeout)
}

func TestEnv_ForEachHonorsPoolSize(t *testing.T) {
	for _, tc := range []struct {
		name       string
		poolSize   int
		sequential bool
		want       int32
	}{
		{name: "pool", poolSize: 2, want: 2},
		{name: "sequential", poolSize: 8, sequential: true, want: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			host := testHost()
			host.JobPoolSize = tc.poolSize
			host.Sequential = tc.sequential
			env := &Env{Manager: newManager(t, host, nil)}

			var running, peak int32
			err := env.forEach(context.Background(), 6, func(context.Context, int) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, atomic.LoadInt32(&peak), tc.want)
		})
	}
}

func TestMapper_RateAndFunctions(t *testing.T) {
	m := telemetry.NewMonitor("cx_nic_1", "nic", "cx")
	mp := &mapper{connector: &connector.Connector{ID: "cx"}, collectTime: 1000, logger: slog.Default()}
	exprs := map[string]string{
		"hw.network.io":        "rate($2)",
		"hw.network.bandwidth": "megaHertz2Hertz($3)",
		"hw.network.up":        "boolean($4)",
		"hw.network.label":     "nic-$1",
	}

	mp.collectMetrics(m, exprs, []string{"eth0", "100", "1.5", "true"})
	_, ok := m.NumberMetric("hw.network.io")
	assert.False(t, ok, "no rate on the first sample")

	mp.collectTime = 3000
	mp.collectMetrics(m, exprs, []string{"eth0", "300", "1.5", "no"})
	io, ok := m.NumberMetric("hw.network.io")
	require.True(t, ok)
	assert.Equal(t, 100.0, io.Value())

	bw, _ := m.NumberMetric("hw.network.bandwidth")
	assert.Equal(t, 1.5e6, bw.Value())
	up, _ := m.NumberMetric("hw.network.up")
	assert.Equal(t, 0.0, up.Value())
	label, ok := m.TextMetric("hw.network.label")
	require.True(t, ok)
	assert.Equal(t, "nic-eth0", label.Value())
}

func TestEvaluate(t *testing.T) {
	row := []string{"42", " 2048 ", "yes"}
	tests := []struct {
		expr     string
		want     string
		stateful string
		wantErr  bool
	}{
		{expr: "$1", want: "42"},
		{expr: "disk $1 of $9", want: "disk 42 of "},
		{expr: "literal", want: "literal"},
		{expr: "percent2Ratio($1)", want: "0.42"},
		{expr: "mebiByte2Byte($2)", want: "2147483648"},
		{expr: "boolean($3)", want: "1"},
		{expr: "fakeCounter($2)", want: "2048", stateful: fnFakeCounter},
		{expr: "percent2Ratio($3)", wantErr: true},
		{expr: "unknown($1)", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, stateful, err := evaluate(tt.expr, row)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMapping)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stateful, stateful)
		})
	}
}

func TestParseSelection(t *testing.T) {
	s := parseSelection([]string{"+Forced", "!Excluded", " Only "})
	assert.True(t, s.candidate("Forced"))
	assert.True(t, s.candidate("Only"))
	assert.False(t, s.candidate("Excluded"))
	assert.False(t, s.candidate("Other"))

	all := parseSelection(nil)
	assert.True(t, all.candidate("Anything"))
}

const detectedDiskConnector = `
connector:
  detection:
    criteria:
      - type: snmpGetNext
        oid: 1.3.6.1.4.1
        expectedResult: ^1\.3\.6\.1\.4\.1\.
monitors:
  disk:
    discovery:
      sources:
        S1:
          type: snmpTable
          oid: 1.2.3
          selectColumns: ID,2
      mapping:
        source: ${source::S1}
        attributes:
          id: $1
          name: $2
`

func TestPostDiscovery_UnreachableHostMarksMonitorsMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := protocol.NewMockBackend(ctrl)

	var unreachable atomic.Bool
	backend.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, req protocol.Request) (*protocol.Result, error) {
			if unreachable.Load() {
				return nil, errors.New("host unreachable")
			}
			switch req.Operation {
			case protocol.SNMPGetNext:
				return &protocol.Result{Rows: [][]string{{"1.3.6.1.4.1.674.1", "x"}}}, nil
			case protocol.SNMPTable:
				return &protocol.Result{Rows: [][]string{{"1", "Disk A"}}}, nil
			}
			t.Errorf("unexpected request %+v", req)
			return nil, nil
		}).AnyTimes()

	tm := newManager(t, testHost(), map[string]string{"cx": detectedDiskConnector})
	env := &Env{Manager: tm, Executor: backend}

	tm.SetStrategyTime(1000)
	runAll(t, discoveryCycle(env)...)
	require.Equal(t, []string{"cx"}, tm.DetectedConnectorIDs())
	disk, ok := tm.FindMonitorByTypeAndID("disk", telemetry.BuildMonitorID("cx", "disk", "1"))
	require.True(t, ok)
	require.True(t, telemetry.IsPresent(disk))

	unreachable.Store(true)
	for i, now := range []int64{2000, 3000} {
		tm.SetStrategyTime(now)
		for _, s := range discoveryCycle(env) {
			_ = Run(context.Background(), s, time.Minute, nil)
		}
		assert.Empty(t, tm.DetectedConnectorIDs(), "failure cycle %d", i+1)
		assert.False(t, telemetry.IsPresent(disk), "failure cycle %d", i+1)
	}

	_, ok = tm.FindMonitorByTypeAndID("disk", telemetry.BuildMonitorID("cx", "disk", "1"))
	assert.True(t, ok, "missing monitors stay registered")
}

func TestHardwareEnergy_NoIntegrationOverAbsence(t *testing.T) {
	host := testHost()
	host.PowerEstimates = map[string]float64{"disk": 10}
	tm := newManager(t, host, map[string]string{"cx": cxConnector})
	env := &Env{Manager: tm}

	discover := func(now int64) *telemetry.Monitor {
		m := telemetry.NewMonitorFactory(tm, "cx", now).CreateOrUpdateMonitor("disk", "1", nil)
		telemetry.SetPresent(m, true, now)
		return m
	}
	energy := func(m *telemetry.Monitor) float64 {
		t.Helper()
		e, ok := m.NumberMetric(telemetry.EnergyMetricName("disk"))
		require.True(t, ok)
		return e.Value()
	}

	tm.SetStrategyTime(1000)
	disk := discover(1000)
	runAll(t, NewHardwareEnergy(env))
	tm.SetStrategyTime(61000)
	runAll(t, NewHardwareEnergy(env))
	assert.InDelta(t, 600.0, energy(disk), 1e-9)

	// Not rediscovered: missing, and skipped by the energy strategy.
	tm.SetStrategyTime(121000)
	runAll(t, NewPostDiscovery(env), NewHardwareEnergy(env))
	assert.False(t, telemetry.IsPresent(disk))
	assert.InDelta(t, 600.0, energy(disk), 1e-9)

	// Back an hour later: the gap is not counted, integration resumes after.
	tm.SetStrategyTime(3_661_000)
	discover(3_661_000)
	runAll(t, NewPostDiscovery(env), NewHardwareEnergy(env))
	assert.True(t, telemetry.IsPresent(disk))
	assert.InDelta(t, 600.0, energy(disk), 1e-9)

	tm.SetStrategyTime(3_721_000)
	runAll(t, NewHardwareEnergy(env))
	assert.InDelta(t, 1200.0, energy(disk), 1e-9)
}

func TestHardwareEnergy_HostTotalRestartsAfterGap(t *testing.T) {
	host := testHost()
	host.PowerEstimates = map[string]float64{"disk": 10}
	tm := newManager(t, host, nil)
	env := &Env{Manager: tm}

	disk := telemetry.NewMonitorFactory(tm, "cx", 1000).CreateOrUpdateMonitor("disk", "1", nil)
	telemetry.SetPresent(disk, true, 1000)
	hostEnergy := func() float64 {
		t.Helper()
		e, ok := tm.EndpointHostMonitor().NumberMetric(telemetry.HostEnergyMetric)
		require.True(t, ok)
		return e.Value()
	}

	for _, now := range []int64{1000, 61000} {
		tm.SetStrategyTime(now)
		runAll(t, NewHardwareEnergy(env))
	}
	assert.InDelta(t, 600.0, hostEnergy(), 1e-9)

	telemetry.SetPresent(disk, false, 121000)
	tm.SetStrategyTime(121000)
	runAll(t, NewHardwareEnergy(env))

	telemetry.SetPresent(disk, true, 3_661_000)
	tm.SetStrategyTime(3_661_000)
	runAll(t, NewHardwareEnergy(env))
	assert.InDelta(t, 600.0, hostEnergy(), 1e-9)
}

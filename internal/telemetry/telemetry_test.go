package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmslite/engine/internal/config"
	"github.com/nmslite/engine/internal/connector"
)

func newTestManager() *TelemetryManager {
	host := &config.HostConfig{Hostname: "server-01", HostID: "server-01", HostType: "linux"}
	return NewTelemetryManager(host, connector.NewStore(nil), false, nil)
}

func TestBuildMonitorID(t *testing.T) {
	assert.Equal(t, BuildMonitorID("cx", "fan", "1"), BuildMonitorID("cx", "fan", "  1 "))
	assert.NotEqual(t, BuildMonitorID("cx", "fan", "1"), BuildMonitorID("cx", "pump", "1"))
	assert.Equal(t, "cx_fan_Fan1A", BuildMonitorID("cx", "fan", "Fan 1\tA"))
}

func TestCollectNumberMetric_AdvancesBeforeOverwrite(t *testing.T) {
	m := NewMonitor("cx_fan_1", "fan", "cx")

	CollectNumberMetric(m, "hw.fan.speed", 1200, 1000)
	first, ok := m.NumberMetric("hw.fan.speed")
	require.True(t, ok)
	assert.False(t, first.HasPrevious())
	assert.Equal(t, 1200.0, first.Value())

	CollectNumberMetric(m, "hw.fan.speed", 1300, 2000)
	second, _ := m.NumberMetric("hw.fan.speed")
	assert.True(t, second.HasPrevious())
	assert.Equal(t, 1200.0, second.PreviousValue())
	assert.Equal(t, int64(1000), second.PreviousCollectTime())
	assert.Equal(t, 1300.0, second.Value())
	assert.Equal(t, int64(2000), second.CollectTime())
}

func TestCollectEnergyFromPower(t *testing.T) {
	const (
		power = 150.0
		t1    = int64(10_000)
		t2    = int64(130_000)
	)
	m := NewMonitor("cx_fan_1", "fan", "cx")
	powerName, energyName := PowerMetricName("fan"), EnergyMetricName("fan")

	CollectNumberMetric(m, powerName, power, t1)
	_, ok := CollectEnergyFromPower(m, powerName, energyName)
	assert.False(t, ok, "first observation must not produce energy")
	_, exists := m.NumberMetric(energyName)
	assert.False(t, exists)

	CollectNumberMetric(m, powerName, power, t2)
	energy, ok := CollectEnergyFromPower(m, powerName, energyName)
	require.True(t, ok)
	assert.InDelta(t, power*float64(t2-t1)/1000, energy, 1e-9)

	CollectNumberMetric(m, powerName, power, t2+60_000)
	energy, ok = CollectEnergyFromPower(m, powerName, energyName)
	require.True(t, ok)
	assert.InDelta(t, power*float64(t2+60_000-t1)/1000, energy, 1e-9)
}

func TestCollectRate(t *testing.T) {
	m := NewMonitor("cx_nic_1", "network", "cx")

	_, ok := CollectRate(m, "hw.network.bandwidth", 1000, 0)
	assert.False(t, ok)

	rate, ok := CollectRate(m, "hw.network.bandwidth", 3000, 10_000)
	require.True(t, ok)
	assert.InDelta(t, 200.0, rate, 1e-9)

	// Counter wrapped: nothing new is written.
	_, ok = CollectRate(m, "hw.network.bandwidth", 10, 20_000)
	assert.False(t, ok)
	stored, _ := m.NumberMetric("hw.network.bandwidth")
	assert.InDelta(t, 200.0, stored.Value(), 1e-9)
}

func TestCollectFakeCounter(t *testing.T) {
	m := NewMonitor("cx_disk_1", "physical_disk", "cx")

	_, ok := CollectFakeCounter(m, "hw.io", 50, 0)
	assert.False(t, ok)

	c, ok := CollectFakeCounter(m, "hw.io", 50, 4000)
	require.True(t, ok)
	assert.InDelta(t, 200.0, c, 1e-9)

	c, ok = CollectFakeCounter(m, "hw.io", 10, 6000)
	require.True(t, ok)
	assert.InDelta(t, 220.0, c, 1e-9)
}

func TestPresence(t *testing.T) {
	m := NewMonitor("cx_fan_1", "fan", "cx")
	assert.True(t, IsPresent(m))

	SetPresent(m, false, 1)
	assert.False(t, IsPresent(m))

	SetPresent(m, true, 2)
	assert.True(t, IsPresent(m))
	assert.Contains(t, m.MetricNames(), `hw.status{hw.type="fan", state="present"}`)
}

func TestTelemetryManager_AddNewMonitorKeepsFirst(t *testing.T) {
	tm := newTestManager()

	first := tm.AddNewMonitor(NewMonitor("a", "fan", "cx"))
	second := tm.AddNewMonitor(NewMonitor("a", "fan", "cx"))
	assert.Same(t, first, second)

	got, ok := tm.FindMonitorByTypeAndID("fan", "a")
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = tm.FindMonitorByTypeAndID("pump", "a")
	assert.False(t, ok)
}

func TestMonitorFactory_CreateOrUpdate(t *testing.T) {
	tm := newTestManager()

	f1 := NewMonitorFactory(tm, "cx", 100)
	m := f1.CreateOrUpdateMonitor("fan", " 1", map[string]string{"id": "1", "name": "Fan A"})
	assert.Equal(t, "cx_fan_1", m.ID())
	assert.Equal(t, int64(100), m.DiscoveryTime())
	assert.Equal(t, "server-01", m.ParentID())

	f2 := NewMonitorFactory(tm, "cx", 200)
	again := f2.CreateOrUpdateMonitor("fan", "1", map[string]string{"name": "Fan B"})
	assert.Same(t, m, again)
	assert.Equal(t, int64(200), again.DiscoveryTime())
	assert.Equal(t, "Fan B", again.Attribute("name"))
	assert.Equal(t, "1", again.Attribute("id"))

	assert.Len(t, tm.FindMonitorsByType("fan"), 1)
}

func TestTelemetryManager_DetectedConnectorIDs(t *testing.T) {
	tm := newTestManager()

	for id, status := range map[string]string{"GenericFan": ConnectorStatusOK, "MIB2": ConnectorStatusFailed} {
		m := NewMonitorFactory(tm, id, 1).CreateOrUpdateMonitor(ConnectorMonitorType, id, nil)
		CollectStateSetMetric(m, ConnectorStatusMetric, status, ConnectorStatusStates, 1)
	}

	m, found := tm.FindMonitorByTypeAndID(ConnectorMonitorType, BuildMonitorID("GenericFan", ConnectorMonitorType, "GenericFan"))
	require.True(t, found)
	assert.Equal(t, "GenericFan", m.ConnectorID())
	assert.Equal(t, []string{"GenericFan"}, tm.DetectedConnectorIDs())
}

func TestEndpointHostMonitor(t *testing.T) {
	tm := newTestManager()
	h := tm.EndpointHostMonitor()
	assert.True(t, h.IsEndpointHost())
	assert.Equal(t, "server-01", h.Attribute(AttributeHostName))
	assert.Same(t, h, tm.EndpointHostMonitor())
}

func TestHostProperties_LazyNamespace(t *testing.T) {
	hp := NewHostProperties(false)

	var wg sync.WaitGroup
	got := make([]*ConnectorNamespace, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = hp.ConnectorNamespace("cx")
		}(i)
	}
	wg.Wait()

	for _, ns := range got {
		assert.Same(t, got[0], ns)
	}
	assert.Equal(t, []string{"cx"}, hp.ConnectorIDs())
}

func TestConnectorNamespace_SerialLockTimesOut(t *testing.T) {
	ns := NewConnectorNamespace()
	require.NoError(t, ns.LockSerial(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, ns.LockSerial(ctx))

	ns.UnlockSerial()
	require.NoError(t, ns.LockSerial(context.Background()))
	ns.UnlockSerial()
}

func TestSourceTable_TextAndParse(t *testing.T) {
	tbl := NewTable([][]string{{"1", "a"}, {"2", "b"}})
	assert.Equal(t, "1;a;\n2;b;", tbl.Text())
	assert.Equal(t, tbl.Rows, ParseTable(tbl.Text(), TableSeparator))

	raw := &SourceTable{RawData: "hello"}
	assert.Equal(t, "hello", raw.Text())
	assert.False(t, raw.IsEmpty())

	var nilTable *SourceTable
	assert.True(t, nilTable.IsEmpty())
	assert.True(t, EmptyTable().IsEmpty())

	clone := tbl.Clone()
	clone.Rows[0][0] = "x"
	assert.Equal(t, "1", tbl.Rows[0][0])
}

func TestLocalIdentity_IsLocal(t *testing.T) {
	id := LocalIdentity{
		Hostnames: []string{"localhost", "engine-01.example.com"},
		Addresses: []string{"127.0.0.1", "10.0.0.5"},
	}

	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"ENGINE-01", true},
		{"engine-01.example.com", true},
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"server-02", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			assert.Equal(t, tt.want, id.IsLocal(tt.hostname))
		})
	}

	assert.True(t, DetectLocalIdentity().IsLocal("127.0.0.1"))
}

package protocol

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nmslite/engine/internal/config"
)

func TestRegistry_DispatchesByKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)

	r := NewRegistry(nil)
	r.Register(KindSNMP, backend)

	target := Target{Hostname: "switch-01"}
	req := Request{Kind: KindSNMP, Operation: SNMPGet, OID: "1.3.6.1.2.1.1.5.0"}
	backend.EXPECT().Execute(gomock.Any(), target, req).Return(&Result{Rows: [][]string{{"switch-01"}}}, nil)

	res, err := r.Execute(context.Background(), target, req)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"switch-01"}}, res.Rows)
}

func TestRegistry_NoBackend(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), Target{Hostname: "h"}, Request{Kind: KindWBEM})
	assert.True(t, errors.Is(err, ErrNoBackend))
}

func TestRegistry_RateLimitHonorsContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return(&Result{}, nil).Times(1)

	r := NewRegistry(nil)
	r.Register(KindHTTP, backend)

	target := Target{Hostname: "api", Config: &config.HostConfig{MaxRequestsPerSecond: 0.01}}
	_, err := r.Execute(context.Background(), target, Request{Kind: KindHTTP})
	require.NoError(t, err)

	// The single token is spent; the next call cannot wait 100s.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Execute(ctx, target, Request{Kind: KindHTTP})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "rate limit", perr.Op)
}

func TestRegistry_DefaultKinds(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, []Kind{KindCommandLine, KindHTTP, KindIPMI, KindSNMP, KindSQL, KindWMI}, r.Kinds())
	assert.NoError(t, r.Close())
}

func TestAssembleTable(t *testing.T) {
	pdus := []gosnmp.SnmpPDU{
		{Name: ".1.2.3.2.1", Type: gosnmp.OctetString, Value: []byte("a")},
		{Name: ".1.2.3.2.2", Type: gosnmp.OctetString, Value: []byte("c")},
		{Name: ".1.2.3.3.1", Type: gosnmp.Integer, Value: 7},
		{Name: ".1.2.3.3.2", Type: gosnmp.Gauge32, Value: uint(9)},
		{Name: ".1.2.30.1", Type: gosnmp.Integer, Value: 1},
		{Name: ".1.2.3.4.1", Type: gosnmp.NoSuchInstance},
	}

	rows := assembleTable("1.2.3", pdus, []string{"ID", "2", "3", "4"})
	assert.Equal(t, [][]string{
		{"1", "a", "7", ""},
		{"2", "c", "9", ""},
	}, rows)
}

func TestGetRows(t *testing.T) {
	vars := []gosnmp.SnmpPDU{
		{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("switch-01")},
	}
	assert.Equal(t, [][]string{{"switch-01"}}, getRows(vars, false))
	assert.Equal(t, [][]string{{"1.3.6.1.2.1.1.5.0", "switch-01"}}, getRows(vars, true))
	assert.Empty(t, getRows([]gosnmp.SnmpPDU{{Type: gosnmp.EndOfMibView}}, true))
}

func TestWQLColumns(t *testing.T) {
	assert.Equal(t, []string{"Name", "Status"}, wqlColumns("SELECT Name, Status FROM Win32_Fan"))
	assert.Nil(t, wqlColumns("select * from Win32_Fan"))
	assert.Nil(t, wqlColumns("ASSOCIATORS OF {Win32_Fan}"))
}

func TestParseCIMOutput(t *testing.T) {
	out := "\"Status\",\"Name\",\"DeviceID\"\r\n\"OK\",\"Fan 1\",\"fan1\"\r\n\"Degraded\",\"Fan, 2\",\"fan2\"\r\n"

	rows, err := parseCIMOutput(out, []string{"name", "Status", "Missing"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Fan 1", "OK", ""},
		{"Fan, 2", "Degraded", ""},
	}, rows)

	rows, err = parseCIMOutput(out, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK", "Fan 1", "fan1"}, rows[0])

	rows, err = parseCIMOutput("  ", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseSDR(t *testing.T) {
	out := "FAN1 | 30h | ok | 29.1 | 5400 RPM\n\nTemp | 01h | ns | 3.1 | Disabled\n"
	assert.Equal(t, [][]string{
		{"FAN1", "30h", "ok", "29.1", "5400 RPM"},
		{"Temp", "01h", "ns", "3.1", "Disabled"},
	}, parseSDR(out))
}

func TestIPMIBackend_BuildsCommand(t *testing.T) {
	var got string
	b := &IPMIBackend{run: func(_ context.Context, cmd string) (string, error) {
		got = cmd
		return "FAN1 | 30h | ok | 29.1 | 5400 RPM\n", nil
	}}

	target := Target{
		Hostname: "bmc-01",
		Config: &config.HostConfig{Protocols: config.ProtocolsConfig{
			IPMI: &config.IPMIConfig{Username: "admin", Password: "it's"},
		}},
	}
	res, err := b.Execute(context.Background(), target, Request{Kind: KindIPMI, SDRType: "fan"})
	require.NoError(t, err)

	assert.Equal(t, `ipmitool -I lanplus -H 'bmc-01' -U 'admin' -P 'it'\''s' sdr elist 'fan'`, got)
	assert.Len(t, res.Rows, 1)
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "monitor" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Api", "v1")
		_, _ = w.Write([]byte(`{"fans":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	target := Target{
		Hostname: host,
		Config: &config.HostConfig{Protocols: config.ProtocolsConfig{
			HTTP: &config.HTTPConfig{Port: port, Username: "monitor", Password: "secret"},
		}},
	}
	b := NewHTTPBackend()

	res, err := b.Execute(context.Background(), target, Request{Kind: KindHTTP, Path: "api/fans"})
	require.NoError(t, err)
	assert.Equal(t, `{"fans":[{"id":"1"}]}`, res.Raw)

	res, err = b.Execute(context.Background(), target, Request{Kind: KindHTTP, Path: "/", ResultContent: ResultHTTPStatus})
	require.NoError(t, err)
	assert.Equal(t, "200", res.Raw)

	res, err = b.Execute(context.Background(), target, Request{Kind: KindHTTP, Path: "/", ResultContent: ResultHeader})
	require.NoError(t, err)
	assert.Contains(t, res.Raw, "X-Api: v1")

	target.Config.Protocols.HTTP.Password = "wrong"
	_, err = b.Execute(context.Background(), target, Request{Kind: KindHTTP, Path: "/"})
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestCommandBackend_Local(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	b := NewCommandBackend()

	res, err := b.Execute(context.Background(), Target{Hostname: "localhost", Local: true},
		Request{Kind: KindCommandLine, CommandLine: "printf 'a;b\\nc;d\\n'"})
	require.NoError(t, err)
	assert.Equal(t, "a;b\nc;d\n", res.Raw)

	_, err = b.Execute(context.Background(), Target{Hostname: "localhost", Local: true},
		Request{Kind: KindCommandLine, CommandLine: "exit 3"})
	assert.True(t, errors.Is(err, ErrCommandFailed))
}

func TestCommandBackend_RemoteNeedsSSH(t *testing.T) {
	_, err := NewCommandBackend().Execute(context.Background(),
		Target{Hostname: "server-01", Config: &config.HostConfig{}},
		Request{Kind: KindCommandLine, CommandLine: "uname"})
	assert.True(t, errors.Is(err, ErrMissingConfiguration))
}

func TestSQLBackend_SQLite(t *testing.T) {
	b := NewSQLBackend()
	defer b.Close()

	target := Target{
		Hostname: "db-01",
		Config: &config.HostConfig{Protocols: config.ProtocolsConfig{
			SQL: &config.SQLConfig{Driver: "sqlite3", DSN: "file::memory:?cache=shared"},
		}},
	}

	res, err := b.Execute(context.Background(), target, Request{Kind: KindSQL, Query: "SELECT 1, 'fan', NULL"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "fan", ""}}, res.Rows)
}

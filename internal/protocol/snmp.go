package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gosnmp/gosnmp"

	"github.com/nmslite/engine/internal/config"
)

const defaultSNMPTimeout = 5 * time.Second

// SNMPBackend performs get, getNext and table walks with gosnmp.
type SNMPBackend struct{}

func NewSNMPBackend() *SNMPBackend {
	return &SNMPBackend{}
}

func (b *SNMPBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	if target.Config == nil || target.Config.Protocols.SNMP == nil {
		return nil, fmt.Errorf("%w: snmp", ErrMissingConfiguration)
	}

	g, err := newSNMPClient(ctx, target.Hostname, target.Config.Protocols.SNMP)
	if err != nil {
		return nil, newError(KindSNMP, "configure", target.Hostname, err)
	}
	if err := g.Connect(); err != nil {
		return nil, newError(KindSNMP, "connect", target.Hostname, err)
	}
	defer g.Conn.Close()

	switch req.Operation {
	case SNMPGet:
		packet, err := g.Get([]string{req.OID})
		if err != nil {
			return nil, newError(KindSNMP, "get", target.Hostname, err)
		}
		return &Result{Rows: getRows(packet.Variables, false)}, nil

	case SNMPGetNext:
		packet, err := g.GetNext([]string{req.OID})
		if err != nil {
			return nil, newError(KindSNMP, "getNext", target.Hostname, err)
		}
		return &Result{Rows: getRows(packet.Variables, true)}, nil

	case SNMPTable:
		var pdus []gosnmp.SnmpPDU
		collect := func(pdu gosnmp.SnmpPDU) error {
			pdus = append(pdus, pdu)
			return nil
		}
		if g.Version == gosnmp.Version1 {
			err = g.Walk(req.OID, collect)
		} else {
			err = g.BulkWalk(req.OID, collect)
		}
		if err != nil {
			return nil, newError(KindSNMP, "walk", target.Hostname, err)
		}
		return &Result{Rows: assembleTable(req.OID, pdus, req.SelectColumns)}, nil

	default:
		return nil, fmt.Errorf("%w: snmp %q", ErrUnsupportedOperation, req.Operation)
	}
}

func newSNMPClient(ctx context.Context, hostname string, cfg *config.SNMPConfig) (*gosnmp.GoSNMP, error) {
	port := cfg.Port
	if port == 0 {
		port = 161
	}

	g := &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             hostname,
		Port:               uint16(port),
		Community:          cfg.Community,
		Timeout:            config.Timeout(cfg.TimeoutMS, defaultSNMPTimeout),
		Retries:            cfg.Retries,
		ExponentialTimeout: true,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     25,
	}

	switch cfg.Version {
	case "1":
		g.Version = gosnmp.Version1
	case "", "2c":
		g.Version = gosnmp.Version2c
	case "3":
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.ContextName = cfg.ContextName
		if err := applyUSM(g, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported SNMP version: %s", cfg.Version)
	}
	return g, nil
}

func applyUSM(g *gosnmp.GoSNMP, cfg *config.SNMPConfig) error {
	var authProto gosnmp.SnmpV3AuthProtocol
	switch cfg.AuthProtocol {
	case "SHA":
		authProto = gosnmp.SHA
	case "SHA224":
		authProto = gosnmp.SHA224
	case "SHA256":
		authProto = gosnmp.SHA256
	case "SHA384":
		authProto = gosnmp.SHA384
	case "SHA512":
		authProto = gosnmp.SHA512
	default:
		authProto = gosnmp.MD5
	}

	var privProto gosnmp.SnmpV3PrivProtocol
	switch cfg.PrivacyProtocol {
	case "DES":
		privProto = gosnmp.DES
	case "AES":
		privProto = gosnmp.AES
	case "AES192":
		privProto = gosnmp.AES192
	case "AES256":
		privProto = gosnmp.AES256
	default:
		privProto = gosnmp.NoPriv
	}

	usm := &gosnmp.UsmSecurityParameters{UserName: cfg.Username}
	switch cfg.SecurityLevel {
	case "", "noAuthNoPriv":
		g.MsgFlags = gosnmp.NoAuthNoPriv
	case "authNoPriv":
		g.MsgFlags = gosnmp.AuthNoPriv
		usm.AuthenticationProtocol = authProto
		usm.AuthenticationPassphrase = cfg.AuthPassword
	case "authPriv":
		g.MsgFlags = gosnmp.AuthPriv
		usm.AuthenticationProtocol = authProto
		usm.AuthenticationPassphrase = cfg.AuthPassword
		usm.PrivacyProtocol = privProto
		usm.PrivacyPassphrase = cfg.PrivacyPassword
	default:
		return fmt.Errorf("invalid security level: %s", cfg.SecurityLevel)
	}
	g.SecurityParameters = usm
	return nil
}

// getRows turns get/getNext variables into one row each. getNext rows
// carry the OID that answered in front of the value.
func getRows(vars []gosnmp.SnmpPDU, withOID bool) [][]string {
	rows := [][]string{}
	for _, v := range vars {
		if isException(v.Type) {
			continue
		}
		if withOID {
			rows = append(rows, []string{strings.TrimPrefix(v.Name, "."), pduString(v)})
		} else {
			rows = append(rows, []string{pduString(v)})
		}
	}
	return rows
}

// assembleTable groups walked PDUs by row index. A PDU named
// <root>.<column>.<index> fills cell <column> of row <index>; "ID" in
// selectColumns stands for the index itself. Rows keep walk order.
func assembleTable(root string, pdus []gosnmp.SnmpPDU, selectColumns []string) [][]string {
	prefix := strings.TrimPrefix(root, ".") + "."

	var order []string
	cells := make(map[string]map[string]string)
	for _, pdu := range pdus {
		if isException(pdu.Type) {
			continue
		}
		name := strings.TrimPrefix(pdu.Name, ".")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		column, index, found := strings.Cut(strings.TrimPrefix(name, prefix), ".")
		if !found {
			continue
		}
		row, ok := cells[index]
		if !ok {
			row = make(map[string]string)
			cells[index] = row
			order = append(order, index)
		}
		row[column] = pduString(pdu)
	}

	rows := make([][]string, 0, len(order))
	for _, index := range order {
		row := make([]string, len(selectColumns))
		for i, col := range selectColumns {
			col = strings.TrimSpace(col)
			if strings.EqualFold(col, "ID") {
				row[i] = index
				continue
			}
			row[i] = cells[index][col]
		}
		rows = append(rows, row)
	}
	return rows
}

func isException(t gosnmp.Asn1BER) bool {
	return t == gosnmp.NoSuchObject || t == gosnmp.NoSuchInstance || t == gosnmp.EndOfMibView || t == gosnmp.Null
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return fmt.Sprint(pdu.Value)
		}
		if utf8.Valid(b) {
			return strings.TrimRight(string(b), "\x00")
		}
		return fmt.Sprintf("%x", b)
	case gosnmp.Integer:
		if v, ok := pdu.Value.(int); ok {
			return strconv.Itoa(v)
		}
		return fmt.Sprint(pdu.Value)
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).String()
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		return strings.TrimPrefix(fmt.Sprint(pdu.Value), ".")
	default:
		return fmt.Sprint(pdu.Value)
	}
}

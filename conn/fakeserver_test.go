package conn

import (
	"net"
	"testing"

	"github.com/vasflam/go-mysql-core/dsn"
	"github.com/vasflam/go-mysql-core/protocol"
)

type queryResponder func(sql string) [][]byte

// startFakeServer listens on loopback, speaks a no-password legacy-EOF
// handshake automatically for each accepted connection, and dispatches
// each COM_QUERY to respond. It plays the server's half of the wire
// protocol instead of the client's.
func startFakeServer(t *testing.T, respond queryResponder) (*dsn.DSN, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fake server listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConnection(c, respond)
		}
	}()
	d := &dsn.DSN{Network: "tcp", Addr: ln.Addr().String(), Username: "root", FoundRows: true}
	return d, func() { ln.Close() }
}

func serveFakeConnection(c net.Conn, respond queryResponder) {
	defer c.Close()
	stream := protocol.NewStreamReader(c)

	hs := protocol.NewWriter()
	hs.WriteUint8(10)
	hs.WriteNullTerminatedString("8.0.0-fake")
	hs.WriteUint32(1)
	hs.WriteBytes([]byte("abcdefgh"))
	hs.WriteUint8(0)
	caps := (protocol.DefaultClientCapabilities &^ protocol.ClientDeprecateEOF) | protocol.ClientFoundRows
	hs.WriteUint16(uint16(caps))
	hs.WriteUint8(33)
	hs.WriteUint16(2)
	hs.WriteUint16(uint16(caps >> 16))
	hs.WriteUint8(21)
	hs.WriteBytes(make([]byte, 10))
	hs.WriteBytes([]byte("klmnopqrstuv"))
	hs.WriteUint8(0)
	hs.WriteNullTerminatedString("mysql_native_password")
	if _, err := c.Write(protocol.EncodePacket(0, hs.Bytes())); err != nil {
		return
	}

	if _, _, err := stream.ReadPacket(); err != nil {
		return
	}
	if _, err := c.Write(protocol.EncodePacket(2, okPayload(0, 0, protocol.ServerStatusAutocommit, 0))); err != nil {
		return
	}

	for {
		_, payload, err := stream.ReadPacket()
		if err != nil || len(payload) == 0 {
			return
		}
		switch payload[0] {
		case protocol.ComQuit:
			return
		case protocol.ComPing:
			if _, err := c.Write(protocol.EncodePacket(0, okPayload(0, 0, protocol.ServerStatusAutocommit, 0))); err != nil {
				return
			}
		case protocol.ComQuery:
			sql := string(payload[1:])
			var seq uint8
			for _, p := range respond(sql) {
				seq++
				if _, err := c.Write(protocol.EncodePacket(seq, p)); err != nil {
					return
				}
			}
		}
	}
}

func okPayload(affected, lastID uint64, status, warnings uint16) []byte {
	w := protocol.NewWriter()
	w.WriteUint8(protocol.PacketTypeOK)
	w.WriteLenencInt(affected)
	w.WriteLenencInt(lastID)
	w.WriteUint16(status)
	w.WriteUint16(warnings)
	return w.Bytes()
}

func errPayload(code uint16, state, msg string) []byte {
	w := protocol.NewWriter()
	w.WriteUint8(protocol.PacketTypeERR)
	w.WriteUint16(code)
	w.WriteUint8('#')
	w.WriteBytes([]byte(state))
	w.WriteBytes([]byte(msg))
	return w.Bytes()
}

func columnCountPayload(n uint64) []byte {
	w := protocol.NewWriter()
	w.WriteLenencInt(n)
	return w.Bytes()
}

func columnDefPayload(name string, colType uint8) []byte {
	w := protocol.NewWriter()
	w.WriteLenencString("def")
	w.WriteLenencString("")
	w.WriteLenencString("")
	w.WriteLenencString("")
	w.WriteLenencString(name)
	w.WriteLenencString(name)
	w.WriteUint8(0x0c)
	w.WriteUint16(33)
	w.WriteUint32(100)
	w.WriteUint8(colType)
	w.WriteUint16(0)
	w.WriteUint8(0)
	w.WriteUint16(0)
	return w.Bytes()
}

func eofTerminatorPayload(status, warnings uint16) []byte {
	w := protocol.NewWriter()
	w.WriteUint8(protocol.PacketTypeEOF)
	w.WriteUint16(warnings)
	w.WriteUint16(status)
	return w.Bytes()
}

func textRowPayload(values ...string) []byte {
	w := protocol.NewWriter()
	for _, v := range values {
		w.WriteLenencString(v)
	}
	return w.Bytes()
}

func singleColumnResultSet(colName string, rows ...string) [][]byte {
	out := [][]byte{columnCountPayload(1), columnDefPayload(colName, protocol.TypeVarString)}
	out = append(out, eofTerminatorPayload(protocol.ServerStatusAutocommit, 0))
	for _, v := range rows {
		out = append(out, textRowPayload(v))
	}
	out = append(out, eofTerminatorPayload(protocol.ServerStatusAutocommit, 0))
	return out
}

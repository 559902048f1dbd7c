// Package auth computes the client side of the MySQL native-password
// handshake: parsing the server's initial handshake packet and rendering
// the client's handshake response, including capability negotiation.
package auth

import (
	"github.com/pkg/errors"

	"github.com/vasflam/go-mysql-core/protocol"
)

// HandshakeV10 is the decoded shape of the server's initial handshake
// packet (protocol version 10, the only version MySQL 4.1+ servers send).
type HandshakeV10 struct {
	ProtocolVersion uint8
	ServerVersion   string
	ConnectionID    uint32
	Scramble        []byte
	Capabilities    uint64
	CharacterSet    uint8
	StatusFlags     uint16
	AuthPluginName  string
}

// ErrUnsupportedProtocolVersion is returned by ParseHandshakeV10 for any
// protocol version other than 10; the core speaks the 4.1+ protocol only.
var ErrUnsupportedProtocolVersion = errors.New("auth: unsupported handshake protocol version")

// ParseHandshakeV10 decodes the server's initial handshake packet, using
// the shared protocol.Reader cursor for field-by-field decoding.
func ParseHandshakeV10(payload []byte) (*HandshakeV10, error) {
	r := protocol.NewReader(payload)
	h := &HandshakeV10{}
	h.ProtocolVersion = r.Uint8()
	if h.ProtocolVersion != 10 {
		return nil, errors.Wrapf(ErrUnsupportedProtocolVersion, "got version %d", h.ProtocolVersion)
	}
	h.ServerVersion = r.NullTerminatedString()
	h.ConnectionID = r.Uint32()
	scramble := append([]byte{}, r.Bytes(8)...) // scramble part 1
	r.Skip(1)                                    // filler
	h.Capabilities = uint64(r.Uint16())
	h.CharacterSet = r.Uint8()
	h.StatusFlags = r.Uint16()
	h.Capabilities |= uint64(r.Uint16()) << 16

	var authDataLen uint8
	if h.Capabilities&protocol.ClientPluginAuth != 0 {
		authDataLen = r.Uint8()
	} else {
		r.Skip(1)
	}
	r.Skip(10) // reserved

	if h.Capabilities&protocol.ClientSecureConn != 0 {
		n := int(authDataLen) - 9
		if n < 13 {
			n = 13
		}
		scramble2 := r.Bytes(n - 1) // scramble part 2, minus its own NUL terminator
		scramble = append(scramble, scramble2...)
		r.Skip(1)
	}

	if h.Capabilities&protocol.ClientPluginAuth != 0 {
		h.AuthPluginName = r.NullTerminatedString()
	}
	h.Scramble = scramble
	return h, nil
}

// ResponseOptions carries the pieces of the DSN relevant to capability
// negotiation, kept separate from the full dsn.DSN type so this package has
// no dependency on package dsn.
type ResponseOptions struct {
	Username        string
	Password        string
	Database        string
	FoundRows       bool
	MultiStatements bool
}

// BuildHandshakeResponse renders the client's handshake response packet
// payload (sequence number is the caller's concern) given the server's
// handshake and the requested options. It returns the negotiated capability
// bitset alongside the payload, since Connection needs it to interpret
// subsequent OK/EOF packets (e.g. whether CLIENT_DEPRECATE_EOF applies).
func BuildHandshakeResponse(h *HandshakeV10, opts ResponseOptions) (payload []byte, negotiated uint64, err error) {
	want := protocol.DefaultClientCapabilities
	if opts.FoundRows {
		want |= protocol.ClientFoundRows
	}
	if opts.MultiStatements {
		want |= protocol.ClientMultiStatements
	}
	if h.Capabilities&protocol.ClientPluginAuth == 0 {
		want &^= protocol.ClientPluginAuth
	}
	if h.Capabilities&protocol.ClientDeprecateEOF == 0 {
		want &^= protocol.ClientDeprecateEOF
	}
	if opts.Database != "" && h.Capabilities&protocol.ClientConnectWithDB != 0 {
		want |= protocol.ClientConnectWithDB
	}

	authPlugin := h.AuthPluginName
	var authResponse []byte
	switch authPlugin {
	case "", "mysql_native_password":
		authResponse = NativePassword(opts.Password, h.Scramble)
		authPlugin = "mysql_native_password"
	case "mysql_clear_password":
		authResponse = []byte(opts.Password)
	default:
		return nil, 0, errors.Errorf("auth: unsupported auth plugin %q", authPlugin)
	}

	w := protocol.NewWriter()
	w.WriteUint32(uint32(want))
	w.WriteUint32(1 << 24) // max packet size, 16MB
	w.WriteUint8(h.CharacterSet)
	for i := 0; i < 23; i++ {
		w.WriteUint8(0) // reserved
	}
	w.WriteNullTerminatedString(opts.Username)

	switch {
	case want&protocol.ClientPluginAuthLenencData != 0:
		w.WriteLenencInt(uint64(len(authResponse)))
		w.WriteBytes(authResponse)
	case want&protocol.ClientSecureConn != 0:
		w.WriteUint8(uint8(len(authResponse)))
		w.WriteBytes(authResponse)
	default:
		w.WriteBytes(authResponse)
		w.WriteUint8(0)
	}

	if want&protocol.ClientConnectWithDB != 0 {
		w.WriteNullTerminatedString(opts.Database)
	}

	if want&protocol.ClientPluginAuth != 0 {
		w.WriteNullTerminatedString(authPlugin)
	}

	return w.Bytes(), want, nil
}

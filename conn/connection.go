// Package conn implements the per-connection MySQL protocol state machine:
// socket lifecycle, handshake, command dispatch and result-set streaming.
// Query drives the protocol directly against blocking socket reads on the
// calling goroutine, invoking an explicit Handlers callback table as
// packets are parsed rather than logging ad hoc progress messages.
package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vasflam/go-mysql-core/auth"
	"github.com/vasflam/go-mysql-core/dsn"
	"github.com/vasflam/go-mysql-core/protocol"
)

// ServerInfo records what the handshake told us about the server.
type ServerInfo struct {
	ProtocolVersion uint8
	ServerVersion   string
	ConnectionID    uint32
	CharacterSet    uint8
	StatusFlags     uint16
}

// Connection owns one TCP or Unix socket to a MySQL server and drives the
// protocol state machine across it. A Connection is meant to be owned
// exclusively by one caller (normally a database.Database) at a time; it is
// not safe to issue overlapping commands from multiple goroutines, though
// Ping and Close may race a Query's completion safely.
type Connection struct {
	netConn net.Conn
	stream  *protocol.StreamReader

	dsn          *dsn.DSN
	server       ServerInfo
	capabilities uint64

	phase Phase

	errorCode    uint16
	sqlState     string
	errorMessage string

	affectedRows  uint64
	lastInsertID  uint64
	warningsCount uint16

	handlers Handlers

	mu   sync.Mutex
	busy bool

	logger *zap.Logger
}

// Option configures a Connection at Connect time.
type Option func(*Connection)

// WithLogger attaches a structured logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// Connect resolves the DSN, opens the socket (TCP or Unix, per d.Network)
// and performs the handshake through to Idle.
func Connect(ctx context.Context, d *dsn.DSN, opts ...Option) (*Connection, error) {
	c := &Connection{dsn: d, phase: PhaseDisconnected, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if d.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(d.ConnectTimeout*float64(time.Second)))
		defer cancel()
	}

	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(dialCtx, d.Network, d.Addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, &TimeoutError{Phase: "connect"}
		}
		return nil, &NetworkError{Cause: err}
	}
	c.netConn = netConn
	c.stream = protocol.NewStreamReader(netConn)
	c.phase = PhaseHandshakeWait

	if d.ConnectTimeout > 0 {
		netConn.SetDeadline(time.Now().Add(time.Duration(d.ConnectTimeout * float64(time.Second))))
	}
	if err := c.handshake(d); err != nil {
		netConn.Close()
		c.phase = PhaseClosed
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &TimeoutError{Phase: "connect"}
		}
		return nil, err
	}
	netConn.SetDeadline(time.Time{})
	c.phase = PhaseIdle

	if d.UTF8 {
		if err := c.Query("SET NAMES utf8"); err != nil {
			netConn.Close()
			c.phase = PhaseClosed
			return nil, errors.Wrap(err, "conn: SET NAMES utf8 after handshake")
		}
	}

	c.logger.Info("connected",
		zap.String("addr", d.Addr),
		zap.Uint32("connection_id", c.server.ConnectionID),
		zap.String("server_version", c.server.ServerVersion))
	return c, nil
}

func (c *Connection) handshake(d *dsn.DSN) error {
	seq, payload, err := c.stream.ReadPacket()
	if err != nil {
		return &NetworkError{Cause: err}
	}
	_ = seq // handshake's own sequence is not continued into the response beyond +1

	hs, err := auth.ParseHandshakeV10(payload)
	if err != nil {
		return &AuthError{Msg: err.Error()}
	}
	c.server = ServerInfo{
		ProtocolVersion: hs.ProtocolVersion,
		ServerVersion:   hs.ServerVersion,
		ConnectionID:    hs.ConnectionID,
		CharacterSet:    hs.CharacterSet,
		StatusFlags:     hs.StatusFlags,
	}

	resp, negotiated, err := auth.BuildHandshakeResponse(hs, auth.ResponseOptions{
		Username:        d.Username,
		Password:        d.Password,
		Database:        d.Database,
		FoundRows:       d.FoundRows,
		MultiStatements: d.MultiStatements,
	})
	if err != nil {
		return &AuthError{Msg: err.Error()}
	}
	c.capabilities = negotiated
	c.phase = PhaseAuthSent

	if err := c.writePacketRaw(1, resp); err != nil {
		return &NetworkError{Cause: err}
	}

	_, payload, err = c.stream.ReadPacket()
	if err != nil {
		return &NetworkError{Cause: err}
	}
	if len(payload) == 0 {
		return &ProtocolError{Msg: "empty handshake result packet"}
	}
	switch payload[0] {
	case protocol.PacketTypeOK:
		return nil
	case protocol.PacketTypeERR:
		code, state, msg := decodeErrPacket(payload)
		return &AuthError{Msg: fmt.Sprintf("%s (%d): %s", state, code, msg)}
	case 0xfe:
		return &AuthError{Msg: "authentication switch request is not supported"}
	default:
		return &ProtocolError{Msg: "unexpected packet after handshake response"}
	}
}

// Ping issues COM_PING and reports whether the server responded OK. Any
// failure — network error, unexpected response, or a connection not in
// Idle — is reported as false, never as an error: a health check should
// never itself be something callers need to handle as an error.
func (c *Connection) Ping() bool {
	c.mu.Lock()
	if c.phase != PhaseIdle || c.busy {
		c.mu.Unlock()
		return false
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	if err := c.writeCommand(protocol.ComPing, nil); err != nil {
		c.closeOnFatal(err)
		return false
	}
	_, payload, err := c.stream.ReadPacket()
	if err != nil {
		c.closeOnFatal(&NetworkError{Cause: err})
		return false
	}
	return len(payload) > 0 && payload[0] == protocol.PacketTypeOK
}

// Close issues COM_QUIT (best-effort) and closes the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.phase == PhaseClosed {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseClosed
	c.mu.Unlock()

	if c.netConn != nil {
		_ = c.writeCommand(protocol.ComQuit, nil)
		return c.netConn.Close()
	}
	return nil
}

// Phase reports the Connection's current protocol state.
func (c *Connection) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ServerVersion reports the version string the server advertised during
// the handshake.
func (c *Connection) ServerVersion() string { return c.server.ServerVersion }

// Capabilities returns the negotiated capability bitset.
func (c *Connection) Capabilities() uint64 { return c.capabilities }

// StatusFlags returns the server status bitset as of the last OK/EOF
// terminator seen (e.g. SERVER_STATUS_IN_TRANS while a transaction is
// open).
func (c *Connection) StatusFlags() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.StatusFlags
}

func (c *Connection) writeCommand(cmd byte, rest []byte) error {
	payload := make([]byte, 0, 1+len(rest))
	payload = append(payload, cmd)
	payload = append(payload, rest...)
	return c.writePacketRaw(0, payload)
}

func (c *Connection) writePacketRaw(seq uint8, payload []byte) error {
	_, err := c.netConn.Write(protocol.EncodePacket(seq, payload))
	return err
}

func (c *Connection) closeOnFatal(err error) {
	c.mu.Lock()
	c.phase = PhaseClosed
	c.mu.Unlock()
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.logger.Warn("connection closed after fatal error", zap.Error(err))
}

func decodeErrPacket(payload []byte) (code uint16, state string, message string) {
	r := protocol.NewReader(payload)
	r.Skip(1) // 0xff marker
	code = r.Uint16()
	if r.Peek() == '#' {
		r.Skip(1)
		state = r.FixedString(5)
	}
	message = string(r.RestOfPacket())
	return
}

// queryReadTimeout renders QueryTimeout (seconds, 0 = unbounded) as a
// time.Duration for use with SetReadDeadline.
func queryReadTimeout(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

package conn

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/vasflam/go-mysql-core/protocol"
	"github.com/vasflam/go-mysql-core/results"
)

// Query sends sql as a single COM_QUERY command and drives the protocol
// state machine directly against blocking socket reads until a terminal
// event, invoking the installed Handlers as packets are parsed. It
// requires the Connection to be Idle and returns ErrBusy if another command
// is already in flight; the text protocol has no framing for interleaved
// commands on one socket, so this is enforced here rather than relying on
// callers to serialize themselves.
//
// A well-formed ERR packet (ServerError) is non-fatal: Query returns it as
// an error, but the Connection is left Idle. Every other failure path
// closes the socket and leaves the Connection Closed.
func (c *Connection) Query(sql string) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.phase = PhaseCommandSent
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	if readTimeout := queryReadTimeout(c.dsn.QueryTimeout); readTimeout > 0 && c.netConn != nil {
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	if err := c.writeCommand(protocol.ComQuery, []byte(sql)); err != nil {
		c.closeOnFatal(err)
		return &NetworkError{Cause: err}
	}

	return c.runResponseLoop()
}

// runResponseLoop reads packets following a COM_QUERY until a terminal
// event (OnEnd without MORE_RESULTS_EXISTS, or OnError) leaves the
// Connection Idle, looping across result sets when multi-statements are in
// play.
func (c *Connection) runResponseLoop() error {
	for {
		seq, payload, err := c.readPacketTimed()
		_ = seq
		if err != nil {
			c.closeOnFatal(err)
			return err
		}
		if len(payload) == 0 {
			err := &ProtocolError{Msg: "empty response packet"}
			c.closeOnFatal(err)
			return err
		}

		switch {
		case payload[0] == protocol.PacketTypeOK && c.phase == PhaseCommandSent:
			more, err := c.handleOK(payload)
			if err != nil {
				c.closeOnFatal(err)
				return err
			}
			if more {
				continue
			}
			c.phase = PhaseIdle
			return nil

		case payload[0] == protocol.PacketTypeERR:
			svrErr := c.handleErr(payload)
			c.phase = PhaseIdle
			return svrErr

		case payload[0] == protocol.PacketTypeLocalInfile:
			more, err := c.declineLocalInfile(seq)
			if svrErr, ok := err.(*ServerError); ok {
				c.phase = PhaseIdle
				return svrErr
			}
			if err != nil {
				c.closeOnFatal(err)
				return err
			}
			if more {
				continue
			}
			c.phase = PhaseIdle
			return nil

		default:
			more, err := c.readResultSet(payload)
			if err != nil {
				c.closeOnFatal(err)
				return err
			}
			if more {
				continue
			}
			return nil
		}
	}
}

// handleOK parses an OK packet received in place of a result set (e.g. for
// INSERT/UPDATE/DDL), invokes OnEnd, and reports whether another result set
// follows (multi-statements).
func (c *Connection) handleOK(payload []byte) (more bool, err error) {
	r := protocol.NewReader(payload)
	r.Skip(1)
	affected, _ := r.LenencInt()
	lastID, _ := r.LenencInt()
	status := r.Uint16()
	warnings := r.Uint16()

	c.affectedRows, c.lastInsertID, c.warningsCount = affected, lastID, warnings
	c.server.StatusFlags = status
	more = status&protocol.ServerMoreResultsExists != 0 && c.dsn.MultiStatements

	if c.handlers.OnEnd != nil {
		c.handlers.OnEnd(EndMeta{AffectedRows: affected, LastInsertID: lastID, WarningsCount: warnings, MoreResults: more})
	}
	if more {
		c.phase = PhaseCommandSent
	}
	return more, nil
}

// handleErr parses an ERR packet, invokes OnError, and returns it as a
// *ServerError. An ERR packet mid-session does not desynchronize the stream,
// so it is non-fatal: the connection returns to Idle and may be reused.
func (c *Connection) handleErr(payload []byte) *ServerError {
	code, state, msg := decodeErrPacket(payload)
	c.errorCode, c.sqlState, c.errorMessage = code, state, msg
	if c.dsn.PrintError {
		c.logger.Error("server error", zap.Uint16("error_code", code),
			zap.String("sql_state", state), zap.String("error_message", msg))
	}
	if c.handlers.OnError != nil {
		c.handlers.OnError(ErrorInfo{Code: code, State: state, Message: msg})
	}
	return &ServerError{Code: code, State: state, Message: msg}
}

// declineLocalInfile responds to a LOCAL INFILE request (received with
// sequence number seq) with a zero-length packet (decline) and then reads the
// server's acknowledgement, which ends the command: an ERR is returned as a
// *ServerError, an OK is handled like any other OK response.
// This connector never services LOCAL INFILE file transfer requests.
func (c *Connection) declineLocalInfile(seq uint8) (more bool, err error) {
	if err := c.writePacketRaw(seq+1, nil); err != nil {
		return false, &NetworkError{Cause: err}
	}
	_, payload, err := c.readPacketTimed()
	if err != nil {
		return false, err
	}
	if len(payload) > 0 && payload[0] == protocol.PacketTypeERR {
		return false, c.handleErr(payload)
	}
	return c.handleOK(payload)
}

// readResultSet consumes one full result set: the column count packet
// (already read into firstPayload), the column-definition packets, the
// EOF/OK terminator that separates columns from rows (legacy EOF unless
// CLIENT_DEPRECATE_EOF was negotiated), and the row packets. It returns
// whether another result set follows.
func (c *Connection) readResultSet(firstPayload []byte) (more bool, err error) {
	r := protocol.NewReader(firstPayload)
	columnCount, ok := r.LenencInt()
	if !ok {
		return false, &ProtocolError{Msg: "result header carried a NULL column count"}
	}

	c.phase = PhaseReadColumns
	columns := make([]protocol.ColumnDef, 0, columnCount)
	for i := uint64(0); i < columnCount; i++ {
		_, payload, err := c.readPacketTimed()
		if err != nil {
			return false, err
		}
		columns = append(columns, protocol.DecodeColumnDef(payload))
	}
	if c.handlers.OnFields != nil {
		c.handlers.OnFields(columns)
	}

	if c.capabilities&protocol.ClientDeprecateEOF == 0 {
		_, payload, err := c.readPacketTimed()
		if err != nil {
			return false, err
		}
		if len(payload) == 0 || payload[0] != protocol.PacketTypeEOF {
			return false, &ProtocolError{Msg: "expected EOF packet after column definitions"}
		}
	}

	c.phase = PhaseReadRows
	for {
		_, payload, err := c.readPacketTimed()
		if err != nil {
			return false, err
		}
		if len(payload) == 0 {
			return false, &ProtocolError{Msg: "empty row packet"}
		}

		if isRowTerminator(payload, c.capabilities) {
			rr := protocol.NewReader(payload)
			rr.Skip(1)
			var status, warnings uint16
			if c.capabilities&protocol.ClientDeprecateEOF != 0 {
				// OK-shaped terminator: affected_rows/last_insert_id (lenenc,
				// always zero here) precede status_flags then warnings.
				rr.LenencInt()
				rr.LenencInt()
				status = rr.Uint16()
				warnings = rr.Uint16()
			} else {
				// Legacy EOF_Packet: warnings precedes status_flags.
				warnings = rr.Uint16()
				status = rr.Uint16()
			}
			c.server.StatusFlags = status
			c.warningsCount = warnings
			more = status&protocol.ServerMoreResultsExists != 0 && c.dsn.MultiStatements
			if c.handlers.OnEnd != nil {
				c.handlers.OnEnd(EndMeta{WarningsCount: warnings, MoreResults: more})
			}
			if more {
				c.phase = PhaseCommandSent
			} else {
				c.phase = PhaseIdle
			}
			return more, nil
		}

		if payload[0] == protocol.PacketTypeERR {
			svrErr := c.handleErr(payload)
			c.phase = PhaseIdle
			return false, svrErr
		}

		row := decodeTextRow(payload, len(columns))
		if c.handlers.OnRow != nil {
			c.handlers.OnRow(row)
		}
	}
}

// isRowTerminator reports whether payload is the EOF/OK-shaped terminator
// ending the row phase, as opposed to an ordinary text-protocol row. Legacy
// EOF packets are short (<9 bytes) and start with 0xFE; under
// CLIENT_DEPRECATE_EOF the terminator is OK-shaped (also leads with 0xFE,
// but its payload carries the OK packet's wider, lenenc-prefixed shape).
func isRowTerminator(payload []byte, capabilities uint64) bool {
	if len(payload) == 0 || payload[0] != protocol.PacketTypeEOF {
		return false
	}
	if capabilities&protocol.ClientDeprecateEOF != 0 {
		return true
	}
	return len(payload) < 9
}

// decodeTextRow reads columnCount length-encoded (possibly NULL) string
// values from a text-protocol row packet.
func decodeTextRow(payload []byte, columnCount int) results.Row {
	r := protocol.NewReader(payload)
	row := make(results.Row, columnCount)
	for i := 0; i < columnCount; i++ {
		s, isNull := r.LenencStringNullable()
		row[i] = results.NullString{String: s, Valid: !isNull}
	}
	return row
}

// readPacketTimed reads one packet honoring QueryTimeout, synthesizing a
// TimeoutError (sql_state HY000) if the server stalls past the deadline.
func (c *Connection) readPacketTimed() (uint8, []byte, error) {
	if readTimeout := queryReadTimeout(c.dsn.QueryTimeout); readTimeout > 0 && c.netConn != nil {
		c.netConn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	seq, payload, err := c.stream.ReadPacket()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.errorCode, c.sqlState, c.errorMessage = errCodeQueryTimeout, "HY000", "query timeout exceeded"
			if c.handlers.OnError != nil {
				c.handlers.OnError(ErrorInfo{Code: c.errorCode, State: c.sqlState, Message: c.errorMessage})
			}
			return 0, nil, &TimeoutError{Phase: "query"}
		}
		return 0, nil, &NetworkError{Cause: err}
	}
	return seq, payload, nil
}

// errCodeQueryTimeout is a client-synthesized error code distinguishing a
// query timeout from any real server error code space.
const errCodeQueryTimeout = 0xffff

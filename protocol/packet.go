// Package protocol implements the MySQL client/server wire protocol: packet
// framing and the primitive field encodings used by every higher-level
// packet shape (handshake, command, result set, OK/ERR/EOF).
package protocol

import (
	"encoding/binary"
)

// DecodePacket inspects the 4-byte header at the front of buf and, if a full
// payload is present, returns the sequence number, the payload slice (a view
// into buf, not a copy) and the total number of bytes consumed including the
// header. If buf does not yet hold a full packet it returns ErrShortBuffer;
// the caller should read more bytes and call DecodePacket again.
func DecodePacket(buf []byte) (seq uint8, payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, ErrShortBuffer
	}
	length := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
	seq = buf[3]
	if len(buf) < 4+length {
		return 0, nil, 0, ErrShortBuffer
	}
	return seq, buf[4 : 4+length], 4 + length, nil
}

// EncodePacket prepends the 4-byte header to payload. Payloads of
// MaxPacketSize bytes or more are split into MaxPacketSize chunks, each its
// own packet with an incrementing sequence number; a trailing zero-length
// packet is emitted when the final chunk exactly fills MaxPacketSize, per
// the wire protocol's framing rule for multi-packet payloads.
func EncodePacket(seq uint8, payload []byte) []byte {
	if len(payload) < MaxPacketSize {
		return encodeOne(seq, payload)
	}
	out := make([]byte, 0, len(payload)+4*(len(payload)/MaxPacketSize+2))
	rest := payload
	for len(rest) >= MaxPacketSize {
		chunk := rest[:MaxPacketSize]
		out = append(out, encodeOne(seq, chunk)...)
		seq++
		rest = rest[MaxPacketSize:]
	}
	out = append(out, encodeOne(seq, rest)...)
	return out
}

func encodeOne(seq uint8, payload []byte) []byte {
	header := [4]byte{
		byte(len(payload)),
		byte(len(payload) >> 8),
		byte(len(payload) >> 16),
		seq,
	}
	out := make([]byte, 0, 4+len(payload))
	out = append(out, header[:]...)
	out = append(out, payload...)
	return out
}

// Reader is a cursor over a packet payload, providing the primitive decoders
// described by the wire protocol: fixed-width little-endian integers,
// length-encoded integers and strings, NUL-terminated and fixed-length
// strings, and rest-of-packet strings.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf (a packet payload, without the 4-byte header) for
// sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Pos returns the current cursor offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Peek returns the next byte without advancing, or 0 if exhausted.
func (r *Reader) Peek() byte {
	if r.pos >= len(r.buf) {
		return 0
	}
	return r.buf[r.pos]
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.pos += n
}

// Bytes reads n raw bytes. Returns a short slice (and advances only by what
// was available) if the buffer is exhausted early; callers decoding a
// well-formed packet should treat a short read as ErrMalformedPacket.
func (r *Reader) Bytes(n int) []byte {
	if r.pos+n > len(r.buf) {
		n = len(r.buf) - r.pos
		if n < 0 {
			n = 0
		}
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// RestOfPacket returns every remaining byte.
func (r *Reader) RestOfPacket() []byte {
	return r.Bytes(r.Len())
}

// Uint8 reads a 1-byte unsigned integer.
func (r *Reader) Uint8() uint8 {
	if r.pos >= len(r.buf) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

// Uint16 reads a 2-byte little-endian unsigned integer.
func (r *Reader) Uint16() uint16 {
	b := r.Bytes(2)
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint24 reads a 3-byte little-endian unsigned integer.
func (r *Reader) Uint24() uint32 {
	b := r.Bytes(3)
	if len(b) < 3 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// Uint32 reads a 4-byte little-endian unsigned integer.
func (r *Reader) Uint32() uint32 {
	b := r.Bytes(4)
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint48 reads a 6-byte little-endian unsigned integer.
func (r *Reader) Uint48() uint64 {
	b := r.Bytes(6)
	if len(b) < 6 {
		return 0
	}
	var v uint64
	for i := 5; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Uint64 reads an 8-byte little-endian unsigned integer.
func (r *Reader) Uint64() uint64 {
	b := r.Bytes(8)
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// LenencInt reads a length-encoded integer. The second return value is false
// when the encoded value is the SQL NULL marker (0xFB), meaningful only in
// row-value context.
func (r *Reader) LenencInt() (uint64, bool) {
	first := r.Uint8()
	switch {
	case first < 0xfb:
		return uint64(first), true
	case first == 0xfb:
		return 0, false
	case first == 0xfc:
		return uint64(r.Uint16()), true
	case first == 0xfd:
		return uint64(r.Uint24()), true
	default: // 0xfe
		return r.Uint64(), true
	}
}

// LenencString reads a length-encoded string.
func (r *Reader) LenencString() string {
	n, ok := r.LenencInt()
	if !ok {
		return ""
	}
	return string(r.Bytes(int(n)))
}

// LenencStringNullable reads a length-encoded string that may be the SQL
// NULL marker, as found in text-protocol row values. The second return
// value reports whether the value was NULL.
func (r *Reader) LenencStringNullable() (string, bool) {
	if r.Peek() == 0xfb {
		r.Skip(1)
		return "", true
	}
	n, _ := r.LenencInt()
	return string(r.Bytes(int(n))), false
}

// NullTerminatedString reads bytes up to and including a 0x00 terminator,
// returning the bytes before it.
func (r *Reader) NullTerminatedString() string {
	start := r.pos
	for r.pos < len(r.buf) && r.buf[r.pos] != 0 {
		r.pos++
	}
	s := string(r.buf[start:r.pos])
	if r.pos < len(r.buf) {
		r.pos++ // consume the terminator
	}
	return s
}

// FixedString reads exactly n bytes and returns them as a string.
func (r *Reader) FixedString(n int) string {
	return string(r.Bytes(n))
}

// Writer builds a packet payload by appending the primitive encodings that
// mirror Reader's decoders.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteNullTerminatedString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteLenencInt writes v as a length-encoded integer.
func (w *Writer) WriteLenencInt(v uint64) {
	switch {
	case v < 0xfb:
		w.WriteUint8(uint8(v))
	case v < 1<<16:
		w.WriteUint8(0xfc)
		w.WriteUint16(uint16(v))
	case v < 1<<24:
		w.WriteUint8(0xfd)
		w.WriteUint24(uint32(v))
	default:
		w.WriteUint8(0xfe)
		w.WriteUint64(v)
	}
}

// WriteLenencString writes s as a length-encoded string.
func (w *Writer) WriteLenencString(s string) {
	w.WriteLenencInt(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

package protocol

import "github.com/pkg/errors"

// ErrShortBuffer is returned by DecodePacket when the accumulation buffer
// does not yet hold a full packet. Callers should read more bytes from the
// socket and retry; it is never fatal to the connection.
var ErrShortBuffer = errors.New("protocol: short buffer")

// ErrMalformedPacket is returned when a packet header or payload cannot be
// interpreted according to the wire format. Unlike ErrShortBuffer this is
// fatal: the stream is desynchronized and the connection must be closed.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Package framing implements the fixed 12-byte routing header that prefixes
// every payload crossing a gateway socket: {payload_len, client_id,
// backend_id}, all uint32 network byte order. It generalizes the teacher's
// variable-length RTMP chunk header into the fixed-size frame this protocol
// uses instead.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sothis/remote-agent/internal/bufpool"
	"github.com/sothis/remote-agent/internal/errs"
)

// HeaderSize is the wire size of Header in bytes.
const HeaderSize = 12

// MaxPayloadLen bounds a single frame's payload to guard against a
// corrupted or hostile length field forcing an unbounded allocation.
const MaxPayloadLen = 10 * 1024 * 1024

// Header is the routing header prefixing every framed payload.
type Header struct {
	PayloadLen uint32
	ClientID   uint32
	BackendID  uint32
}

// Encode writes h to buf in network byte order. buf must be at least
// HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[4:8], h.ClientID)
	binary.BigEndian.PutUint32(buf[8:12], h.BackendID)
}

// DecodeHeader parses a Header from buf. buf must be at least HeaderSize
// bytes; only the first HeaderSize bytes are read.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errs.NewProtocolError("framing.decode", fmt.Errorf("short header: %d bytes", len(buf)))
	}
	return Header{
		PayloadLen: binary.BigEndian.Uint32(buf[0:4]),
		ClientID:   binary.BigEndian.Uint32(buf[4:8]),
		BackendID:  binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// Frame is a decoded header paired with its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// ReadFrame reads one length-prefixed frame from r. It enforces
// MaxPayloadLen and reads exactly PayloadLen bytes of body, returning a
// ProtocolError if the header is malformed or the length is out of range.
func ReadFrame(r io.Reader) (Frame, error) {
	var hbuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return Frame{}, fmt.Errorf("framing: read header: %w", err)
	}
	h, err := DecodeHeader(hbuf[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > MaxPayloadLen {
		return Frame{}, errs.NewProtocolError("framing.read", fmt.Errorf("payload_len %d exceeds max %d", h.PayloadLen, MaxPayloadLen))
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("framing: read payload: %w", err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame encodes header+payload and writes them to w as a single frame.
// The payload length in header is overwritten to match len(payload). The
// combined header+payload buffer is drawn from bufpool and returned once
// the write completes, since it never escapes this call.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	h.PayloadLen = uint32(len(payload))
	buf := bufpool.Get(HeaderSize + len(payload))
	defer bufpool.Put(buf)
	h.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("framing: write frame: %w", err)
	}
	return nil
}

package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/sothis/remote-agent/internal/errs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{PayloadLen: 42, ClientID: 3, BackendID: 7}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 4))
	if !errs.IsProtocol(err) {
		t.Fatalf("expected protocol error for short buffer, got %v", err)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello routing header")
	if err := WriteFrame(&buf, Header{ClientID: 1, BackendID: 2}, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Header.ClientID != 1 || frame.Header.BackendID != 2 {
		t.Fatalf("unexpected header: %+v", frame.Header)
	}
	if frame.Header.PayloadLen != uint32(len(payload)) {
		t.Fatalf("unexpected payload_len: %d", frame.Header.PayloadLen)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: %q", frame.Payload)
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	h := Header{PayloadLen: MaxPayloadLen + 1}
	hbuf := make([]byte, HeaderSize)
	h.Encode(hbuf)
	buf.Write(hbuf)

	_, err := ReadFrame(&buf)
	if !errs.IsProtocol(err) {
		t.Fatalf("expected protocol error for oversized payload, got %v", err)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Header{ClientID: 5}, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(frame.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(frame.Payload))
	}
}

func TestReadFrameShortRead(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil || err == io.EOF {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
}

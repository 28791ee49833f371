// Package discovery implements the UDP broadcast protocol agents use to
// announce themselves and the gateway uses to track live agents. It is
// reimplemented over Go's net.ListenUDP/net.DialUDP from the original
// Windows gateway's Winsock2 discovery.c, keeping the exact wire layout and
// expiry semantics.
package discovery

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sothis/remote-agent/internal/errs"
)

// Size is the fixed wire size of a discovery Packet. The field layout
// (magic, version, service_port, a 64-byte name, capabilities, a 64-byte
// advertised host) sums to 144 bytes; the prose "140-byte" description is
// treated as approximate and the explicit offsets as authoritative.
const Size = 144

// Port is the UDP port used on both sides of the protocol.
const Port = 9999

// Two magics are observed in the reference corpus; the gateway accepts
// both, but new agents announce with MagicGate.
const (
	MagicCafe = 0xCAFE1234
	MagicGate = 0x47415445 // "GATE"
)

// Version is the only packet format version this implementation emits.
const Version = 1

// BroadcastInterval is how often an agent re-announces itself.
const BroadcastInterval = 5 * time.Second

// BackendTimeout is how long a gateway-side table entry survives without a
// fresh announcement.
const BackendTimeout = 15 * time.Second

// Packet is the decoded form of a Size-byte (144) discovery announcement.
type Packet struct {
	Magic          uint32
	Version        uint32
	ServicePort    uint32
	ServiceName    string
	Capabilities   uint32
	AdvertisedHost string
}

// Encode serializes p into the fixed wire layout. ServiceName and
// AdvertisedHost are truncated to 64 bytes and nul-padded.
func Encode(p Packet) []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], p.Magic)
	binary.BigEndian.PutUint32(buf[4:8], p.Version)
	binary.BigEndian.PutUint32(buf[8:12], p.ServicePort)
	putFixedString(buf[12:76], p.ServiceName)
	binary.BigEndian.PutUint32(buf[76:80], p.Capabilities)
	putFixedString(buf[80:144], p.AdvertisedHost)
	return buf
}

func putFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// Decode parses buf into a Packet. buf must be at least Size bytes.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < Size {
		return Packet{}, errs.NewProtocolError("discovery.decode", fmt.Errorf("short packet: %d bytes", len(buf)))
	}
	return Packet{
		Magic:          binary.BigEndian.Uint32(buf[0:4]),
		Version:        binary.BigEndian.Uint32(buf[4:8]),
		ServicePort:    binary.BigEndian.Uint32(buf[8:12]),
		ServiceName:    trimFixedString(buf[12:76]),
		Capabilities:   binary.BigEndian.Uint32(buf[76:80]),
		AdvertisedHost: trimFixedString(buf[80:144]),
	}, nil
}

func trimFixedString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// IsValidMagic reports whether magic matches one of the accepted
// discovery magics.
func IsValidMagic(magic uint32) bool {
	return magic == MagicCafe || magic == MagicGate
}

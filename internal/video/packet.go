// Package video classifies H.264 Annex-B access units into the packet kinds
// the broadcast bus needs to implement smart join and drop policy. It
// generalizes the teacher's FLV-tag codec/frame-type detection (which read a
// one-byte video tag header) to Annex-B start-code-delimited NALUs.
package video

import "fmt"

// Kind classifies a Packet for BroadcastBus drop/join decisions.
type Kind int

const (
	// InterFrame is a non-reference or P/B-slice NALU; safe to drop under
	// backpressure since a later key frame will resynchronize viewers.
	InterFrame Kind = iota
	// KeyFrame is an IDR slice; new subscribers need to see one before
	// decoding anything, and its delivery should never be starved.
	KeyFrame
	// CodecConfig carries parameter sets (SPS/PPS) a decoder needs before
	// it can interpret any slice NALU.
	CodecConfig
)

func (k Kind) String() string {
	switch k {
	case KeyFrame:
		return "keyframe"
	case CodecConfig:
		return "codec_config"
	default:
		return "inter"
	}
}

// Packet is one classified access unit flowing through a BroadcastBus.
type Packet struct {
	Data       []byte
	PTS        int64 // presentation timestamp, encoder clock units
	Generation uint64
	Kind       Kind
}

// NALU type values from ITU-T H.264 Annex B we care about for classification.
const (
	naluTypeSlice    = 1
	naluTypeIDRSlice = 5
	naluTypeSPS      = 7
	naluTypePPS      = 8
)

// Classify scans every NALU in an Annex-B access unit (one or more
// start-code-delimited NALUs sharing a single timestamp) and returns the
// Kind for the whole unit: any SPS/PPS NALU makes it CodecConfig, otherwise
// any IDR slice makes it KeyFrame, and anything else is InterFrame. An
// access unit with no recognizable start code is treated as InterFrame so
// it is never allowed to block behind a missing key frame.
func Classify(accessUnit []byte) Kind {
	best := InterFrame
	offset := 0
	for offset < len(accessUnit) {
		start, naluStart := nextStartCode(accessUnit[offset:])
		if start < 0 {
			break
		}
		naluStart += offset
		if naluStart >= len(accessUnit) {
			break
		}
		naluType := accessUnit[naluStart] & 0x1F
		switch naluType {
		case naluTypeSPS, naluTypePPS:
			return CodecConfig // codec config always wins; report immediately
		case naluTypeIDRSlice:
			best = KeyFrame
		case naluTypeSlice:
			// leave best as-is; a plain slice doesn't downgrade a prior IDR finding
		}
		offset = naluStart + 1
	}
	return best
}

// nextStartCode finds the next Annex-B start code (3- or 4-byte form) in
// buf, returning the length of the code found (3 or 4) and the offset of
// the byte immediately following it (the NALU header byte). Returns (-1, 0)
// if no start code is present.
func nextStartCode(buf []byte) (codeLen int, naluOffset int) {
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 {
			if buf[i+2] == 1 {
				return 3, i + 3
			}
			if i+3 < len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
				return 4, i + 4
			}
		}
	}
	return -1, 0
}

// NewPacket classifies data and wraps it into a Packet for the given
// generation and presentation timestamp.
func NewPacket(data []byte, pts int64, generation uint64) Packet {
	return Packet{Data: data, PTS: pts, Generation: generation, Kind: Classify(data)}
}

func (p Packet) String() string {
	return fmt.Sprintf("video.Packet{kind=%s pts=%d gen=%d len=%d}", p.Kind, p.PTS, p.Generation, len(p.Data))
}

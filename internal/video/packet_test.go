package video

import "testing"

func annexB(codeLen int, naluType byte, rest ...byte) []byte {
	var out []byte
	if codeLen == 4 {
		out = append(out, 0, 0, 0, 1)
	} else {
		out = append(out, 0, 0, 1)
	}
	out = append(out, naluType)
	out = append(out, rest...)
	return out
}

func TestClassifySPS(t *testing.T) {
	au := annexB(4, naluTypeSPS, 0x64, 0x00, 0x1F)
	if got := Classify(au); got != CodecConfig {
		t.Fatalf("expected CodecConfig, got %s", got)
	}
}

func TestClassifyPPS(t *testing.T) {
	au := annexB(3, naluTypePPS, 0xCE)
	if got := Classify(au); got != CodecConfig {
		t.Fatalf("expected CodecConfig, got %s", got)
	}
}

func TestClassifyIDR(t *testing.T) {
	au := annexB(4, naluTypeIDRSlice, 0x88, 0x84)
	if got := Classify(au); got != KeyFrame {
		t.Fatalf("expected KeyFrame, got %s", got)
	}
}

func TestClassifyInter(t *testing.T) {
	au := annexB(3, naluTypeSlice, 0x41)
	if got := Classify(au); got != InterFrame {
		t.Fatalf("expected InterFrame, got %s", got)
	}
}

func TestClassifyNoStartCode(t *testing.T) {
	if got := Classify([]byte{1, 2, 3, 4}); got != InterFrame {
		t.Fatalf("expected InterFrame fallback, got %s", got)
	}
}

func TestClassifyMultiNALUAccessUnit(t *testing.T) {
	au := append(annexB(4, naluTypeSPS, 0x64), annexB(4, naluTypeIDRSlice, 0x88)...)
	if got := Classify(au); got != CodecConfig {
		t.Fatalf("expected CodecConfig to win over later IDR, got %s", got)
	}
}

func TestNewPacketFields(t *testing.T) {
	data := annexB(4, naluTypeIDRSlice, 0x88)
	p := NewPacket(data, 12345, 7)
	if p.Kind != KeyFrame {
		t.Fatalf("expected KeyFrame kind, got %s", p.Kind)
	}
	if p.PTS != 12345 || p.Generation != 7 {
		t.Fatalf("unexpected packet fields: %+v", p)
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 99
	if k.String() != "inter" {
		t.Fatalf("expected unknown kind to stringify as inter, got %s", k.String())
	}
}

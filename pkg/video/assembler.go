package video

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H264 NAL unit types.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// assembler depacketizes RTP into Annex-B access units and keeps the
// current group of pictures, starting at the last IDR frame, decodable.
type assembler struct {
	depack codecs.H264Packet
	max    int

	unit   []byte // access unit being assembled
	params []byte // last SPS/PPS seen outside an IDR unit
	gop    []byte
	keyed  bool
}

func newAssembler(limit int) *assembler {
	return &assembler{max: limit}
}

// push adds a packet. It reports whether an access unit completed and
// was appended to a decodable group of pictures.
func (a *assembler) push(pkt *rtp.Packet) (bool, error) {
	nals, err := a.depack.Unmarshal(pkt.Payload)
	if err != nil {
		a.unit = a.unit[:0]
		return false, err
	}
	a.unit = append(a.unit, nals...)
	if !pkt.Marker {
		return false, nil
	}

	unit := a.unit
	a.unit = nil

	switch {
	case hasNAL(unit, nalIDR):
		a.gop = a.gop[:0]
		if !hasNAL(unit, nalSPS) {
			a.gop = append(a.gop, a.params...)
		}
		a.gop = append(a.gop, unit...)
		a.keyed = true
		return true, nil

	case hasNAL(unit, nalSPS) || hasNAL(unit, nalPPS):
		a.params = append(a.params[:0], unit...)
		return false, nil

	case !a.keyed:
		return false, nil

	case a.max > 0 && len(a.gop)+len(unit) > a.max:
		// Too far from the last keyframe; wait for the next one.
		a.keyed = false
		a.gop = a.gop[:0]
		return false, nil

	default:
		a.gop = append(a.gop, unit...)
		return true, nil
	}
}

// snapshot returns a copy of the current group of pictures.
func (a *assembler) snapshot() []byte {
	out := make([]byte, len(a.gop))
	copy(out, a.gop)
	return out
}

// hasNAL reports whether an Annex-B buffer contains a NAL unit of type typ.
func hasNAL(b []byte, typ byte) bool {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if b[i+3]&0x1F == typ {
				return true
			}
			i += 2
		}
	}
	return false
}

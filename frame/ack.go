package frame

import "github.com/quicproto/qtransport/wire"

// AckRange is one (gap, length) pair in an ACK frame's range list, encoding
// a contiguous run of acknowledged packet numbers below the previous range.
type AckRange struct {
	// Smallest and Largest are the inclusive bounds of this contiguous
	// acknowledged range, already expanded from the wire's gap/length
	// encoding for convenience at the call site.
	Smallest, Largest int64
}

// Ack acknowledges receipt of packets in one packet number space. ECN counts
// are carried when ECNPresent is true, per RFC 9000 section 19.3.1.
type Ack struct {
	LargestAcked int64
	AckDelay     uint64 // raw wire value; the caller scales it by 2^ack_delay_exponent microseconds (RFC 9000 19.3)
	Ranges       []AckRange

	ECNPresent          bool
	ECT0, ECT1, ECNCE uint64
}

func (Ack) Type() Type        { return TypeAck }
func (Ack) AckEliciting() bool { return false }

func (a Ack) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireAck)
	if a.ECNPresent {
		typ = wireAckECN
	}
	buf = appendVarInt(buf, typ)
	buf = appendVarInt(buf, uint64(a.LargestAcked))
	buf = appendVarInt(buf, a.AckDelay)
	if len(a.Ranges) == 0 {
		return buf, errFrameShape
	}
	buf = appendVarInt(buf, uint64(len(a.Ranges)-1))
	buf = appendVarInt(buf, uint64(a.Ranges[0].Largest-a.Ranges[0].Smallest))
	prevSmallest := a.Ranges[0].Smallest
	for _, r := range a.Ranges[1:] {
		gap := prevSmallest - r.Largest - 2
		if gap < 0 {
			return buf, errFrameShape
		}
		buf = appendVarInt(buf, uint64(gap))
		buf = appendVarInt(buf, uint64(r.Largest-r.Smallest))
		prevSmallest = r.Smallest
	}
	if a.ECNPresent {
		buf = appendVarInt(buf, a.ECT0)
		buf = appendVarInt(buf, a.ECT1)
		buf = appendVarInt(buf, a.ECNCE)
	}
	return buf, nil
}

var errFrameShape = ErrFrameEncoding

func decodeAck(b []byte, ecn bool) (Frame, int, error) {
	start := len(b)
	largest, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	delay, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	count, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	firstLen, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	if firstLen > uint64(largest) {
		return nil, 0, ErrFrameEncoding
	}
	a := Ack{LargestAcked: int64(largest), AckDelay: delay, ECNPresent: ecn}
	smallest := int64(largest) - int64(firstLen)
	a.Ranges = append(a.Ranges, AckRange{Smallest: smallest, Largest: int64(largest)})

	for i := uint64(0); i < count; i++ {
		gap, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		length, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		nextLargest := smallest - int64(gap) - 2
		if nextLargest < 0 || length > uint64(nextLargest) {
			return nil, 0, ErrFrameEncoding
		}
		nextSmallest := nextLargest - int64(length)
		a.Ranges = append(a.Ranges, AckRange{Smallest: nextSmallest, Largest: nextLargest})
		smallest = nextSmallest
	}

	if ecn {
		var ect0, ect1, ce uint64
		ect0, n, err = wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		ect1, n, err = wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		ce, n, err = wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		a.ECT0, a.ECT1, a.ECNCE = ect0, ect1, ce
	}

	return a, start - len(b), nil
}

package frame

import "github.com/quicproto/qtransport/wire"

// NewConnectionID offers the peer a fresh connection ID to use once it
// retires its current one, along with the stateless reset token that will
// authenticate a reset referencing this CID.
type NewConnectionID struct {
	SequenceNumber uint64
	RetirePriorTo  uint64
	ConnectionID   wire.ConnectionID
	ResetToken     [16]byte
}

func (NewConnectionID) Type() Type        { return TypeNewConnectionID }
func (NewConnectionID) AckEliciting() bool { return true }
func (f NewConnectionID) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireNewConnectionID)
	buf = appendVarInt(buf, f.SequenceNumber)
	buf = appendVarInt(buf, f.RetirePriorTo)
	buf = append(buf, byte(f.ConnectionID.Len()))
	buf = append(buf, f.ConnectionID.Bytes()...)
	buf = append(buf, f.ResetToken[:]...)
	return buf, nil
}

func decodeNewConnectionID(b []byte) (Frame, int, error) {
	start := len(b)
	seq, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	retire, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	if retire > seq {
		return nil, 0, ErrFrameEncoding
	}
	if len(b) < 1 {
		return nil, 0, ErrFrameEncoding
	}
	cidLen := int(b[0])
	b = b[1:]
	if cidLen > wire.MaxCIDLen || len(b) < cidLen+16 {
		return nil, 0, ErrFrameEncoding
	}
	cid, err := wire.NewConnectionID(b[:cidLen])
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[cidLen:]
	var token [16]byte
	copy(token[:], b[:16])
	b = b[16:]
	return NewConnectionID{
		SequenceNumber: seq,
		RetirePriorTo:  retire,
		ConnectionID:   cid,
		ResetToken:     token,
	}, start - len(b), nil
}

// RetireConnectionID asks the peer to stop using one of our previously
// issued connection IDs.
type RetireConnectionID struct {
	SequenceNumber uint64
}

func (RetireConnectionID) Type() Type        { return TypeRetireConnectionID }
func (RetireConnectionID) AckEliciting() bool { return true }
func (f RetireConnectionID) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireRetireConnectionID)
	buf = appendVarInt(buf, f.SequenceNumber)
	return buf, nil
}

func decodeRetireConnectionID(b []byte) (Frame, int, error) {
	start := len(b)
	seq, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	return RetireConnectionID{SequenceNumber: seq}, start - len(b[n:]), nil
}

package frame

// Padding is a single zero byte used to pad a packet to a minimum size (e.g.
// client Initial packets to 1200 bytes). Many consecutive PADDING bytes are
// typically coalesced by the caller into one Padding value carrying a
// repeat count rather than one Frame per byte.
type Padding struct {
	// Length is the number of padding bytes this value represents.
	Length int
}

func (Padding) Type() Type           { return TypePadding }
func (Padding) AckEliciting() bool    { return false }
func (p Padding) Append(buf []byte) ([]byte, error) {
	n := p.Length
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		buf = append(buf, wirePadding)
	}
	return buf, nil
}

// Ping carries no data; its only purpose is to be ack-eliciting, e.g. to
// keep a connection alive or to solicit an ACK when no other ack-eliciting
// frame is pending.
type Ping struct{}

func (Ping) Type() Type                     { return TypePing }
func (Ping) AckEliciting() bool             { return true }
func (Ping) Append(buf []byte) ([]byte, error) {
	return append(buf, wirePing), nil
}

// HandshakeDone tells the client the handshake is confirmed. Only a server
// may send it, and only once.
type HandshakeDone struct{}

func (HandshakeDone) Type() Type          { return TypeHandshakeDone }
func (HandshakeDone) AckEliciting() bool  { return true }
func (HandshakeDone) Append(buf []byte) ([]byte, error) {
	return append(buf, wireHandshakeDone), nil
}

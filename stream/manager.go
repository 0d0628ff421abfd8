package stream

import (
	"errors"
	"sort"

	"github.com/quicproto/qtransport/flowcontrol"
)

// ErrStreamLimitExceeded is returned when opening a stream would exceed the
// peer-advertised concurrent stream limit for its type.
var ErrStreamLimitExceeded = errors.New("stream: concurrent stream limit exceeded")

// ErrUnknownStream is returned when a frame references a stream ID this
// manager has never seen and is not eligible to implicitly create (a lower,
// unopened ID in the same sequence).
var ErrUnknownStream = errors.New("stream: unknown stream id")

// Limits bundles the locally-configured flow control and concurrency
// limits a Manager enforces for newly created streams, mirroring the
// initial_max_stream_data_*/initial_max_streams_* transport parameters.
type Limits struct {
	MaxStreamDataBidiLocal  uint64
	MaxStreamDataBidiRemote uint64
	MaxStreamDataUni        uint64
	MaxStreamsBidi          uint64
	MaxStreamsUni           uint64
}

// handle bundles the two half-streams a full-duplex bidi stream has, or
// just one half for a uni stream (only Send for a locally-opened uni
// stream, only Recv for a peer-opened one).
type handle struct {
	send *SendBuffer
	recv *RecvBuffer
}

// Manager owns every stream of one connection: creation, ID-space
// accounting, and routing of frames to the right stream's buffers
// (spec.md section 4.4).
type Manager struct {
	isServer bool
	limits   Limits

	streams map[ID]*handle

	nextBidiLocal  uint64
	nextUniLocal   uint64
	peerBidiLimit  uint64
	peerUniLimit   uint64
	localBidiLimit uint64
	localUniLimit  uint64

	highestBidiRemote uint64
	highestUniRemote  uint64
	sawBidiRemote     bool
	sawUniRemote      bool

	// rrCursor remembers, per priority tier, which stream PendingWrites
	// should start from next, so successive polls rotate fairly among
	// same-priority streams instead of always favoring the lowest ID.
	rrCursor map[int]int
}

// MaxStreamDataUpdate is a pending per-stream flow-control credit to
// advertise via a MAX_STREAM_DATA frame.
type MaxStreamDataUpdate struct {
	ID      ID
	Maximum uint64
}

// StopSendingUpdate is a pending STOP_SENDING frame to send, asking the
// peer to stop sending on ID.
type StopSendingUpdate struct {
	ID        ID
	ErrorCode uint64
}

// ResetUpdate is a pending RESET_STREAM frame to send.
type ResetUpdate struct {
	ID        ID
	ErrorCode uint64
	FinalSize uint64
}

// NewManager creates a stream manager for a connection acting as server or
// client, with the given locally-configured limits. The peer's stream
// count limits start at zero until its transport parameters (or a
// MAX_STREAMS frame) raise them.
func NewManager(isServer bool, limits Limits) *Manager {
	return &Manager{
		isServer:       isServer,
		limits:         limits,
		streams:        make(map[ID]*handle),
		localBidiLimit: limits.MaxStreamsBidi,
		localUniLimit:  limits.MaxStreamsUni,
		rrCursor:       make(map[int]int),
	}
}

// SetPeerStreamLimits applies the peer's initial_max_streams_bidi/uni
// transport parameters (or an update carried a MAX_STREAMS frame).
func (m *Manager) SetPeerStreamLimits(bidi, uni uint64) {
	if bidi > m.peerBidiLimit {
		m.peerBidiLimit = bidi
	}
	if uni > m.peerUniLimit {
		m.peerUniLimit = uni
	}
}

// SetPeerStreamLimit raises the peer's advertised concurrent stream count
// for one stream type (a MAX_STREAMS frame), leaving the other type
// untouched; values that don't raise the existing limit are ignored, since
// MAX_STREAMS frames may be delivered out of order.
func (m *Manager) SetPeerStreamLimit(uni bool, count uint64) {
	if uni {
		if count > m.peerUniLimit {
			m.peerUniLimit = count
		}
		return
	}
	if count > m.peerBidiLimit {
		m.peerBidiLimit = count
	}
}

// OpenBidi opens the next locally-initiated bidirectional stream.
func (m *Manager) OpenBidi() (ID, *SendBuffer, *RecvBuffer, error) {
	if m.nextBidiLocal >= m.peerBidiLimit {
		return 0, nil, nil, ErrStreamLimitExceeded
	}
	id := NewID(m.nextBidiLocal, m.isServer, false)
	m.nextBidiLocal++
	h := &handle{
		send: NewSendBuffer(flowcontrol.NewSendWindow(m.limits.MaxStreamDataBidiRemote)),
		recv: NewRecvBuffer(flowcontrol.NewReceiveWindow(m.limits.MaxStreamDataBidiLocal)),
	}
	m.streams[id] = h
	return id, h.send, h.recv, nil
}

// OpenUni opens the next locally-initiated unidirectional stream.
func (m *Manager) OpenUni() (ID, *SendBuffer, error) {
	if m.nextUniLocal >= m.peerUniLimit {
		return 0, nil, ErrStreamLimitExceeded
	}
	id := NewID(m.nextUniLocal, m.isServer, true)
	m.nextUniLocal++
	h := &handle{send: NewSendBuffer(flowcontrol.NewSendWindow(m.limits.MaxStreamDataUni))}
	m.streams[id] = h
	return id, h.send, nil
}

// streamFor returns the handle for id, implicitly creating it if it is a
// peer-initiated stream seen for the first time. Lower-numbered streams of
// the same type that the peer skipped over are not created here; each is
// created when a frame for it arrives.
func (m *Manager) streamFor(id ID) (*handle, error) {
	if h, ok := m.streams[id]; ok {
		return h, nil
	}
	if id.InitiatedByLocal(m.isServer) {
		// A locally-initiated stream must already exist; the peer cannot
		// conjure one into being.
		return nil, ErrUnknownStream
	}
	counter := id.Counter()
	if id.IsBidi() {
		if counter >= m.localBidiLimit {
			return nil, ErrStreamLimitExceeded
		}
		if !m.sawBidiRemote || counter > m.highestBidiRemote {
			m.highestBidiRemote = counter
			m.sawBidiRemote = true
		}
	} else {
		if counter >= m.localUniLimit {
			return nil, ErrStreamLimitExceeded
		}
		if !m.sawUniRemote || counter > m.highestUniRemote {
			m.highestUniRemote = counter
			m.sawUniRemote = true
		}
	}
	h := &handle{recv: NewRecvBuffer(flowcontrol.NewReceiveWindow(streamDataLimit(id, m.limits)))}
	if id.IsBidi() {
		h.send = NewSendBuffer(flowcontrol.NewSendWindow(m.limits.MaxStreamDataBidiRemote))
	}
	m.streams[id] = h
	return h, nil
}

func streamDataLimit(id ID, limits Limits) uint64 {
	if id.IsUni() {
		return limits.MaxStreamDataUni
	}
	return limits.MaxStreamDataBidiLocal
}

// HandleStreamFrame routes a decoded STREAM frame's payload to the
// appropriate stream's receive buffer, implicitly opening it if necessary.
func (m *Manager) HandleStreamFrame(id ID, offset uint64, data []byte, fin bool) error {
	h, err := m.streamFor(id)
	if err != nil {
		return err
	}
	if h.recv == nil {
		return ErrUnknownStream // a STREAM frame for a send-only local uni stream
	}
	return h.recv.Ingest(offset, data, fin)
}

// HandleResetStream routes a decoded RESET_STREAM frame.
func (m *Manager) HandleResetStream(id ID, errCode, finalSize uint64) error {
	h, err := m.streamFor(id)
	if err != nil {
		return err
	}
	if h.recv == nil {
		return ErrUnknownStream
	}
	h.recv.Reset(errCode, finalSize)
	return nil
}

// Get returns the send and receive buffers for an already-known stream, or
// ok=false if it has never been seen.
func (m *Manager) Get(id ID) (send *SendBuffer, recv *RecvBuffer, ok bool) {
	h, found := m.streams[id]
	if !found {
		return nil, nil, false
	}
	return h.send, h.recv, true
}

// PendingWrites returns the IDs of streams with unsent send-side data,
// ordered for the connection's transmit scheduler: highest priority tier
// first, round-robin within a tier across successive calls.
func (m *Manager) PendingWrites() []ID {
	byPriority := make(map[int][]ID)
	for id, h := range m.streams {
		if h.send != nil && h.send.HasPending() {
			p := h.send.Priority()
			byPriority[p] = append(byPriority[p], id)
		}
	}
	if len(byPriority) == 0 {
		return nil
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	var out []ID
	for _, p := range priorities {
		ids := byPriority[p]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		cursor := m.rrCursor[p] % len(ids)
		out = append(out, ids[cursor:]...)
		out = append(out, ids[:cursor]...)
		m.rrCursor[p] = (cursor + 1) % len(ids)
	}
	return out
}

// SetPriority sets id's send-side scheduling priority.
func (m *Manager) SetPriority(id ID, priority int) error {
	send, _, ok := m.Get(id)
	if !ok || send == nil {
		return ErrUnknownStream
	}
	send.SetPriority(priority)
	return nil
}

// Stop asks the peer to stop sending on id's receive half, queuing a
// STOP_SENDING frame.
func (m *Manager) Stop(id ID, errCode uint64) error {
	h, ok := m.streams[id]
	if !ok || h.recv == nil {
		return ErrUnknownStream
	}
	h.recv.Stop(errCode)
	return nil
}

// HandleStopSending routes a decoded STOP_SENDING frame to id's send half,
// which stops accepting writes and queues a RESET_STREAM acknowledging it.
func (m *Manager) HandleStopSending(id ID, errCode uint64) error {
	h, ok := m.streams[id]
	if !ok || h.send == nil {
		return ErrUnknownStream
	}
	h.send.Stop(errCode)
	return nil
}

// PendingMaxStreamData collects every stream whose receive window has
// crossed the re-advertisement threshold since the last poll.
func (m *Manager) PendingMaxStreamData() []MaxStreamDataUpdate {
	var out []MaxStreamDataUpdate
	for id, h := range m.streams {
		if h.recv == nil {
			continue
		}
		if max, ok := h.recv.PendingMaxData(); ok {
			out = append(out, MaxStreamDataUpdate{ID: id, Maximum: max})
		}
	}
	return out
}

// PendingStopSending collects every stream with a queued, not-yet-sent
// STOP_SENDING frame.
func (m *Manager) PendingStopSending() []StopSendingUpdate {
	var out []StopSendingUpdate
	for id, h := range m.streams {
		if h.recv == nil {
			continue
		}
		if code, ok := h.recv.PendingStop(); ok {
			out = append(out, StopSendingUpdate{ID: id, ErrorCode: code})
		}
	}
	return out
}

// PendingResets collects every stream with a queued, not-yet-sent
// RESET_STREAM frame (from a local Reset or an incoming STOP_SENDING).
func (m *Manager) PendingResets() []ResetUpdate {
	var out []ResetUpdate
	for id, h := range m.streams {
		if h.send == nil {
			continue
		}
		if code, size, ok := h.send.PendingReset(); ok {
			out = append(out, ResetUpdate{ID: id, ErrorCode: code, FinalSize: size})
		}
	}
	return out
}

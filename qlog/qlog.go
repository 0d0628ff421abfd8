// Package qlog archives connection.Event notifications to a compressed,
// newline-delimited JSON log, one file per connection. It plays the same
// role the teacher's zstd/saver.go pipeline plays for netlink snapshots:
// a channel feeds a small pool of worker goroutines, each owning one
// zstd-compressed output file that it rotates when it grows too old or too
// large. Where the teacher shells out to an external zstd process, this
// uses klauspost/compress/zstd in-process, since there is no longer a
// reason to pay a subprocess's pipe overhead for a pure-Go codec.
package qlog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/quicproto/qtransport/connection"
)

// Record is one archived connection event, timestamped and tagged with the
// connection it came from.
type Record struct {
	Time     time.Time            `json:"time" csv:"time"`
	ConnID   string               `json:"conn_id" csv:"conn_id"`
	Kind     connection.EventKind `json:"kind" csv:"kind"`
	StreamID uint64               `json:"stream_id,omitempty" csv:"stream_id,omitempty"`
	ErrCode  uint64               `json:"err_code,omitempty" csv:"err_code,omitempty"`
	Reason   string               `json:"reason,omitempty" csv:"reason,omitempty"`
	ByPeer   bool                 `json:"by_peer,omitempty" csv:"by_peer,omitempty"`
}

// Entry is one event submitted to an Archiver for a given connection.
type Entry struct {
	ConnID string
	Event  connection.Event
	At     time.Time
}

// RotatePolicy bounds how long and how large a single connection's output
// file grows before the Archiver starts a fresh one, mirroring the
// teacher's zstd.FileMapper.FileAgeLimit / file-size-cap pair.
type RotatePolicy struct {
	MaxAge        time.Duration
	MaxBytes      int64
}

// DefaultRotatePolicy matches the teacher's 60-minute cycling window.
func DefaultRotatePolicy() RotatePolicy {
	return RotatePolicy{MaxAge: 60 * time.Minute, MaxBytes: 64 << 20}
}

// Opener creates the next output file for a connection ID and rotation
// sequence number, returning a WriteCloser the Archiver compresses into.
// Tests supply an in-memory Opener; production code backs it with *os.File.
type Opener func(connID string, sequence int) (io.WriteCloser, error)

type perConn struct {
	ch       chan Record
	sequence int
	opened   time.Time
	written  int64
}

// Archiver fans Entry submissions out to one worker goroutine per
// connection, each of which writes newline-delimited JSON through a zstd
// encoder into the file its Opener provides, rotating per policy.
type Archiver struct {
	open   Opener
	policy RotatePolicy
	log    *logrus.Entry

	mu    sync.Mutex
	conns map[string]*perConn
	wg    sync.WaitGroup
}

// NewArchiver starts an Archiver. Call Close to drain and finish every
// per-connection worker.
func NewArchiver(open Opener, policy RotatePolicy) *Archiver {
	return &Archiver{
		open:   open,
		policy: policy,
		log:    logrus.WithField("component", "qlog"),
		conns:  make(map[string]*perConn),
	}
}

// Submit records one connection event, starting a worker for connID on
// first use.
func (a *Archiver) Submit(connID string, ev connection.Event, at time.Time) {
	a.mu.Lock()
	pc, ok := a.conns[connID]
	if !ok {
		pc = &perConn{ch: make(chan Record, 256)}
		a.conns[connID] = pc
		a.wg.Add(1)
		go a.run(connID, pc)
	}
	a.mu.Unlock()

	pc.ch <- toRecord(connID, ev, at)
}

// Close stops accepting new events for every connection and waits for all
// worker goroutines to flush and close their files.
func (a *Archiver) Close() {
	a.mu.Lock()
	for _, pc := range a.conns {
		close(pc.ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Archiver) run(connID string, pc *perConn) {
	defer a.wg.Done()

	w, enc, closeFn := a.openEncoder(connID, pc)
	if enc == nil {
		for range pc.ch {
			// drain without writing; the Opener already logged the failure
		}
		return
	}
	defer func() { closeFn() }()
	_ = w

	for rec := range pc.ch {
		if a.shouldRotate(pc) {
			closeFn()
			w, enc, closeFn = a.openEncoder(connID, pc)
			if enc == nil {
				continue
			}
		}
		line, err := json.Marshal(rec)
		if err != nil {
			a.log.WithError(err).Warn("marshal qlog record")
			continue
		}
		line = append(line, '\n')
		n, err := enc.Write(line)
		if err != nil {
			a.log.WithError(err).Warn("write qlog record")
			continue
		}
		pc.written += int64(n)
	}
}

func (a *Archiver) openEncoder(connID string, pc *perConn) (io.WriteCloser, *zstd.Encoder, func()) {
	w, err := a.open(connID, pc.sequence)
	if err != nil {
		a.log.WithError(err).WithField("conn", connID).Error("open qlog file")
		return nil, nil, func() {}
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		a.log.WithError(err).Error("new zstd encoder")
		w.Close()
		return nil, nil, func() {}
	}
	pc.sequence++
	pc.opened = time.Now()
	pc.written = 0
	return w, enc, func() {
		enc.Close()
		w.Close()
	}
}

func (a *Archiver) shouldRotate(pc *perConn) bool {
	if a.policy.MaxBytes > 0 && pc.written >= a.policy.MaxBytes {
		return true
	}
	if a.policy.MaxAge > 0 && time.Since(pc.opened) >= a.policy.MaxAge {
		return true
	}
	return false
}

func toRecord(connID string, ev connection.Event, at time.Time) Record {
	return Record{
		Time:     at,
		ConnID:   connID,
		Kind:     ev.Kind,
		StreamID: uint64(ev.StreamID),
		ErrCode:  ev.ErrCode,
		Reason:   ev.CloseReason,
		ByPeer:   ev.CloseByPeer,
	}
}

package qlog_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/quicproto/qtransport/connection"
	"github.com/quicproto/qtransport/qlog"
)

type memFile struct {
	*bytes.Buffer
}

func (memFile) Close() error { return nil }

func TestArchiverWritesCompressedRecords(t *testing.T) {
	var buf bytes.Buffer
	opener := func(connID string, sequence int) (io.WriteCloser, error) {
		return memFile{&buf}, nil
	}

	a := qlog.NewArchiver(opener, qlog.DefaultRotatePolicy())
	a.Submit("conn-1", connection.Event{Kind: connection.EventHandshakeComplete}, time.Now())
	a.Submit("conn-1", connection.Event{Kind: connection.EventConnectionClosed, ErrCode: 42, CloseReason: "done"}, time.Now())
	a.Close()

	dec, err := zstd.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(dec.IOReadCloser()); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"kind":0`)) {
		t.Fatalf("expected first record in archive, got %q", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte(`"err_code":42`)) {
		t.Fatalf("expected second record's err_code in archive, got %q", out.String())
	}
}

func TestArchiverRotatesOnMaxBytes(t *testing.T) {
	var opened int
	opener := func(connID string, sequence int) (io.WriteCloser, error) {
		opened++
		return memFile{&bytes.Buffer{}}, nil
	}

	a := qlog.NewArchiver(opener, qlog.RotatePolicy{MaxBytes: 1, MaxAge: time.Hour})
	for i := 0; i < 5; i++ {
		a.Submit("conn-2", connection.Event{Kind: connection.EventStreamReadable}, time.Now())
	}
	a.Close()

	if opened < 2 {
		t.Fatalf("expected MaxBytes=1 to force multiple file rotations, opened=%d", opened)
	}
}

package main

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/quicproto/qtransport/connection"
)

func TestMainTooManyArgs(t *testing.T) {
	defer func(args []string) {
		os.Args = args
		logFatal = log.Fatal
	}(os.Args)

	os.Args = []string{"test_connstats", "file1", "file2"}
	logFatal = func(...interface{}) {
		panic("panic instead of log.Fatal")
	}

	defer func() {
		if e := recover(); e == nil {
			t.Error("Should have panicked")
		}
	}()

	main()
}

func TestReadRecordsAndToCSV(t *testing.T) {
	input := strings.NewReader(
		`{"time":"2026-01-01T00:00:00Z","conn_id":"abc","kind":0}` + "\n" +
			`{"time":"2026-01-01T00:00:01Z","conn_id":"abc","kind":1,"stream_id":4}` + "\n",
	)

	records, err := readRecords(input)
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[1].Kind != connection.EventStreamReadable {
		t.Errorf("got kind %v, want EventStreamReadable", records[1].Kind)
	}

	buf := bytes.NewBuffer(nil)
	if err := toCSV(records, buf); err != nil {
		t.Fatalf("toCSV: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + 2 rows)", len(lines))
	}
	if !strings.Contains(lines[0], "conn_id") {
		t.Errorf("missing conn_id column in header: %q", lines[0])
	}
	if !strings.Contains(lines[2], "StreamReadable") {
		t.Errorf("expected event kind rendered by name, got: %q", lines[2])
	}
}

func TestReadRecordsSkipsBlankLines(t *testing.T) {
	input := strings.NewReader("\n" + `{"time":"2026-01-01T00:00:00Z","conn_id":"abc","kind":0}` + "\n\n")
	records, err := readRecords(input)
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

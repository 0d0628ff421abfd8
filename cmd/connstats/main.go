// Command connstats converts a qlog archive (the compressed, newline
// delimited JSON files qlog.Archiver writes, one per connection) into a
// CSV file on stdout. Ported from cmd/csvtool's file-to-CSV shape in the
// teacher repo, with netlink.ArchiveReader's binary framing swapped for
// qlog's own zstd+NDJSON format and snapshot.LoadAll swapped for a plain
// JSON line scan.
package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zstd"

	"github.com/quicproto/qtransport/qlog"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	// logFatal is a variable to allow mocking in tests.
	logFatal = log.Fatal
)

// readRecords scans newline-delimited JSON qlog.Record values from rdr.
func readRecords(rdr io.Reader) ([]*qlog.Record, error) {
	var out []*qlog.Record
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec := &qlog.Record{}
		if err := json.Unmarshal(line, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

func toCSV(records []*qlog.Record, wtr io.Writer) error {
	return gocsv.Marshal(records, wtr)
}

// openFile opens a plain file, or transparently decompresses one ending in
// .zst (the format qlog.Archiver writes).
func openFile(fn string) (io.ReadCloser, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fn, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

func main() {
	args := os.Args[1:]

	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = openFile(args[0])
		if err != nil {
			logFatal("Could not open file: ", err)
			return
		}
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
		return
	}
	defer source.Close()

	records, err := readRecords(source)
	if err != nil {
		logFatal("Could not read records: ", err)
		return
	}
	if err := toCSV(records, os.Stdout); err != nil {
		logFatal("Could not convert input to CSV: ", err)
		return
	}
}

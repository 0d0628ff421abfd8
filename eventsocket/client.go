package eventsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"strings"
	"time"

	"github.com/m-lab/go/rtx"
)

var (
	// Filename is a command-line flag holding the name of the unix-domain
	// socket that should be used by the client and server. It is put here in
	// an attempt to have just one standard flag name.
	Filename = flag.String("eventsocket", "", "The filename of the unix-domain socket on which connection events are served.")
)

// Handler is the interface that all interested monitors of the event
// socket should implement.
type Handler interface {
	Open(ctx context.Context, timestamp time.Time, connID string)
	Close(ctx context.Context, timestamp time.Time, connID string, errCode uint64, byPeer bool)
}

// MustRun will read from the passed-in socket filename until the context is
// cancelled. Any errors are fatal.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not connect to %q", socket)
	go func() {
		// Close the connection when the context is done. Closing the
		// underlying connection means that the scanner will soon terminate.
		<-ctx.Done()
		c.Close()
	}()

	// By default bufio.Scanner is based on newlines, which is perfect for our JSONL protocol.
	s := bufio.NewScanner(c)
	for s.Scan() {
		var n Notification
		rtx.Must(json.Unmarshal(s.Bytes(), &n), "Could not unmarshal")
		switch n.Event {
		case Open:
			handler.Open(ctx, n.Timestamp, n.ConnID)
		case Close:
			handler.Close(ctx, n.Timestamp, n.ConnID, n.ErrCode, n.ByPeer)
		default:
			log.Println("Unknown event type:", n.Event)
		}
	}

	// s.Err() is supposed to be nil under normal conditions. Scanner objects
	// hide the expected EOF error and return nil after they encounter it,
	// because EOF is the expected error. However, reading on a closed socket
	// doesn't give you an EOF error and the error it does give you is
	// unexported. The error it gives you should be treated the same as EOF,
	// because it corresponds to the connection terminating under normal
	// conditions. Because Scanner hides the EOF error, it should also hide the
	// unexported one. Because Scanner doesn't, we do so here. Other errors
	// should not be hidden.
	err = s.Err()
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}
	rtx.Must(err, "Scanning of %q died with non-EOF error", socket)
}

// example-eventsocket-client is a minimal reference implementation of an
// eventsocket client, watching connection open/close notifications from a
// running perfserver (or any other binary that wires eventsocket.Server
// in).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/quicproto/qtransport/eventsocket"
)

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

// event contains fields for an open event.
type event struct {
	timestamp time.Time
	connID    string
}

// handler implements the eventsocket.Handler interface.
type handler struct {
	events chan event
}

// Open is called synchronously, and blocks, for every connection open event.
func (h *handler) Open(ctx context.Context, timestamp time.Time, connID string) {
	log.Println("open ", connID, timestamp)
	h.events <- event{timestamp: timestamp, connID: connID}
}

// Close is called single-threaded and blocking for every connection close event.
func (h *handler) Close(ctx context.Context, timestamp time.Time, connID string, errCode uint64, byPeer bool) {
	log.Println("close", connID, timestamp, "err_code", errCode, "by_peer", byPeer)
}

// ProcessOpenEvents reads and processes events received by the open handler.
func (h *handler) ProcessOpenEvents(ctx context.Context) {
	for {
		select {
		case e := <-h.events:
			log.Println("processing", e)
		case <-ctx.Done():
			log.Println("shutdown")
			return
		}
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	defer mainCancel()

	if *eventsocket.Filename == "" {
		panic("-eventsocket path is required")
	}

	h := &handler{events: make(chan event)}

	// Process events received by the eventsocket handler. The goroutine will
	// block until an open event occurs.
	go h.ProcessOpenEvents(mainCtx)

	// Begin listening on the eventsocket for new events, and dispatch them to
	// the given handler.
	go eventsocket.MustRun(mainCtx, *eventsocket.Filename, h)

	<-mainCtx.Done()
	fmt.Println("ok")
}

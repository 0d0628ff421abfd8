package eventsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/m-lab/go/rtx"
)

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir, err := ioutil.TempDir("", "TestEventSocketServer")
	rtx.Must(err, "Could not create tempdir")
	defer os.RemoveAll(dir)

	srv := New(dir + "/connevents.sock").(*server)
	srv.Listen()
	go srv.Serve(ctx)
	log.Println("About to dial")
	c, err := net.Dial("unix", dir+"/connevents.sock")
	rtx.Must(err, "Could not open UNIX domain socket")

	// Busy wait until the server has registered the client
	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length > 0 {
			break
		}
	}

	// Send an event on the server, to cause the client to be notified by the server.
	srv.ConnectionClosed(time.Now(), "fakeid", 0, true)
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Error("Should have been able to scan until the next newline, but couldn't")
	}
	var n Notification
	rtx.Must(json.Unmarshal(r.Bytes(), &n), "Could not unmarshal")
	if n.Event != Close || n.ConnID != "fakeid" || !n.ByPeer {
		t.Error("Notification was supposed to be {Close, 'fakeid', byPeer}, not", n)
	}

	// Send another event on the server, to cause the client to be notified by the server.
	before := time.Now()
	srv.ConnectionOpened(time.Now(), "fakeid2")
	if !r.Scan() {
		t.Error("Should have been able to scan until the next newline, but couldn't")
	}
	rtx.Must(json.Unmarshal(r.Bytes(), &n), "Could not unmarshal")
	after := time.Now()
	if before.After(n.Timestamp) || after.Before(n.Timestamp) {
		t.Error("It should be true that", before, "<", n.Timestamp, "<", after)
	}
	n.Timestamp = time.Time{}
	if diff := deep.Equal(n, Notification{Open, time.Time{}, "fakeid2", 0, false}); diff != nil {
		t.Error("Notification differed from expected:", diff)
	}

	// Close down things on the client side. When the server next tries to send
	// something to the client, the client should get removed from the set of
	// active clients.
	c.Close()

	// Now verify some internal error handling:
	srv.eventC <- nil
	srv.removeClient(nil)
	// No SIGSEGV == success!

	// Send an event to ensure that cleanup should occur.
	srv.ConnectionClosed(time.Now(), "fakeid", 0, false)

	// Busy wait until the server has unregistered the client
	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length == 0 {
			break
		}
	}
	// Cancel the context to shutdown the server.
	cancel()
	// Wait for every component goroutine of the server to complete.
	srv.servingWG.Wait()
	// No timeout == success!
}

func TestConnEvent_String(t *testing.T) {
	tests := []struct {
		want string
		i    ConnEvent
	}{
		{"Open", Open},
		{"Close", Close},
		{"ConnEvent(3)", ConnEvent(3)},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.i.String(); got != tt.want {
				t.Errorf("ConnEvent.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNullServer(t *testing.T) {
	// Verify that the null server never crashes or returns a non-null error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NullServer()
	rtx.Must(srv.Listen(), "Could not listen")
	rtx.Must(srv.Serve(ctx), "Could not serve")
	srv.ConnectionOpened(time.Now(), "")
	srv.ConnectionClosed(time.Now(), "", 0, false)
	// No crash == success
}

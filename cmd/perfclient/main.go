// Command perfclient drives a single QUIC request/response benchmark
// against perfserver: open one stream, send an 8-byte response-size
// request, read the reply, report elapsed time and throughput. Ported
// from original_source/perf/src/bin/perf_server.rs's companion client
// shape (the uni/bi request loop; perf_client.rs itself was not part of
// the retrieved source, so the request size header and zero-payload
// response convention follow the server side's own wire contract).
package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quicproto/qtransport/config"
	"github.com/quicproto/qtransport/congestion"
	"github.com/quicproto/qtransport/connection"
	"github.com/quicproto/qtransport/endpoint"
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/stream"
	"github.com/quicproto/qtransport/wire"
)

var (
	serverAddr    string
	responseBytes int64
	uni           bool
	connStats     bool
)

func main() {
	root := &cobra.Command{
		Use:   "perfclient",
		Short: "QUIC sans-I/O benchmark client",
		RunE:  runClient,
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:4433", "perfserver address")
	root.Flags().Int64Var(&responseBytes, "response-size", 1<<20, "bytes to request in the response")
	root.Flags().BoolVar(&uni, "uni", false, "use a unidirectional request stream instead of bidirectional")
	root.Flags().BoolVar(&connStats, "conn-stats", false, "print connection statistics once the request completes")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("perfclient")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	remote, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return err
	}
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer sock.Close()

	log := logrus.WithField("component", "perfclient")

	tokenKey := make([]byte, 32)
	rand.Read(tokenKey)
	transport := config.NewTransport()
	epCfg, err := config.NewEndpoint().WithTokenKey(tokenKey)
	if err != nil {
		return err
	}
	ep := endpoint.New(false, epCfg, transport, wire.NewRandomGenerator(),
		func(isServer bool) qcrypto.Session {
			return qcrypto.NewDemoSession(!isServer, "perf", []byte("perfserver-demo-psk"))
		},
		congestion.CubicFactory{})

	dcid, err := wire.NewRandomGenerator().GenerateConnectionID()
	if err != nil {
		return err
	}
	_, conn, err := ep.Connect(dcid, remote.String(), time.Now())
	if err != nil {
		return err
	}

	established := false
	var reqID, respID stream.ID
	haveReq := false
	haveResp := false
	var respWant int64
	respGot := int64(0)
	started := time.Now()
	var firstByteAt time.Time

	buf := make([]byte, 65536)
	readBuf := make([]byte, 65536)

	for {
		now := time.Now()
		for {
			dg, ok := conn.PollTransmit(now)
			if !ok {
				break
			}
			dst := remote
			if to, rerr := net.ResolveUDPAddr("udp", dg.To); rerr == nil {
				dst = to
			}
			sock.WriteToUDP(dg.Data, dst)
		}
		if deadline, ok := conn.NextTimeout(); ok && !now.Before(deadline) {
			conn.HandleTimeout(now)
		}

		for {
			ev, ok := conn.PollEvent()
			if !ok {
				break
			}
			switch ev.Kind {
			case connection.EventHandshakeComplete:
				established = true
			case connection.EventStreamReadable:
				if haveReq && !haveResp && ev.StreamID != reqID {
					respID = ev.StreamID
					haveResp = true
				}
			}
		}

		if established && !haveReq {
			var err error
			if uni {
				reqID, err = conn.OpenUniStream()
			} else {
				reqID, err = conn.OpenBidiStream()
				respID = reqID
				haveResp = true
			}
			if err != nil {
				return err
			}
			haveReq = true
			var header [8]byte
			binary.BigEndian.PutUint64(header[:], uint64(responseBytes))
			if _, err := conn.WriteStream(reqID, header[:], true); err != nil {
				return err
			}
			respWant = responseBytes
			log.WithField("stream", reqID).Info("request sent")
		}

		if haveResp {
			for {
				n, err := conn.ReadStream(respID, readBuf)
				if n == 0 || err != nil {
					break
				}
				if respGot == 0 {
					firstByteAt = time.Now()
				}
				respGot += int64(n)
			}
			if respGot >= respWant && respWant > 0 {
				elapsed := time.Since(started)
				log.WithFields(logrus.Fields{
					"bytes": respGot, "elapsed": elapsed, "ttfb": firstByteAt.Sub(started),
					"throughput_mbps": float64(respGot) * 8 / elapsed.Seconds() / 1e6,
				}).Info("request complete")
				if connStats {
					s := conn.Stats()
					fmt.Printf("state=%s rtt=%s cwnd=%d in_flight=%d pto_count=%d\n",
						s.State, s.SmoothedRTT, s.CongestionWindow, s.BytesInFlight, s.PTOCount)
				}
				conn.Close(0, "done", now)
				haveResp = false
				respWant = 0
			}
		}

		if conn.State() == connection.StateDrained {
			return nil
		}

		sock.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, from, err := sock.ReadFromUDP(buf)
		if err == nil {
			conn.HandlePacket(append([]byte(nil), buf[:n]...), from.String(), time.Now())
		}
	}
}

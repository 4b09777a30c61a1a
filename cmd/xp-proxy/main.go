// Command xp-proxy is the broadcast reverse proxy (spec §6.4): it accepts
// clients on a local port, dials a single upstream gateway for each one, and
// relays bytes verbatim in both directions while logging every frame with a
// timestamp. No other logic.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

func main() {
	listenAddr := flag.String("addr", "0.0.0.0:10001", "local listen address")
	upstream := flag.String("upstream", "127.0.0.1:10002", "upstream gateway address")
	flag.Parse()

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("xp-proxy: listen %s: %v", *listenAddr, err)
	}
	defer ln.Close()
	log.Printf("xp-proxy: listening on %s, forwarding to %s", *listenAddr, *upstream)

	for {
		client, err := ln.Accept()
		if err != nil {
			log.Printf("xp-proxy: accept error: %v", err)
			continue
		}
		go handle(client, *upstream)
	}
}

func handle(client net.Conn, upstream string) {
	defer client.Close()

	server, err := net.Dial("tcp", upstream)
	if err != nil {
		log.Printf("xp-proxy: dial upstream %s: %v", upstream, err)
		return
	}
	defer server.Close()

	done := make(chan struct{}, 2)
	go relay(client, server, "[CLIENT→PROXY]", done)
	go relay(server, client, "[PROXY→SERVER]", done)
	<-done
	<-done
}

// relay copies bytes from src to dst verbatim, logging each chunk read with
// a timestamped, directional prefix. Framing is whatever happens to arrive
// in one Read — the proxy never buffers to frame boundaries, since its job
// is byte-for-byte pass-through, not telegram parsing.
func relay(src io.Reader, dst io.Writer, direction string, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			logFrame(direction, buf[:n])
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func logFrame(direction string, frame []byte) {
	ts := time.Now().Format("15:04:05.000")
	ts = ts[:8] + "," + ts[9:]
	fmt.Printf("%s %s %s\n", ts, direction, displayFrame(frame))
}

// displayFrame renders raw bytes for the log line without choking on
// non-printable bytes the wire protocol is free to carry.
func displayFrame(frame []byte) string {
	out := make([]byte, 0, len(frame))
	for _, b := range frame {
		if b >= 0x20 && b < 0x7f {
			out = append(out, b)
		} else {
			out = append(out, '.')
		}
	}
	return string(out)
}

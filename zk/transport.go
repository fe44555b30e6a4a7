package zk

import (
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"
)

// transport is the socket-level collaborator the session engine drives.
// The concrete TCP/TLS implementation is treated as an external
// collaborator by spec.md §1; this interface is what serve/handshake
// drive. connectOnce always dials through dialTCP, so tests replace the
// server on the other end of a real TCP connection (zk/zktest) rather
// than the transport itself.
type transport interface {
	// writeFrame writes one length-prefixed jute frame.
	writeFrame(payload []byte) error
	// readFrame reads and returns the next frame's payload.
	readFrame() ([]byte, error)
	// close closes the underlying connection.
	close() error
	// remoteAddr is used for logging and ConnectedServer()-style introspection.
	remoteAddr() string
}

// endpoint is one server address parsed from a connection string.
type endpoint struct {
	host string
	port string
}

func (e endpoint) String() string { return net.JoinHostPort(e.host, e.port) }

// parseConnString parses "host1:port1,host2:port2,.../chroot" (spec.md
// §6 "Connection string"). The chroot suffix, if present, is returned
// separately and is not itself an endpoint.
func parseConnString(conn string) (endpoints []endpoint, chroot string, err error) {
	rest := conn
	if idx := strings.Index(conn, "/"); idx >= 0 {
		rest = conn[:idx]
		chroot = conn[idx:]
	}
	if rest == "" {
		return nil, "", badArguments("connection string %q has no server addresses", conn)
	}
	for _, hp := range strings.Split(rest, ",") {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		host, port, err := net.SplitHostPort(hp)
		if err != nil {
			// Bare host, default ZooKeeper port.
			host, port = hp, "2181"
		}
		endpoints = append(endpoints, endpoint{host: host, port: port})
	}
	if len(endpoints) == 0 {
		return nil, "", badArguments("connection string %q has no server addresses", conn)
	}
	return endpoints, chroot, nil
}

// shuffled returns a copy of endpoints in random order (spec.md §4.5
// "Connect protocol": "iterating the configured endpoint list in
// shuffled round-robin").
func shuffled(endpoints []endpoint) []endpoint {
	out := make([]endpoint, len(endpoints))
	copy(out, endpoints)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// tcpTransport is the default transport: a plain or TLS-wrapped TCP
// connection framing jute records.
type tcpTransport struct {
	conn net.Conn
}

func dialTCP(ep endpoint, timeout time.Duration, tlsConfig *tls.Config) (*tcpTransport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", ep.String())
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) writeFrame(payload []byte) error {
	frame := encodeFrame(payload)
	_, err := t.conn.Write(frame)
	return err
}

func (t *tcpTransport) readFrame() ([]byte, error) {
	var lenBuf [frameLengthSize]byte
	if _, err := io.ReadFull(t.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int32(lenBuf[0])<<24 | int32(lenBuf[1])<<16 | int32(lenBuf[2])<<8 | int32(lenBuf[3])
	if n < 0 {
		return nil, fmt.Errorf("%w: negative frame length %d", ErrProtocolError, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(t.conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (t *tcpTransport) close() error { return t.conn.Close() }

func (t *tcpTransport) remoteAddr() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

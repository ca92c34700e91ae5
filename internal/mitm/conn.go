package mitm

import (
	"bufio"
	"net"
)

// peekedConn lets the accept loop inspect the first bytes of a connection
// via a buffered reader while still presenting the full net.Conn interface
// to everything downstream (TLS handshake, plain copy loops).
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekedConn(c net.Conn) *peekedConn {
	return &peekedConn{Conn: c, r: bufio.NewReader(c)}
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *peekedConn) peek(n int) ([]byte, error) { return p.r.Peek(n) }

package mitm

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Server fronts one sandbox's preview for a local browser: it accepts plain
// TCP connections on 127.0.0.1, classifies each as CONNECT, plaintext HTTP,
// or (after a CONNECT) a TLS ClientHello, and tunnels the resulting byte
// stream to the sandbox over a WebSocket opened against baseURL.
type Server struct {
	ca        *CA
	baseURL   string // daemon base as ws(s)://host[:port]; tunnelURL appends /sandboxes/{id}/proxy?port=N
	sandboxID string
	port      int

	ln net.Listener
}

func NewServer(ca *CA, baseURL, sandboxID string, port int) *Server {
	return &Server{ca: ca, baseURL: baseURL, sandboxID: sandboxID, port: port}
}

// Listen binds an ephemeral port on 127.0.0.1 and returns the bound port.
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("mitm: listening: %w", err)
	}
	s.ln = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	conn := newPeekedConn(raw)

	head, err := conn.peek(8)
	if err != nil {
		return
	}

	switch {
	case bytes.HasPrefix(head, []byte("CONNECT ")):
		s.handleConnect(ctx, conn)
	case isHTTPMethod(head):
		s.handlePlainHTTP(ctx, conn)
	default:
		log.Printf("mitm: unrecognized connection prefix %q", head)
	}
}

var httpMethods = []string{"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH "}

func isHTTPMethod(head []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(head, []byte(m)) {
			return true
		}
	}
	return false
}

// handleConnect drains the CONNECT request, responds 200, then peeks one
// more byte to tell a TLS ClientHello (0x16) from a plaintext tunnel.
func (s *Server) handleConnect(ctx context.Context, conn *peekedConn) {
	req, err := http.ReadRequest(conn.r)
	if err != nil {
		return
	}
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	firstByte, err := conn.peek(1)
	if err != nil {
		return
	}

	if firstByte[0] == 0x16 {
		tlsCfg, err := s.ca.tlsConfigFor(hostOnly)
		if err != nil {
			log.Printf("mitm: minting leaf for %s: %v", hostOnly, err)
			return
		}
		tlsConn := tls.Server(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			log.Printf("mitm: tls handshake for %s: %v", hostOnly, err)
			return
		}
		s.tunnel(ctx, tlsConn, nil)
		return
	}

	s.tunnel(ctx, conn, nil)
}

// handlePlainHTTP rewrites the absolute-form request line to origin-form
// and re-serializes it as the first bytes sent over the tunnel, since the
// sandbox-side proxy target only understands plain relative paths.
func (s *Server) handlePlainHTTP(ctx context.Context, conn *peekedConn) {
	req, err := http.ReadRequest(conn.r)
	if err != nil {
		return
	}

	req.Header.Del("Connection")
	req.Header.Del("Proxy-Connection")
	req.Header.Set("Connection", "close")

	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, path, req.Proto)
	req.Header.Write(&buf)
	buf.WriteString("\r\n")

	s.tunnel(ctx, conn, buf.Bytes())
}

// tunnel opens a WebSocket to the sandbox proxy endpoint and pumps bytes
// bidirectionally between conn and it. If firstBytes is set, it's sent as
// the first outbound binary frame before conn is read at all.
func (s *Server) tunnel(ctx context.Context, conn net.Conn, firstBytes []byte) {
	wsURL, err := s.tunnelURL()
	if err != nil {
		log.Printf("mitm: building tunnel url: %v", err)
		return
	}

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Printf("mitm: dialing sandbox tunnel: %v", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if len(firstBytes) > 0 {
		if err := ws.Write(ctx, websocket.MessageBinary, firstBytes); err != nil {
			return
		}
	}

	done := make(chan struct{}, 2)

	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if werr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		done <- struct{}{}
	}()

	go func() {
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				break
			}
			if _, werr := conn.Write(data); werr != nil {
				break
			}
		}
		done <- struct{}{}
	}()

	<-done
}

func (s *Server) tunnelURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/sandboxes/%s/proxy", s.sandboxID)
	q := u.Query()
	q.Set("port", fmt.Sprintf("%d", s.port))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

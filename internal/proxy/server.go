package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxPortAttempts = 50

// Server is the process-wide forward proxy: lazily started on first Ensure
// call, bound to the first free port in [start, start+maxPortAttempts).
type Server struct {
	registry *Registry

	startOnce sync.Once
	startErr  error
	port      int

	ln         net.Listener
	httpServer *http.Server
	upstream   *http.Client
}

func NewServer(registry *Registry) *Server {
	return &Server{
		registry: registry,
		upstream: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{},
			},
			// Forwarding must not itself follow redirects; the client sees
			// the upstream's raw response.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Ensure starts the listener on first call (racing callers share the
// result) and returns the bound port.
func (s *Server) Ensure(startPort int) (int, error) {
	s.startOnce.Do(func() {
		s.startErr = s.start(startPort)
	})
	return s.port, s.startErr
}

func (s *Server) start(startPort int) error {
	var ln net.Listener
	var err error
	for p := startPort; p < startPort+maxPortAttempts; p++ {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			s.port = p
			break
		}
		if !isAddrInUse(err) {
			return fmt.Errorf("proxy: binding port %d: %w", p, err)
		}
	}
	if ln == nil {
		return fmt.Errorf("proxy: no free port in [%d, %d)", startPort, startPort+maxPortAttempts)
	}
	s.ln = ln

	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handle)}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("proxy: serve error: %v", err)
		}
	}()
	return nil
}

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

func (s *Server) Port() int { return s.port }

func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	pctx, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodConnect {
		s.handleConnect(w, r, pctx)
		return
	}

	if isUpgrade(r) {
		s.handleUpgrade(w, r, pctx)
		return
	}

	s.handleHTTP(w, r, pctx)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*ProxyContext, bool) {
	header := r.Header.Get("Proxy-Authorization")
	user, pass, ok := parseBasicProxyAuth(header)
	if !ok {
		failAuth(w)
		return nil, false
	}
	pctx, found := s.registry.Lookup(user)
	if !found || pctx.Password != pass {
		failAuth(w)
		return nil, false
	}
	r.Header.Del("Proxy-Authorization")
	return pctx, true
}

func failAuth(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", `Basic realm="Cmux Preview Proxy"`)
	w.WriteHeader(http.StatusProxyAuthRequired)
}

func parseBasicProxyAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func isUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		r.Header.Get("Upgrade") != ""
}

// resolveTarget parses the request's destination and applies loopback
// rewriting when the caller's context has a route configured.
func resolveTarget(r *http.Request, pctx *ProxyContext) (Target, error) {
	t, err := ParseTarget(r)
	if err != nil {
		return Target{}, err
	}
	if pctx.Route != nil && IsLoopback(t.Host) {
		t = RewriteLoopback(t, pctx.Route, t.Port)
	}
	return t, nil
}

func stripHopHeaders(h http.Header) {
	h.Del("Proxy-Authorization")
	h.Del("Proxy-Connection")
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request, pctx *ProxyContext) {
	target, err := resolveTarget(r, pctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upstreamURL := fmt.Sprintf("%s://%s%s", target.Scheme, target.Authority(), r.URL.Path)
	if target.Query != "" {
		upstreamURL += "?" + target.Query
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	outReq.Header = r.Header.Clone()
	stripHopHeaders(outReq.Header)
	outReq.Host = target.Authority()

	resp, err := s.upstream.Do(outReq)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, pctx *ProxyContext) {
	target, err := resolveTarget(r, pctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upstreamConn, err := dialTarget(r.Context(), target)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	outReq := r.Clone(r.Context())
	stripHopHeaders(outReq.Header)
	outReq.Host = target.Authority()
	outReq.URL.Scheme = string(target.Scheme)
	outReq.URL.Host = target.Authority()

	if err := outReq.Write(upstreamConn); err != nil {
		upstreamConn.Close()
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}
	clientConn, rw, err := hj.Hijack()
	if err != nil {
		upstreamConn.Close()
		return
	}

	upstreamResp, err := http.ReadResponse(bufio.NewReader(upstreamConn), outReq)
	if err != nil || upstreamResp.StatusCode != http.StatusSwitchingProtocols {
		clientConn.Close()
		upstreamConn.Close()
		return
	}

	upstreamResp.Write(rw)
	rw.Flush()

	bridge(clientConn, upstreamConn)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, pctx *ProxyContext) {
	host, port := splitConnectAuthority(r.Host, r.RequestURI)
	target := Target{Scheme: SchemeHTTPS, Host: host, Port: port}
	if pctx.Route != nil && IsLoopback(host) {
		target = RewriteLoopback(target, pctx.Route, port)
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "CONNECT not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		return
	}

	d := &net.Dialer{Timeout: 10 * time.Second}
	upstreamConn, err := d.DialContext(r.Context(), "tcp", net.JoinHostPort(target.Host, strconv.Itoa(target.Port)))
	if err != nil {
		fmt.Fprintf(clientConn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientConn.Close()
		return
	}

	if r.ProtoAtLeast(1, 1) {
		fmt.Fprintf(clientConn, "HTTP/1.1 200 Connection Established\r\nConnection: keep-alive\r\n\r\n")
	} else {
		fmt.Fprintf(clientConn, "HTTP/1.0 200 Connection Established\r\n\r\n")
	}

	bridge(clientConn, upstreamConn)
}

func splitConnectAuthority(host, requestURI string) (string, int) {
	authority := host
	if authority == "" {
		authority = requestURI
	}
	h, p, err := net.SplitHostPort(authority)
	if err != nil {
		return authority, 443
	}
	port := 443
	fmt.Sscanf(p, "%d", &port)
	return h, port
}

func dialTarget(ctx context.Context, t Target) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	if err != nil {
		return nil, err
	}
	if t.Scheme == SchemeHTTPS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: t.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

// bridge copies bytes bidirectionally between a and b until either side
// closes, then shuts down both.
func bridge(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }()
	go func() { io.Copy(b, a); done <- struct{}{} }()
	<-done
	a.Close()
	b.Close()
	<-done
}

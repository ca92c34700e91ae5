// Package openurl implements the Unix-domain socket that lets
// processes running inside a sandbox ask the host to open a URL, bridging
// into the mux control plane's broadcast so any connected /mux client can
// act on it.
package openurl

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/cmux/cmuxd/internal/mux"
)

const DefaultSocketPath = "/var/run/cmux/open-url.sock"

// Broadcaster is the subset of mux.Hub the socket needs.
type Broadcaster interface {
	Broadcast(ev mux.HostEvent) (delivered int)
}

// Server listens on a Unix socket and forwards one-line URL requests to hub.
type Server struct {
	path string
	hub  Broadcaster
	ln   net.Listener
}

// New prepares (but does not start) a server listening at path. An empty
// path uses DefaultSocketPath.
func New(path string, hub Broadcaster) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{path: path, hub: hub}
}

// Listen creates the parent directory if needed, removes any stale socket
// file, and binds the listener with mode 0666.
func (s *Server) Listen() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("openurl: creating socket directory %s: %w", dir, err)
	}
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("openurl: listening on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0666); err != nil {
		ln.Close()
		return fmt.Errorf("openurl: chmod %s: %w", s.path, err)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until the listener is closed. Each connection
// is exactly one request: read one line, reply, close.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}
	url := strings.TrimSpace(line)

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		writeLine(conn, "ERROR: url must start with http:// or https://")
		return
	}

	delivered := s.hub.Broadcast(mux.HostEvent{Type: "open_url", URL: url})
	if delivered == 0 {
		writeLine(conn, "ERROR: no mux client connected to receive the request")
		return
	}
	writeLine(conn, "OK")
}

func writeLine(conn net.Conn, msg string) {
	if _, err := fmt.Fprintf(conn, "%s\n", msg); err != nil {
		log.Printf("openurl: writing response: %v", err)
	}
}

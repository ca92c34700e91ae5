package openurl

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmux/cmuxd/internal/mux"
)

type fakeBroadcaster struct {
	delivered int
	last      mux.HostEvent
}

func (f *fakeBroadcaster) Broadcast(ev mux.HostEvent) int {
	f.last = ev
	return f.delivered
}

func newTestSocket(t *testing.T, delivered int) (*Server, *fakeBroadcaster) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "open-url.sock")
	fb := &fakeBroadcaster{delivered: delivered}
	s := New(path, fb)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s, fb
}

func request(t *testing.T, path, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestServerDeliversValidURL(t *testing.T) {
	s, fb := newTestSocket(t, 1)
	reply := request(t, s.path, "http://127.0.0.1:3000/")
	if reply != "OK\n" {
		t.Fatalf("reply = %q, want OK", reply)
	}
	if fb.last.Type != "open_url" || fb.last.URL != "http://127.0.0.1:3000/" {
		t.Fatalf("unexpected broadcast: %+v", fb.last)
	}
}

func TestServerRejectsBadScheme(t *testing.T) {
	s, _ := newTestSocket(t, 1)
	reply := request(t, s.path, "ftp://example.com")
	if reply != "ERROR: url must start with http:// or https://\n" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestServerReportsNoSubscribers(t *testing.T) {
	s, _ := newTestSocket(t, 0)
	reply := request(t, s.path, "https://example.com")
	if reply != "ERROR: no mux client connected to receive the request\n" {
		t.Fatalf("reply = %q", reply)
	}
}

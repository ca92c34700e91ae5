package sandbox

import (
	"context"
	"fmt"
	"net"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/gorilla/websocket"
)

// Proxy opens a raw TCP tunnel to port inside the sandbox's network
// namespace (reachable directly at its sandbox IP, since the veth pair
// gives it a routable address from the host) and relays bytes
// bidirectionally as WebSocket binary frames.
func (m *Manager) Proxy(ctx context.Context, id string, port int, conn backend.WSConn) error {
	r, ok := m.lookup(id)
	if !ok {
		return errs.NotFound(id)
	}

	target := fmt.Sprintf("%s:%d", r.lease.Sandbox, port)
	tcp, err := (&net.Dialer{}).DialContext(ctx, "tcp", target)
	if err != nil {
		return errs.CommandFailed(err, "dialing sandbox %s port %d", id, port)
	}
	defer tcp.Close()

	done := make(chan struct{}, 2)

	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := tcp.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
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
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if _, err := tcp.Write(data); err != nil {
				break
			}
		}
		done <- struct{}{}
	}()

	<-done
	return nil
}

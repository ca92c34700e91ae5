// Package backend defines the polymorphic capability set the sandbox
// lifecycle engine dispatches to, and the request/response types shared by
// every implementation (local bubblewrap, remote PVE LXC, degraded stub).
package backend

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/cmux/cmuxd/internal/mux"
)

// WSConn is the minimal surface Attach and Proxy need from a WebSocket
// connection. *websocket.Conn (gorilla) satisfies it directly; the server
// layer wraps it in a transcoding shim when the negotiated subprotocol is
// base64 instead of binary, so backend implementations stay wire-format
// agnostic.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Status is the lifecycle state of a sandbox, observed lazily on list/get.
type Status string

const (
	StatusRunning Status = "Running"
	StatusExited  Status = "Exited"
	StatusFailed  Status = "Failed"
)

// Network describes the veth pair and IP lease wired for a sandbox.
type Network struct {
	HostInterface    string `json:"host_interface"`
	SandboxInterface string `json:"sandbox_interface"`
	HostIP           net.IP `json:"host_ip"`
	SandboxIP        net.IP `json:"sandbox_ip"`
	PrefixLen        int    `json:"cidr"`
}

// Summary is the external, JSON-serializable view of a sandbox.
type Summary struct {
	ID            string    `json:"id"`
	Index         uint64    `json:"index"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	Workspace     string    `json:"workspace"`
	Status        Status    `json:"status"`
	Network       Network   `json:"network"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Env           []string  `json:"env,omitempty"`
}

// CreateRequest is the JSON body of POST /sandboxes.
type CreateRequest struct {
	Name          string   `json:"name,omitempty"`
	Workspace     string   `json:"workspace,omitempty"`
	ReadOnlyPaths []string `json:"read_only_paths,omitempty"`
	Tmpfs         []string `json:"tmpfs,omitempty"`
	Env           []string `json:"env,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// ExecRequest is the JSON body of POST /sandboxes/{id}/exec.
type ExecRequest struct {
	Command    []string `json:"command"`
	Env        []string `json:"env,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
}

// ExecResponse is the result of a one-shot command.
type ExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// PruneRequest/PruneResponse drive orphan reconciliation.
type PruneRequest struct {
	KnownIDs []string `json:"known_ids,omitempty"`
}

type PruneResponse struct {
	Removed []string `json:"removed"`
}

// AwaitRequest/AwaitResponse poll for a sandbox's services to come up.
type AwaitRequest struct {
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

type AwaitResponse struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// AttachOptions configures an attach(2) call.
type AttachOptions struct {
	Cols    uint16
	Rows    uint16
	Command []string
	TTY     bool
}

// Backend is the capability set the sandbox lifecycle engine dispatches
// across local, remote, and degraded implementations.
type Backend interface {
	Create(ctx context.Context, req CreateRequest) (Summary, error)
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id string) (Summary, bool)
	Exec(ctx context.Context, id string, req ExecRequest) (ExecResponse, error)
	Attach(ctx context.Context, id string, conn WSConn, opts AttachOptions) error
	Proxy(ctx context.Context, id string, port int, conn WSConn) error
	UploadArchive(ctx context.Context, id string, body io.Reader) error
	Delete(ctx context.Context, id string) (Summary, bool, error)
	PruneOrphaned(ctx context.Context, req PruneRequest) (PruneResponse, error)
	AwaitServicesReady(ctx context.Context, id string, req AwaitRequest) (AwaitResponse, error)
	// MuxAttach bridges a /mux WebSocket (already adapted to net.Conn by the
	// caller) to hub: PTY channels opened by the client are spawned against
	// this backend, and host-originated events (open-URL broadcasts,
	// GitHub auth proxying) flow through hub.
	MuxAttach(ctx context.Context, conn net.Conn, hub *mux.Hub) error
}

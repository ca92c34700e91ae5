package sandbox

import (
	"context"
	"io"
	"net"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/mux"
)

// Degraded is the stub backend constructed when real backend init fails
// (4.D.3): every operation returns Internal, but the HTTP surface stays up.
type Degraded struct {
	Reason string
}

var _ backend.Backend = (*Degraded)(nil)

func (d *Degraded) unavailable(op string) error {
	return errs.Internal(nil, "%s unavailable: %s", op, d.Reason)
}

func (d *Degraded) Create(ctx context.Context, req backend.CreateRequest) (backend.Summary, error) {
	return backend.Summary{}, d.unavailable("create")
}
func (d *Degraded) List(ctx context.Context) ([]backend.Summary, error) {
	return nil, d.unavailable("list")
}
func (d *Degraded) Get(ctx context.Context, id string) (backend.Summary, bool) {
	return backend.Summary{}, false
}
func (d *Degraded) Exec(ctx context.Context, id string, req backend.ExecRequest) (backend.ExecResponse, error) {
	return backend.ExecResponse{}, d.unavailable("exec")
}
func (d *Degraded) Attach(ctx context.Context, id string, conn backend.WSConn, opts backend.AttachOptions) error {
	return d.unavailable("attach")
}
func (d *Degraded) Proxy(ctx context.Context, id string, port int, conn backend.WSConn) error {
	return d.unavailable("proxy")
}
func (d *Degraded) UploadArchive(ctx context.Context, id string, body io.Reader) error {
	return d.unavailable("upload_archive")
}
func (d *Degraded) Delete(ctx context.Context, id string) (backend.Summary, bool, error) {
	return backend.Summary{}, false, d.unavailable("delete")
}
func (d *Degraded) PruneOrphaned(ctx context.Context, req backend.PruneRequest) (backend.PruneResponse, error) {
	return backend.PruneResponse{}, d.unavailable("prune_orphaned")
}
func (d *Degraded) AwaitServicesReady(ctx context.Context, id string, req backend.AwaitRequest) (backend.AwaitResponse, error) {
	return backend.AwaitResponse{}, d.unavailable("await_services_ready")
}
func (d *Degraded) MuxAttach(ctx context.Context, conn net.Conn, hub *mux.Hub) error {
	return d.unavailable("mux_attach")
}

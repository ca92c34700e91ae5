package sandbox

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/ippool"
	"github.com/google/uuid"
)

// record is the Manager's internal bookkeeping for one sandbox; Summary()
// produces the JSON-serializable view handed across the Backend interface.
type record struct {
	mu sync.Mutex

	id            string
	index         uint64
	name          string
	createdAt     time.Time
	workspace     string
	correlationID string
	env           []string

	lease   ippool.Lease
	hostIf  string
	nsIf    string
	childPID int

	cmd      *exec.Cmd
	status   backend.Status
	reapDone chan struct{}
}

func newID() string {
	return uuid.NewString()
}

func (r *record) summary() backend.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return backend.Summary{
		ID:        r.id,
		Index:     r.index,
		Name:      r.name,
		CreatedAt: r.createdAt,
		Workspace: r.workspace,
		Status:    r.status,
		Network: backend.Network{
			HostInterface:    r.hostIf,
			SandboxInterface: r.nsIf,
			HostIP:           r.lease.Host,
			SandboxIP:        r.lease.Sandbox,
			PrefixLen:        r.lease.PrefixLen,
		},
		CorrelationID: r.correlationID,
		Env:           r.env,
	}
}

func (r *record) setStatus(s backend.Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// observeStatus checks liveness of the supervised child and updates status
// lazily, matching the "status reflects liveness at observation time"
// invariant.
func (r *record) observeStatus() backend.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != backend.StatusRunning {
		return r.status
	}
	if r.cmd == nil || r.cmd.Process == nil {
		return r.status
	}
	// Signal(0) probes liveness without affecting the process.
	if err := r.cmd.Process.Signal(syscall.Signal(0)); err != nil {
		r.status = backend.StatusFailed
	}
	return r.status
}

package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/ippool"
)

var _ backend.Backend = (*Manager)(nil)

// Manager is the local bubblewrap/nsenter/veth backend.
type Manager struct {
	cfg  Config
	pool *ippool.Pool

	mu        sync.Mutex
	sandboxes map[string]*record
	nextIndex atomic.Uint64
}

// NewManager validates that bwrap/ip/nsenter are on PATH, builds the IP
// pool, and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckBinaries(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, errs.Internal(err, "creating workspace root %s", cfg.WorkspaceRoot)
	}
	pool, err := ippool.New(cfg.PoolCIDR, cfg.BlockPrefix, 0)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		pool:      pool,
		sandboxes: make(map[string]*record),
	}, nil
}

func (m *Manager) Create(ctx context.Context, req backend.CreateRequest) (backend.Summary, error) {
	lease, err := m.pool.Allocate()
	if err != nil {
		return backend.Summary{}, err
	}

	id := newID()
	index := m.nextIndex.Add(1)
	name := req.Name
	if name == "" {
		name = "sandbox-" + shortID(id)
	}
	hostIf, nsIf := ifaceNames(id)

	workspace, err := m.resolveWorkspace(req.Workspace, id)
	if err != nil {
		m.pool.Release(lease)
		return backend.Summary{}, err
	}

	env := append([]string{}, req.Env...)
	env = append(env, fmt.Sprintf("CMUX_SANDBOX_URL=http://%s:%d", lease.Host, m.cfg.DaemonPort))

	readOnlyPaths := append(append([]string{}, m.cfg.ReadOnlyPaths...), req.ReadOnlyPaths...)
	tmpfs := append(append([]string{}, m.cfg.Tmpfs...), req.Tmpfs...)
	args := buildBwrapArgs(m.cfg, workspace, index, readOnlyPaths, tmpfs, env)

	cmd, pid, err := spawnBwrap(m.cfg, args, append(os.Environ(), env...))
	if err != nil {
		m.pool.Release(lease)
		return backend.Summary{}, err
	}

	if err := wireNetwork(m.cfg, pid, lease, hostIf, nsIf); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		m.pool.Release(lease)
		return backend.Summary{}, err
	}

	rec := &record{
		id:            id,
		index:         index,
		name:          name,
		createdAt:     time.Now(),
		workspace:     workspace,
		correlationID: req.CorrelationID,
		env:           req.Env,
		lease:         lease,
		hostIf:        hostIf,
		nsIf:          nsIf,
		childPID:      pid,
		cmd:           cmd,
		status:        backend.StatusRunning,
		reapDone:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sandboxes[id] = rec
	m.mu.Unlock()

	go m.reap(rec)

	return rec.summary(), nil
}

// reap owns the one and only cmd.Wait() call for rec.cmd: it waits for the
// child, records its terminal status so List/Get observe it lazily without
// polling, and closes reapDone so Delete can wait for reaping to finish
// instead of calling Wait() itself.
func (m *Manager) reap(rec *record) {
	defer close(rec.reapDone)
	err := rec.cmd.Wait()
	if err != nil {
		rec.setStatus(backend.StatusFailed)
	} else {
		rec.setStatus(backend.StatusExited)
	}
}

func (m *Manager) resolveWorkspace(requested, id string) (string, error) {
	if requested == "" {
		path := filepath.Join(m.cfg.WorkspaceRoot, id, "workspace")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", errs.Internal(err, "creating workspace %s", path)
		}
		return path, nil
	}
	if filepath.IsAbs(requested) {
		return requested, nil
	}
	return filepath.Join(m.cfg.WorkspaceRoot, requested), nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m *Manager) List(ctx context.Context) ([]backend.Summary, error) {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.sandboxes))
	for _, r := range m.sandboxes {
		recs = append(recs, r)
	}
	m.mu.Unlock()

	out := make([]backend.Summary, 0, len(recs))
	for _, r := range recs {
		r.observeStatus()
		out = append(out, r.summary())
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id string) (backend.Summary, bool) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.Summary{}, false
	}
	r.observeStatus()
	return r.summary(), true
}

func (m *Manager) lookup(id string) (*record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sandboxes[id]
	return r, ok
}

func (m *Manager) Delete(ctx context.Context, id string) (backend.Summary, bool, error) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.Summary{}, false, nil
	}

	m.mu.Lock()
	delete(m.sandboxes, id)
	m.mu.Unlock()

	m.pool.Release(r.lease)
	teardownNetwork(m.cfg, r.hostIf)

	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.Signal(0)); err == nil {
			if err := killProcessGroup(cmd.Process.Pid); err != nil {
				cmd.Process.Kill()
			}
			<-r.reapDone
		}
	}

	if underWorkspaceRoot(m.cfg.WorkspaceRoot, r.workspace) {
		if err := os.RemoveAll(filepath.Dir(r.workspace)); err != nil {
			log.Printf("sandbox: removing workspace for %s: %v", id, err)
		}
	}

	return r.summary(), true, nil
}

func underWorkspaceRoot(root, workspace string) bool {
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, workspace)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) PruneOrphaned(ctx context.Context, req backend.PruneRequest) (backend.PruneResponse, error) {
	known := make(map[string]bool, len(req.KnownIDs))
	for _, id := range req.KnownIDs {
		known[id] = true
	}

	m.mu.Lock()
	var toRemove []string
	for id, r := range m.sandboxes {
		r.observeStatus()
		if r.status != backend.StatusRunning && !known[id] {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.Unlock()

	removed := make([]string, 0, len(toRemove))
	for _, id := range toRemove {
		if _, ok, err := m.Delete(ctx, id); err == nil && ok {
			removed = append(removed, id)
		}
	}
	return backend.PruneResponse{Removed: removed}, nil
}

func (m *Manager) AwaitServicesReady(ctx context.Context, id string, req backend.AwaitRequest) (backend.AwaitResponse, error) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.AwaitResponse{}, errs.NotFound(id)
	}

	timeout := 5 * time.Second
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if r.observeStatus() == backend.StatusRunning {
			return backend.AwaitResponse{Ready: true}, nil
		}
		if time.Now().After(deadline) {
			return backend.AwaitResponse{Ready: false, Message: "timed out waiting for sandbox to come up"}, nil
		}
		select {
		case <-ctx.Done():
			return backend.AwaitResponse{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

package pve

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/ippool"
	"github.com/cmux/cmuxd/internal/mux"
	"github.com/gorilla/websocket"
)

const lxcBridgeName = "eth0"

// Manager implements backend.Backend against a remote Proxmox VE node,
// cloning LXC containers from a template instead of spawning a local
// bubblewrap sandbox (4.D.2).
type Manager struct {
	cfg Config
	cli *client

	pool *ippool.Pool

	mu        sync.RWMutex
	sandboxes map[string]*record
	nextIndex atomic.Uint64
}

var _ backend.Backend = (*Manager)(nil)

// NewManager connects to the configured PVE node, auto-detects node,
// storage, and gateway where unset, and reserves the IPs already in use by
// existing containers before serving any requests.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cli := newClient(cfg)

	resources, err := cli.clusterResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("pve: listing cluster resources: %w", err)
	}

	if cfg.Node == "" {
		cfg.Node = detectNode(resources)
		if cfg.Node == "" {
			return nil, errs.InvalidRequest("PVE_NODE not set and no node found in cluster resources")
		}
	}
	if cfg.Storage == "" {
		cfg.Storage = detectStorage(resources, cfg.Node)
		if cfg.Storage == "" {
			return nil, errs.InvalidRequest("PVE_STORAGE not set and no storage found on node %s", cfg.Node)
		}
	}
	if cfg.PoolCIDR == "" {
		return nil, errs.InvalidRequest("PVE_IP_POOL_CIDR is required")
	}

	pool, err := ippool.New(cfg.PoolCIDR, 30, 1)
	if err != nil {
		return nil, fmt.Errorf("pve: building ip pool: %w", err)
	}
	if cfg.Gateway == "" {
		if _, ipnet, perr := net.ParseCIDR(cfg.PoolCIDR); perr == nil {
			gw := make(net.IP, len(ipnet.IP))
			copy(gw, ipnet.IP)
			gw[len(gw)-1] |= 1
			cfg.Gateway = gw.String()
			pool.Reserve(gw)
		}
	} else if gwIP := net.ParseIP(cfg.Gateway); gwIP != nil {
		pool.Reserve(gwIP)
	}

	m := &Manager{cfg: cfg, cli: cli, pool: pool, sandboxes: make(map[string]*record)}

	if err := m.reserveExisting(ctx, resources); err != nil {
		return nil, fmt.Errorf("pve: reserving existing container IPs: %w", err)
	}

	return m, nil
}

func detectNode(resources []clusterResource) string {
	for _, r := range resources {
		if r.Type == "node" {
			return r.Node
		}
	}
	return ""
}

func detectStorage(resources []clusterResource, node string) string {
	for _, r := range resources {
		if r.Type == "storage" && r.Node == node {
			return r.Storage
		}
	}
	return ""
}

// reserveExisting scans every lxc container on the node and marks its
// current IP allocated, so a fresh daemon restart doesn't hand out an
// address already in use by a container it doesn't yet know about.
func (m *Manager) reserveExisting(ctx context.Context, resources []clusterResource) error {
	for _, r := range resources {
		if r.Type != "lxc" || r.Node != m.cfg.Node {
			continue
		}
		cfg, err := m.cli.lxcConfig(ctx, r.Node, r.VMID)
		if err != nil {
			continue
		}
		if ip := parseNetIP(cfg.Net0); ip != nil {
			m.pool.Reserve(ip)
		}
	}
	return nil
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
		name = fmt.Sprintf("sandbox-%d", index)
	}

	vmid, err := m.cloneTemplate(ctx, id, lease)
	if err != nil {
		m.pool.Release(lease)
		return backend.Summary{}, err
	}

	if err := m.startContainer(ctx, vmid); err != nil {
		m.destroyContainer(context.Background(), vmid)
		m.pool.Release(lease)
		return backend.Summary{}, err
	}

	rec := &record{
		id:            id,
		index:         index,
		name:          name,
		createdAt:     time.Now(),
		workspace:     "/workspace",
		correlationID: req.CorrelationID,
		env:           req.Env,
		vmid:          vmid,
		node:          m.cfg.Node,
		lease:         lease,
		status:        backend.StatusRunning,
	}

	m.mu.Lock()
	m.sandboxes[id] = rec
	m.mu.Unlock()

	return rec.summary(), nil
}

func (m *Manager) cloneTemplate(ctx context.Context, id string, lease ippool.Lease) (int, error) {
	vmid, err := m.nextVMID(ctx)
	if err != nil {
		return 0, err
	}

	form := url.Values{}
	form.Set("newid", fmt.Sprintf("%d", vmid))
	form.Set("hostname", fmt.Sprintf("cmux-%s", id[:8]))
	form.Set("full", "1")
	form.Set("storage", m.cfg.Storage)

	raw, err := m.cli.post(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/clone", m.cfg.Node, m.cfg.TemplateVMID), form)
	if err != nil {
		return 0, err
	}
	taskID, err := parseUPID(raw)
	if err != nil {
		return 0, err
	}
	if err := m.cli.awaitTask(ctx, m.cfg.Node, taskID); err != nil {
		return 0, err
	}

	netCfg := fmt.Sprintf("name=%s,bridge=%s,ip=%s/%d,gw=%s",
		lxcBridgeName, m.cfg.Bridge, lease.Sandbox.String(), lease.PrefixLen, m.cfg.Gateway)
	cfgForm := url.Values{}
	cfgForm.Set("net0", netCfg)
	if _, err := m.cli.post(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/config", m.cfg.Node, vmid), cfgForm); err != nil {
		return 0, err
	}

	return vmid, nil
}

func (m *Manager) nextVMID(ctx context.Context) (int, error) {
	raw, err := m.cli.get(ctx, "/cluster/nextid", nil)
	if err != nil {
		return 0, err
	}
	vmid, ok := parseVMID(trimQuotes(raw))
	if !ok {
		return 0, errs.Internal(nil, "pve returned non-numeric next vmid")
	}
	return vmid, nil
}

func trimQuotes(raw []byte) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func (m *Manager) startContainer(ctx context.Context, vmid int) error {
	raw, err := m.cli.post(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/start", m.cfg.Node, vmid), url.Values{})
	if err != nil {
		return err
	}
	taskID, err := parseUPID(raw)
	if err != nil {
		return err
	}
	return m.cli.awaitTask(ctx, m.cfg.Node, taskID)
}

func (m *Manager) stopContainer(ctx context.Context, vmid int) error {
	raw, err := m.cli.post(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/stop", m.cfg.Node, vmid), url.Values{})
	if err != nil {
		return err
	}
	taskID, err := parseUPID(raw)
	if err != nil {
		return err
	}
	return m.cli.awaitTask(ctx, m.cfg.Node, taskID)
}

func (m *Manager) destroyContainer(ctx context.Context, vmid int) error {
	m.stopContainer(ctx, vmid)
	raw, err := m.cli.delete(ctx, fmt.Sprintf("/nodes/%s/lxc/%d", m.cfg.Node, vmid))
	if err != nil {
		return err
	}
	taskID, err := parseUPID(raw)
	if err != nil {
		return err
	}
	return m.cli.awaitTask(ctx, m.cfg.Node, taskID)
}

func (m *Manager) lookup(id string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sandboxes[id]
	return r, ok
}

func (m *Manager) List(ctx context.Context) ([]backend.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]backend.Summary, 0, len(m.sandboxes))
	for _, r := range m.sandboxes {
		out = append(out, r.summary())
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id string) (backend.Summary, bool) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.Summary{}, false
	}
	return r.summary(), true
}

func (m *Manager) Delete(ctx context.Context, id string) (backend.Summary, bool, error) {
	m.mu.Lock()
	r, ok := m.sandboxes[id]
	if ok {
		delete(m.sandboxes, id)
	}
	m.mu.Unlock()
	if !ok {
		return backend.Summary{}, false, nil
	}

	if err := m.destroyContainer(ctx, r.vmid); err != nil {
		r.setStatus(backend.StatusFailed)
		m.pool.Release(r.lease)
		return r.summary(), true, err
	}
	r.setStatus(backend.StatusExited)
	m.pool.Release(r.lease)
	return r.summary(), true, nil
}

func (m *Manager) PruneOrphaned(ctx context.Context, req backend.PruneRequest) (backend.PruneResponse, error) {
	known := make(map[string]struct{}, len(req.KnownIDs))
	for _, id := range req.KnownIDs {
		known[id] = struct{}{}
	}

	var removed []string
	m.mu.RLock()
	var stale []string
	for id, r := range m.sandboxes {
		if _, ok := known[id]; !ok && r.status != backend.StatusRunning {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if _, ok, err := m.Delete(ctx, id); ok && err == nil {
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
		status, err := m.containerStatus(ctx, r.vmid)
		if err == nil && status == "running" {
			return backend.AwaitResponse{Ready: true}, nil
		}
		if time.Now().After(deadline) {
			return backend.AwaitResponse{Ready: false, Message: "timed out waiting for container to report running"}, nil
		}
		select {
		case <-ctx.Done():
			return backend.AwaitResponse{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

type containerStatusResp struct {
	Status string `json:"status"`
}

func (m *Manager) containerStatus(ctx context.Context, vmid int) (string, error) {
	raw, err := m.cli.get(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/current", m.cfg.Node, vmid), nil)
	if err != nil {
		return "", err
	}
	var st containerStatusResp
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", errs.Internal(err, "parsing pve container status")
	}
	return st.Status, nil
}

// Attach and MuxAttach are reserved but not implemented for the PVE
// backend: interactive PTY sessions require a transport into the container
// network namespace that this backend doesn't yet provide.
func (m *Manager) Attach(ctx context.Context, id string, conn backend.WSConn, opts backend.AttachOptions) error {
	return errs.Internal(nil, "attach unavailable: not implemented for the PVE backend")
}

func (m *Manager) MuxAttach(ctx context.Context, conn net.Conn, hub *mux.Hub) error {
	return errs.Internal(nil, "mux_attach unavailable: not implemented for the PVE backend")
}

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
			n, rerr := tcp.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					break
				}
			}
			if rerr != nil {
				break
			}
		}
		done <- struct{}{}
	}()
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				break
			}
			if _, werr := tcp.Write(data); werr != nil {
				break
			}
		}
		done <- struct{}{}
	}()
	<-done
	return nil
}

package pve

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/ippool"
	"github.com/google/uuid"
)

type record struct {
	mu sync.Mutex

	id            string
	index         uint64
	name          string
	createdAt     time.Time
	workspace     string
	correlationID string
	env           []string

	vmid   int
	node   string
	lease  ippool.Lease
	status backend.Status
}

func newID() string { return uuid.NewString() }

func (r *record) summary() backend.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return backend.Summary{
		ID:            r.id,
		Index:         r.index,
		Name:          r.name,
		CreatedAt:     r.createdAt,
		Workspace:     r.workspace,
		Status:        r.status,
		CorrelationID: r.correlationID,
		Env:           append([]string(nil), r.env...),
		Network: backend.Network{
			HostInterface:    "",
			SandboxInterface: "",
			HostIP:           r.lease.Host,
			SandboxIP:        r.lease.Sandbox,
			PrefixLen:        r.lease.PrefixLen,
		},
	}
}

func (r *record) setStatus(s backend.Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// parseNetIP extracts the ip=a.b.c.d/nn field out of a Proxmox net0-style
// config string such as "name=eth0,bridge=vmbr0,ip=10.0.3.5/30,gw=10.0.3.1".
func parseNetIP(net0 string) net.IP {
	for _, field := range strings.Split(net0, ",") {
		if !strings.HasPrefix(field, "ip=") {
			continue
		}
		cidr := strings.TrimPrefix(field, "ip=")
		host, _, err := net.ParseCIDR(cidr)
		if err == nil {
			return host
		}
		if ip := net.ParseIP(strings.SplitN(cidr, "/", 2)[0]); ip != nil {
			return ip
		}
	}
	return nil
}

func parseVMID(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

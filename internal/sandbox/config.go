// Package sandbox implements the local isolation backend: it spawns
// bubblewrap sandboxes, wires veth networking via ip/nsenter, and bridges
// PTY attach sessions and raw TCP proxy tunnels into them.
package sandbox

import (
	"os"
	"os/exec"
	"strconv"

	"github.com/cmux/cmuxd/internal/errs"
	units "github.com/docker/go-units"
)

// Config configures the local backend.
type Config struct {
	WorkspaceRoot string   // daemon-owned root; auto-created workspaces live here
	PoolCIDR      string   // base CIDR the IP pool carves /30 blocks from
	BlockPrefix   int      // bits per allocated block, default 30
	DaemonPort    int      // injected into CMUX_SANDBOX_URL
	ReadOnlyPaths []string // additional --ro-bind paths applied to every sandbox
	Tmpfs         []string // additional --tmpfs paths applied to every sandbox

	TmpfsSizeBytes int64 // remount size cap for /tmp, /var, /run; 0 means no cap

	BwrapPath   string
	IPPath      string
	NsenterPath string
}

// DefaultConfig reads CMUX_* environment variables, matching the daemon's
// env-driven configuration convention.
func DefaultConfig() Config {
	return Config{
		WorkspaceRoot:  envOrDefault("CMUX_WORKSPACE_ROOT", "/var/lib/cmux/workspaces"),
		PoolCIDR:       envOrDefault("CMUX_POOL_CIDR", "10.42.0.0/16"),
		BlockPrefix:    envIntOrDefault("CMUX_POOL_BLOCK_PREFIX", 30),
		DaemonPort:     envIntOrDefault("CMUX_SANDBOX_PORT", 39375),
		TmpfsSizeBytes: envSizeOrDefault("CMUX_TMPFS_SIZE", 0),
		BwrapPath:      envOrDefault("CMUX_BWRAP_PATH", "bwrap"),
		IPPath:         envOrDefault("CMUX_IP_PATH", "ip"),
		NsenterPath:    envOrDefault("CMUX_NSENTER_PATH", "nsenter"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envSizeOrDefault parses a human-readable size ("512m", "2g") using the
// same notation docker flags accept.
func envSizeOrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return def
	}
	return n
}

// CheckBinaries verifies bwrap, ip, nsenter are resolvable on PATH,
// returning MissingBinary(name) for the first one that is not.
func (c Config) CheckBinaries() error {
	for _, name := range []string{c.BwrapPath, c.IPPath, c.NsenterPath} {
		if _, err := exec.LookPath(name); err != nil {
			return errs.MissingBinary("%s not found on PATH", name)
		}
	}
	return nil
}

// Package pve implements the alternative sandbox lifecycle backend (4.D.2)
// that provisions LXC containers on a remote Proxmox VE node instead of
// spawning a local bwrap sandbox.
package pve

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cmux/cmuxd/internal/errs"
)

// Config holds the PVE connection and provisioning parameters. Node,
// Storage, and Gateway may be left empty and are auto-detected from
// cluster resources at Manager construction time.
type Config struct {
	APIURL       string
	TokenID      string
	TokenSecret  string
	Node         string
	TemplateVMID int
	Storage      string
	Bridge       string
	PoolCIDR     string
	Gateway      string
	VerifyTLS    bool
}

// LoadConfig builds a Config from the environment, returning InvalidRequest
// if the required API URL or token is missing.
func LoadConfig() (Config, error) {
	cfg := Config{
		APIURL:   strings.TrimRight(os.Getenv("PVE_API_URL"), "/"),
		Node:     os.Getenv("PVE_NODE"),
		Storage:  os.Getenv("PVE_STORAGE"),
		Bridge:   envOrDefault("PVE_BRIDGE", "vmbr0"),
		PoolCIDR: os.Getenv("PVE_IP_POOL_CIDR"),
		Gateway:  os.Getenv("PVE_GATEWAY"),
	}
	if cfg.APIURL == "" {
		return Config{}, errs.InvalidRequest("PVE_API_URL is required")
	}

	rawToken := os.Getenv("PVE_API_TOKEN")
	if rawToken == "" {
		return Config{}, errs.InvalidRequest("PVE_API_TOKEN is required")
	}
	id, secret, err := parseToken(rawToken)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenID = id
	cfg.TokenSecret = secret

	if v := os.Getenv("PVE_TEMPLATE_VMID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errs.InvalidRequest("PVE_TEMPLATE_VMID must be an integer: %v", err)
		}
		cfg.TemplateVMID = n
	}

	cfg.VerifyTLS = true
	if v := os.Getenv("PVE_VERIFY_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errs.InvalidRequest("PVE_VERIFY_TLS must be a boolean: %v", err)
		}
		cfg.VerifyTLS = b
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseToken splits a "USER@REALM!ID=SECRET" API token into its id and
// secret halves, as accepted by Proxmox's Authorization header.
func parseToken(raw string) (id, secret string, err error) {
	idx := strings.LastIndex(raw, "=")
	if idx < 0 {
		return "", "", errs.InvalidRequest("malformed PVE_API_TOKEN: missing '='")
	}
	id = raw[:idx]
	secret = raw[idx+1:]
	if id == "" || secret == "" {
		return "", "", errs.InvalidRequest("malformed PVE_API_TOKEN: empty id or secret")
	}
	if !strings.Contains(id, "@") || !strings.Contains(id, "!") {
		return "", "", fmt.Errorf("pve: token id %q does not look like USER@REALM!ID", id)
	}
	return id, secret, nil
}

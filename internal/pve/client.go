package pve

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cmux/cmuxd/internal/errs"
)

// client wraps the Proxmox VE REST API with token auth and UPID task
// polling. Every write endpoint on PVE returns a task id immediately and
// the caller is expected to poll until it finishes.
type client struct {
	cfg Config
	hc  *http.Client
}

func newClient(cfg Config) *client {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}
	return &client{cfg: cfg, hc: &http.Client{Transport: tr, Timeout: 30 * time.Second}}
}

func (c *client) authHeader() string {
	return fmt.Sprintf("PVEAPIToken=%s=%s", c.cfg.TokenID, c.cfg.TokenSecret)
}

// apiResult is the {"data": ...} envelope every Proxmox endpoint returns.
type apiResult struct {
	Data json.RawMessage `json:"data"`
}

func (c *client) do(ctx context.Context, method, path string, form url.Values) (json.RawMessage, error) {
	endpoint := c.cfg.APIURL + path
	var body io.Reader
	if form != nil && (method == http.MethodPost || method == http.MethodPut) {
		body = strings.NewReader(form.Encode())
	} else if form != nil {
		endpoint += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errs.Internal(err, "building pve request")
	}
	req.Header.Set("Authorization", c.authHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errs.CommandFailed(err, "pve request %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Internal(err, "reading pve response body")
	}
	if resp.StatusCode >= 300 {
		return nil, errs.CommandFailed(fmt.Errorf("status %d", resp.StatusCode), "pve %s %s: %s", method, path, strings.TrimSpace(string(raw)))
	}

	var result apiResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errs.Internal(err, "decoding pve response from %s", path)
	}
	return result.Data, nil
}

func (c *client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, query)
}

func (c *client) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, form)
}

func (c *client) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// upid identifies a long-running Proxmox task, returned as a bare JSON
// string from write endpoints.
type upid string

func parseUPID(raw json.RawMessage) (upid, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.Internal(err, "parsing pve task id")
	}
	return upid(s), nil
}

type taskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

// awaitTask polls a task's status until it reaches "stopped" and returns an
// error unless the exit status is exactly "OK".
func (c *client) awaitTask(ctx context.Context, node string, id upid) error {
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", node, url.PathEscape(string(id)))
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		raw, err := c.get(ctx, path, nil)
		if err != nil {
			return err
		}
		var st taskStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return errs.Internal(err, "parsing pve task status")
		}
		if st.Status == "stopped" {
			if st.ExitStatus != "OK" {
				return errs.CommandFailed(fmt.Errorf("exitstatus %s", st.ExitStatus), "pve task %s failed", id)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// clusterResource is one row of /cluster/resources, used to auto-detect a
// node, a storage pool, and in-use sandbox IPs when they aren't configured.
type clusterResource struct {
	Type    string `json:"type"`
	Node    string `json:"node"`
	Storage string `json:"storage"`
	VMID    int    `json:"vmid"`
	Content string `json:"content"`
}

func (c *client) clusterResources(ctx context.Context) ([]clusterResource, error) {
	raw, err := c.get(ctx, "/cluster/resources", nil)
	if err != nil {
		return nil, err
	}
	var resources []clusterResource
	if err := json.Unmarshal(raw, &resources); err != nil {
		return nil, errs.Internal(err, "parsing cluster resources")
	}
	return resources, nil
}

type lxcConfig struct {
	Net0 string `json:"net0"`
}

func (c *client) lxcConfig(ctx context.Context, node string, vmid int) (lxcConfig, error) {
	raw, err := c.get(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/config", node, vmid), nil)
	if err != nil {
		return lxcConfig{}, err
	}
	var cfg lxcConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return lxcConfig{}, errs.Internal(err, "parsing lxc config for %d", vmid)
	}
	return cfg, nil
}

package pve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
)

// execDaemonPort is the fixed port the in-container exec daemon listens on.
const execDaemonPort = 7777

// execEvent is one line of the newline-delimited JSON stream the exec
// daemon emits on a single POST response.
type execEvent struct {
	Type   string `json:"type"` // stdout | stderr | exit | error
	Data   string `json:"data,omitempty"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (m *Manager) Exec(ctx context.Context, id string, req backend.ExecRequest) (backend.ExecResponse, error) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.ExecResponse{}, errs.NotFound(id)
	}
	if len(req.Command) == 0 {
		return backend.ExecResponse{}, errs.InvalidRequest("exec command must not be empty")
	}

	body, err := json.Marshal(map[string]any{
		"command":     req.Command,
		"env":         req.Env,
		"working_dir": req.WorkingDir,
	})
	if err != nil {
		return backend.ExecResponse{}, errs.Internal(err, "marshaling exec request")
	}

	url := fmt.Sprintf("http://%s:%d/exec", r.lease.Sandbox, execDaemonPort)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backend.ExecResponse{}, errs.Internal(err, "building exec daemon request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	hc := &http.Client{Timeout: 5 * time.Minute}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return backend.ExecResponse{}, errs.CommandFailed(err, "reaching exec daemon in sandbox %s", id)
	}
	defer resp.Body.Close()

	return parseExecStream(resp.Body)
}

// parseExecStream consumes the newline-delimited JSON event stream and
// accumulates it into a single exit code plus buffered stdout/stderr.
func parseExecStream(r io.Reader) (backend.ExecResponse, error) {
	var out, errOut bytes.Buffer
	var exitCode int
	sawExit := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev execEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "stdout":
			out.WriteString(ev.Data)
		case "stderr":
			errOut.WriteString(ev.Data)
		case "exit":
			exitCode = ev.Code
			sawExit = true
		case "error":
			return backend.ExecResponse{}, errs.CommandFailed(fmt.Errorf("%s", ev.Reason), "exec daemon reported an error")
		}
	}
	if err := scanner.Err(); err != nil {
		return backend.ExecResponse{}, errs.Internal(err, "reading exec daemon stream")
	}
	if !sawExit {
		return backend.ExecResponse{}, errs.CommandFailed(nil, "exec daemon stream ended without an exit event")
	}

	return backend.ExecResponse{ExitCode: exitCode, Stdout: out.String(), Stderr: errOut.String()}, nil
}

// UploadArchive streams body to the exec daemon's /files endpoint, which
// extracts it into the container's workspace directory.
func (m *Manager) UploadArchive(ctx context.Context, id string, body io.Reader) error {
	r, ok := m.lookup(id)
	if !ok {
		return errs.NotFound(id)
	}

	url := fmt.Sprintf("http://%s:%d/files", r.lease.Sandbox, execDaemonPort)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return errs.Internal(err, "building upload request")
	}
	httpReq.Header.Set("Content-Type", "application/x-tar")

	hc := &http.Client{Timeout: 5 * time.Minute}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return errs.CommandFailed(err, "reaching exec daemon in sandbox %s", id)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.CommandFailed(fmt.Errorf("status %d", resp.StatusCode), "uploading archive to sandbox %s: %s", id, string(msg))
	}
	return nil
}

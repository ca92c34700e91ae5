package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"unicode/utf8"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
)

func (m *Manager) Exec(ctx context.Context, id string, req backend.ExecRequest) (backend.ExecResponse, error) {
	r, ok := m.lookup(id)
	if !ok {
		return backend.ExecResponse{}, errs.NotFound(id)
	}
	if len(req.Command) == 0 {
		return backend.ExecResponse{}, errs.InvalidRequest("exec command must not be empty")
	}

	args := []string{
		"--target", strconv.Itoa(r.childPID),
		"--mount", "--uts", "--ipc", "--net", "--pid",
	}
	if req.WorkingDir != "" {
		args = append(args, "--wd", req.WorkingDir)
	}
	args = append(args, "--")
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, m.cfg.NsenterPath, args...)
	cmd.Env = append(os.Environ(), req.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return backend.ExecResponse{}, errs.CommandFailed(runErr, "nsenter exec in sandbox %s", id)
	}

	return backend.ExecResponse{
		ExitCode: exitCode,
		Stdout:   toUTF8Lossy(stdout.Bytes()),
		Stderr:   toUTF8Lossy(stderr.Bytes()),
	}, nil
}

func toUTF8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var out bytes.Buffer
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out.WriteRune(utf8.RuneError)
			b = b[1:]
			continue
		}
		out.WriteRune(r)
		b = b[size:]
	}
	return out.String()
}

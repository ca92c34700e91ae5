package sandbox

import (
	"context"
	"io"
	"os/exec"
	"strconv"

	"github.com/cmux/cmuxd/internal/errs"
)

// UploadArchive streams a tar archive into the sandbox's /workspace by
// piping it through tar running inside the sandbox's namespaces — the
// local backend's "in-sandbox file receiver".
func (m *Manager) UploadArchive(ctx context.Context, id string, body io.Reader) error {
	r, ok := m.lookup(id)
	if !ok {
		return errs.NotFound(id)
	}

	args := []string{
		"--target", strconv.Itoa(r.childPID),
		"--mount", "--uts", "--ipc", "--net", "--pid", "--",
		"tar", "-xf", "-", "-C", "/workspace",
	}
	cmd := exec.CommandContext(ctx, m.cfg.NsenterPath, args...)
	cmd.Stdin = body
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.CommandFailed(err, "extracting archive into sandbox %s: %s", id, out)
	}
	return nil
}

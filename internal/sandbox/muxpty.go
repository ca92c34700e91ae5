package sandbox

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/creack/pty"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/mux"
)

var _ mux.PTYOpener = (*Manager)(nil)

// OpenPTY implements mux.PTYOpener: the mux control plane (F) asks for a
// new PTY channel into a specific sandbox by id.
func (m *Manager) OpenPTY(ctx context.Context, sandboxID string, command []string, cols, rows uint16) (io.ReadWriteCloser, error) {
	r, ok := m.lookup(sandboxID)
	if !ok {
		return nil, errs.NotFound(sandboxID)
	}
	if len(command) == 0 {
		command = []string{"/bin/bash", "-i"}
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	args := []string{
		"--target", strconv.Itoa(r.childPID),
		"--mount", "--uts", "--ipc", "--net", "--pid", "--",
	}
	args = append(args, command...)
	cmd := exec.Command(m.cfg.NsenterPath, args...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, errs.CommandFailed(err, "opening mux pty for sandbox %s", sandboxID)
	}
	return &muxPTY{cmd: cmd, ptmx: ptmx}, nil
}

// muxPTY adapts a PTY-backed command to io.ReadWriteCloser with resize
// support, as consumed by mux.Hub's data-stream bridge.
type muxPTY struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *muxPTY) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *muxPTY) Write(b []byte) (int, error) { return p.ptmx.Write(b) }
func (p *muxPTY) Close() error {
	p.ptmx.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
	return nil
}
func (p *muxPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// MuxAttach bridges a /mux connection (already adapted to net.Conn) into
// hub, which was constructed with this Manager as its PTYOpener.
func (m *Manager) MuxAttach(ctx context.Context, conn net.Conn, hub *mux.Hub) error {
	return hub.Serve(ctx, conn)
}

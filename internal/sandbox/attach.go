package sandbox

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/creack/pty"
	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/gorilla/websocket"
)

type resizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Attach bridges a WebSocket to a fresh PTY session (or, in pipe mode, a
// plain pipe-backed process) running inside the sandbox's namespaces. It
// returns when either side closes or the child exits.
func (m *Manager) Attach(ctx context.Context, id string, conn backend.WSConn, opts backend.AttachOptions) error {
	r, ok := m.lookup(id)
	if !ok {
		return errs.NotFound(id)
	}

	command := opts.Command
	if len(command) == 0 {
		command = []string{"/bin/bash", "-i"}
	}
	args := []string{
		"--target", strconv.Itoa(r.childPID),
		"--mount", "--uts", "--ipc", "--net", "--pid", "--",
	}
	args = append(args, command...)
	cmd := exec.Command(m.cfg.NsenterPath, args...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	if opts.TTY {
		return attachPTY(ctx, cmd, conn, opts)
	}
	return attachPipe(ctx, cmd, conn)
}

func attachPTY(ctx context.Context, cmd *exec.Cmd, conn backend.WSConn, opts backend.AttachOptions) error {
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return errs.CommandFailed(err, "starting attach pty")
	}
	defer ptmx.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	waitDone := waitAndCloseOnExit(cmd, conn)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.TextMessage {
			if rows, cols, ok := parseResizeLine(string(data)); ok {
				pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
				continue
			}
		}
		if resize, ok := tryParseResizeJSON(data); ok {
			pty.Setsize(ptmx, &pty.Winsize{Cols: resize.Cols, Rows: resize.Rows})
			continue
		}
		ptmx.Write(data)
	}

	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	<-waitDone
	<-done
	return nil
}

// parseResizeLine parses the compact "resize:<rows>:<cols>" form.
func parseResizeLine(line string) (rows, cols int, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "resize:") {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimPrefix(line, "resize:"), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	rows, err1 := strconv.Atoi(parts[0])
	cols, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return rows, cols, true
}

func tryParseResizeJSON(data []byte) (resizeMsg, bool) {
	var msg resizeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return resizeMsg{}, false
	}
	if msg.Type != "resize" {
		return resizeMsg{}, false
	}
	return msg, true
}

// waitAndCloseOnExit owns the one and only cmd.Wait() call for cmd: it
// blocks until the child exits, closes conn so a reader blocked in
// ReadMessage unblocks, and signals completion on the returned channel.
// Callers must not call cmd.Wait() themselves.
func waitAndCloseOnExit(cmd *exec.Cmd, conn backend.WSConn) <-chan struct{} {
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		cmd.Wait()
		conn.Close()
	}()
	return waitDone
}

// attachPipe bridges a headless (no-PTY) process's stdin/stdout to the
// WebSocket, used for protocols that cannot tolerate a pseudo-terminal.
func attachPipe(ctx context.Context, cmd *exec.Cmd, conn backend.WSConn) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errs.Internal(err, "opening attach stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.Internal(err, "opening attach stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errs.CommandFailed(err, "starting attach process")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	waitDone := waitAndCloseOnExit(cmd, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if _, err := stdin.Write(data); err != nil {
			break
		}
	}

	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	<-waitDone
	<-done
	return nil
}

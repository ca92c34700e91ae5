package sandbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/cmux/cmuxd/internal/errs"
	"golang.org/x/sys/unix"
)

// sharedRootPaths are re-created read-only (or as symlinks, if the host
// path is itself a symlink) inside every sandbox.
var sharedRootPaths = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc"}

type bwrapStatus struct {
	ChildPID int `json:"child-pid"`
}

// buildBwrapArgs assembles the structural bubblewrap invocation: namespace
// isolation, the workspace bind mount, the shared host root, any
// caller-supplied read-only paths and tmpfs mounts, and the final
// init-of-last-resort command.
func buildBwrapArgs(cfg Config, workspace string, index uint64, readOnlyPaths, tmpfs, env []string) []string {
	args := []string{
		"--die-with-parent",
		"--unshare-net", "--unshare-pid", "--unshare-uts", "--unshare-ipc",
		"--dev", "/dev", "--proc", "/proc",
		"--tmpfs", "/tmp", "--tmpfs", "/var", "--tmpfs", "/run",
		"--bind", workspace, "/workspace",
		"--chdir", "/workspace",
		"--hostname", fmt.Sprintf("sandbox-%d", index),
	}

	for _, p := range sharedRootPaths {
		info, err := os.Lstat(p)
		if err != nil {
			continue // missing entries are skipped
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				continue
			}
			args = append(args, "--symlink", target, p)
			continue
		}
		if info.IsDir() {
			args = append(args, "--ro-bind", p, p)
		}
	}

	for _, p := range readOnlyPaths {
		args = append(args, "--ro-bind", p, p)
	}
	for _, p := range tmpfs {
		args = append(args, "--tmpfs", p)
	}

	args = append(args, "--json-status-fd", "1")
	args = append(args, "/bin/sh", "-c", initScript(cfg))
	return args
}

// initScript is the sandbox's pid-1 command: bring up loopback, cap the
// tmpfs mounts to cfg.TmpfsSizeBytes if configured, then idle forever.
func initScript(cfg Config) string {
	script := "ip link set lo up"
	if cfg.TmpfsSizeBytes > 0 {
		for _, dest := range []string{"/tmp", "/var", "/run"} {
			script += fmt.Sprintf(" && mount -o remount,size=%d %s", cfg.TmpfsSizeBytes, dest)
		}
	}
	return script + " && sleep infinity"
}

// spawnBwrap starts the isolation tool and reads exactly one JSON status
// line from its stdout to recover the sandbox's init pid. It runs bwrap in
// its own process group so the whole sandboxed tree can be signalled at
// once on teardown.
func spawnBwrap(cfg Config, args, env []string) (*exec.Cmd, int, error) {
	cmd := exec.Command(cfg.BwrapPath, args...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, errs.Internal(err, "opening bwrap stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, errs.CommandFailed(err, "starting %s", cfg.BwrapPath)
	}

	scanner := bufio.NewScanner(stdout)
	if !scanner.Scan() {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, 0, errs.Internal(scanner.Err(), "bwrap produced no json-status line")
	}
	var status bwrapStatus
	if err := json.Unmarshal(scanner.Bytes(), &status); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, 0, errs.Internal(err, "parsing bwrap json-status line %q", scanner.Text())
	}
	if status.ChildPID == 0 {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, 0, errs.Internal(nil, "bwrap json-status missing child-pid")
	}
	return cmd, status.ChildPID, nil
}

// killProcessGroup signals bwrap's whole process group (it was started with
// Setpgid, so its pgid equals its pid), reaching any helper processes bwrap
// itself spawned rather than just bwrap's own pid.
func killProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

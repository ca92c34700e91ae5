package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func pidFilePath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.pid"), nil
}

func readDaemonPID() (int, error) {
	path, err := pidFilePath()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

func writeDaemonPID(pid int) error {
	path, err := pidFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func daemonRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start cmuxd in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, err := readDaemonPID(); err == nil && daemonRunning(pid) {
			return fmt.Errorf("cmuxd already running (pid %d)", pid)
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving own executable: %w", err)
		}
		proc := exec.Command(self, "serve")
		proc.Stdout, proc.Stderr = os.Stdout, os.Stderr
		if err := proc.Start(); err != nil {
			return fmt.Errorf("starting daemon: %w", err)
		}
		if err := writeDaemonPID(proc.Process.Pid); err != nil {
			return fmt.Errorf("recording daemon pid: %w", err)
		}
		fmt.Printf("cmuxd started (pid %d)\n", proc.Process.Pid)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background cmuxd",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readDaemonPID()
		if err != nil {
			return fmt.Errorf("no recorded daemon pid: %w", err)
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("stopping pid %d: %w", pid, err)
		}
		fmt.Printf("cmuxd (pid %d) stopped\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart cmuxd",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, err := readDaemonPID(); err == nil && daemonRunning(pid) {
			if err := stopCmd.RunE(cmd, args); err != nil {
				return err
			}
			for i := 0; i < 50 && daemonRunning(pid); i++ {
				time.Sleep(100 * time.Millisecond)
			}
		}
		return startCmd.RunE(cmd, args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether cmuxd is running and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readDaemonPID()
		if err != nil || !daemonRunning(pid) {
			fmt.Println("cmuxd is not running")
			return nil
		}
		resp, err := http.Get(serverURL + "/healthz")
		if err != nil || resp.StatusCode != http.StatusOK {
			fmt.Printf("cmuxd (pid %d) is running but not healthy\n", pid)
			return nil
		}
		resp.Body.Close()
		fmt.Printf("cmuxd (pid %d) is running and healthy\n", pid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd)
}

package mitm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// chromeCandidates lists binary names tried, in order, to find a local
// Chrome/Chromium install.
var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

func findChrome() (string, error) {
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("mitm: no Chrome/Chromium binary found on PATH")
}

// LaunchBrowser starts a local Chrome pointed at the given proxy port with
// a dedicated, disposable user-data directory so the ephemeral CA is
// trusted only for this one session.
func LaunchBrowser(ctx context.Context, proxyPort int, startURL string) (*exec.Cmd, error) {
	chrome, err := findChrome()
	if err != nil {
		return nil, err
	}

	userDataDir, err := os.MkdirTemp("", "cmux-mitm-profile-")
	if err != nil {
		return nil, fmt.Errorf("mitm: creating browser profile dir: %w", err)
	}

	args := []string{
		"--user-data-dir=" + userDataDir,
		fmt.Sprintf("--proxy-server=http=127.0.0.1:%d;https=127.0.0.1:%d", proxyPort, proxyPort),
		"--ignore-certificate-errors",
		"--no-first-run",
		"--no-default-browser-check",
	}
	if startURL != "" {
		args = append(args, startURL)
	}

	cmd := exec.CommandContext(ctx, chrome, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("mitm: launching chrome: %w", err)
	}

	go func() {
		cmd.Wait()
		os.RemoveAll(userDataDir)
	}()

	return cmd, nil
}

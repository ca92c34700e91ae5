package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/ippool"
)

func ifaceNames(sandboxID string) (hostIf, nsIf string) {
	short := sandboxID
	if len(short) > 8 {
		short = strings.ReplaceAll(short, "-", "")[:8]
	}
	return "vethh-" + short, "vethn-" + short
}

// wireNetwork connects pid's network namespace to the host via a veth pair
// carrying lease's addresses.
func wireNetwork(cfg Config, pid int, lease ippool.Lease, hostIf, nsIf string) error {
	cidr := strconv.Itoa(lease.PrefixLen)

	if err := runCmd(cfg.IPPath, "link", "add", hostIf, "type", "veth", "peer", "name", nsIf); err != nil {
		return err
	}
	if err := runCmd(cfg.IPPath, "addr", "add", fmt.Sprintf("%s/%s", lease.Host, cidr), "dev", hostIf); err != nil {
		return err
	}
	if err := runCmd(cfg.IPPath, "link", "set", hostIf, "up"); err != nil {
		return err
	}
	if err := runCmd(cfg.IPPath, "link", "set", nsIf, "netns", strconv.Itoa(pid)); err != nil {
		return err
	}

	nsenter := func(args ...string) error {
		full := append([]string{"--target", strconv.Itoa(pid), "--net", "--"}, args...)
		return runCmd(cfg.NsenterPath, full...)
	}
	if err := nsenter(cfg.IPPath, "addr", "add", fmt.Sprintf("%s/%s", lease.Sandbox, cidr), "dev", nsIf); err != nil {
		return err
	}
	if err := nsenter(cfg.IPPath, "link", "set", nsIf, "up"); err != nil {
		return err
	}
	if err := nsenter(cfg.IPPath, "link", "set", "lo", "up"); err != nil {
		return err
	}
	if err := nsenter(cfg.IPPath, "route", "replace", "default", "via", lease.Host.String()); err != nil {
		return err
	}
	return nil
}

// teardownNetwork removes the host side of the veth pair; errors are
// ignored since the other end dies with the child.
func teardownNetwork(cfg Config, hostIf string) {
	_ = runCmd(cfg.IPPath, "link", "del", hostIf)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.CommandFailed(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

package gitcache

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/cmux/cmuxd/internal/errs"
)

var hexObjectID = regexp.MustCompile(`^[0-9a-fA-F]{4,40}$`)

// ResolveRefWithOrigin resolves name against repo, trying, in order: a raw
// hex object id, the name as given, "refs/remotes/origin/<name>",
// "refs/heads/<name>", "refs/tags/<name>", a full rev-parse, and finally —
// if name is not already origin/- or refs/-prefixed — "origin/<name>" with
// any duplicate leading "origin/" stripped.
func ResolveRefWithOrigin(ctx context.Context, repo, name string) (string, error) {
	if hexObjectID.MatchString(name) {
		if sha, err := revParse(ctx, repo, name+"^{commit}"); err == nil {
			return sha, nil
		}
	}

	candidates := []string{
		name,
		"refs/remotes/origin/" + name,
		"refs/heads/" + name,
		"refs/tags/" + name,
	}
	for _, c := range candidates {
		if sha, err := revParse(ctx, repo, c); err == nil {
			return sha, nil
		}
	}

	if sha, err := revParse(ctx, repo, name); err == nil {
		return sha, nil
	}

	if !strings.HasPrefix(name, "origin/") && !strings.HasPrefix(name, "refs/") {
		stripped := strings.TrimPrefix(name, "origin/")
		if sha, err := revParse(ctx, repo, "origin/"+stripped); err == nil {
			return sha, nil
		}
	}

	return "", errs.InvalidRequest("invalid ref %q", name)
}

func revParse(ctx context.Context, repo, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", rev)
	cmd.Dir = repo
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// MergeBase returns the merge base of a and b, or an error if none exists.
func MergeBase(ctx context.Context, repo, a, b string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", a, b)
	cmd.Dir = repo
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errs.CommandFailed(err, "git merge-base %s %s", a, b)
	}
	return strings.TrimSpace(out.String()), nil
}

// IsAncestor reports whether anc is an ancestor of desc, i.e.
// merge_base(desc, anc) == anc.
func IsAncestor(ctx context.Context, repo, anc, desc string) (bool, error) {
	base, err := MergeBase(ctx, repo, desc, anc)
	if err != nil {
		return false, nil // no common ancestor is "not an ancestor", not an error
	}
	return base == anc, nil
}

// firstParent returns rev's first parent, or "" if rev is a root commit.
func firstParent(ctx context.Context, repo, rev string) (string, error) {
	sha, err := revParse(ctx, repo, rev+"^1")
	if err != nil {
		return "", nil
	}
	return sha, nil
}

// parents returns all of rev's parent commit SHAs, in order.
func parents(ctx context.Context, repo, rev string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--pretty=%P", rev)
	cmd.Dir = repo
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, errs.CommandFailed(err, "git log -1 --pretty=%%P %s", rev)
	}
	line := strings.TrimSpace(out.String())
	if line == "" {
		return nil, nil
	}
	return strings.Fields(line), nil
}

func commitMessage(ctx context.Context, repo, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--pretty=%B", rev)
	cmd.Dir = repo
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errs.CommandFailed(err, "git log -1 --pretty=%%B %s", rev)
	}
	return out.String(), nil
}

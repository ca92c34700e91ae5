package gitcache

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cmux/cmuxd/internal/errs"
	"golang.org/x/sync/singleflight"
)

const defaultFetchWindow = 5 * time.Second

// Cache is a stale-while-revalidate content-addressed clone cache rooted at
// a single directory. One Cache instance owns the on-disk index and the
// in-process SWR timestamp map; both are authoritative together (the
// in-process map wins once populated, the index seeds it on cold start).
type Cache struct {
	root   string
	window time.Duration

	mu       sync.Mutex
	idx      *index
	lastFetch map[string]int64 // path -> unix ms, process-wide, cold-start seeded from idx

	group singleflight.Group // collapses concurrent ensure_repo(url) for the same slug
}

// New builds a Cache rooted at root, creating it if necessary. window is the
// SWR freshness window; zero selects CMUX_GIT_FETCH_WINDOW_MS when it holds
// a positive integer, else the 5s default.
func New(root string, window time.Duration) (*Cache, error) {
	if window <= 0 {
		window = defaultFetchWindow
		if v := os.Getenv("CMUX_GIT_FETCH_WINDOW_MS"); v != "" {
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				window = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Internal(err, "creating git cache root %s", root)
	}
	return &Cache{
		root:      root,
		window:    window,
		idx:       loadIndex(root),
		lastFetch: make(map[string]int64),
	}, nil
}

// ResolveRepoURL returns the clean (credential-stripped) URL to use,
// preferring url when both are given, else deriving
// https://github.com/<fullName>.git.
func ResolveRepoURL(fullName, rawURL string) (string, error) {
	if rawURL != "" {
		return cleanURL(rawURL), nil
	}
	if fullName != "" {
		return fmt.Sprintf("https://github.com/%s.git", fullName), nil
	}
	return "", errs.InvalidRequest("one of full_name or url is required")
}

// EnsureRepo guarantees a local clone of url exists under the cache root
// and is reasonably fresh, returning its local path. If the repo does not
// exist yet, this call blocks on the initial clone. If it exists, a
// stale-while-revalidate fetch is triggered per the configured window. If
// the clone is shallow, it is unshallowed.
func (c *Cache) EnsureRepo(ctx context.Context, rawURL, token string) (string, error) {
	url := cleanURL(rawURL)
	slug := slugFor(url)
	path := filepath.Join(c.root, slug)

	v, err, _ := c.group.Do(slug, func() (any, error) {
		if _, statErr := os.Stat(filepath.Join(path, ".git", "HEAD")); statErr != nil {
			if cloneErr := c.clone(ctx, url, path, token); cloneErr != nil {
				return nil, cloneErr
			}
			c.recordFetch(slug, path)
			return path, nil
		}
		if _, err := c.swrFetch(ctx, slug, path, token); err != nil {
			return nil, err
		}
		if isShallow(path) {
			if err := c.fetchAll(ctx, path, token, []string{"--unshallow"}); err != nil {
				return nil, err
			}
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) clone(ctx context.Context, url, path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Internal(err, "creating cache parent for %s", path)
	}
	_, err := c.run(ctx, token, "", "clone", "--origin", "origin", url, path)
	return err
}

func isShallow(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git", "shallow"))
	return err == nil
}

// SwrFetch is the stale-while-revalidate decision point: if the repo was
// fetched within the window it returns immediately (wasSync=false) and, for
// public repos, kicks off a background fetch; otherwise it fetches
// synchronously. Private repos (non-empty token) never get a background
// fetch, to avoid leaking credentials via background-process logs.
func (c *Cache) SwrFetch(ctx context.Context, path string, token string) (wasSync bool, err error) {
	return c.swrFetch(ctx, path, path, token)
}

func (c *Cache) swrFetch(ctx context.Context, slug, path, token string) (bool, error) {
	c.mu.Lock()
	last, ok := c.lastFetch[slug]
	if !ok {
		if e, exists := c.idx.entries[slug]; exists && e.LastFetchMs != nil {
			last = *e.LastFetchMs
			c.lastFetch[slug] = last
			ok = true
		}
	}
	c.idx.touch(slug, path)
	c.mu.Unlock()

	age := time.Duration(nowMs()-last) * time.Millisecond
	if ok && age <= c.window {
		if token == "" {
			go func() {
				if err := c.fetchAll(context.Background(), path, "", nil); err != nil {
					log.Printf("gitcache: background fetch %s: %v", path, err)
					return
				}
				c.recordFetch(slug, path)
			}()
		}
		return false, nil
	}

	if err := c.fetchAll(ctx, path, token, nil); err != nil {
		return false, err
	}
	c.recordFetch(slug, path)
	return true, nil
}

func (c *Cache) fetchAll(ctx context.Context, path, token string, extra []string) error {
	args := append([]string{"fetch", "--all", "--tags", "--prune"}, extra...)
	_, err := c.run(ctx, token, path, args...)
	return err
}

func (c *Cache) recordFetch(slug, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowMs()
	c.lastFetch[slug] = now
	e := c.idx.touch(slug, path)
	e.LastFetchMs = &now
	c.idx.evict(c.root)
	if err := c.idx.save(); err != nil {
		log.Printf("gitcache: save index: %v", err)
	}
}

// FetchSpecificRef fetches exactly refName into path's origin remote,
// stripping any "origin/" or "refs/{heads,remotes/origin}/" prefix first.
// On failure it falls back to a full fetch --all --tags --prune.
func (c *Cache) FetchSpecificRef(ctx context.Context, path, refName, token string) (bool, error) {
	name := strings.TrimPrefix(refName, "origin/")
	name = strings.TrimPrefix(name, "refs/heads/")
	name = strings.TrimPrefix(name, "refs/remotes/origin/")

	if _, err := c.run(ctx, token, path, "fetch", "origin", name); err == nil {
		return true, nil
	}
	if err := c.fetchAll(ctx, path, token, nil); err != nil {
		return false, err
	}
	return true, nil
}

// run executes git with credentials injected via environment-scoped config
// (never writing to the repo's .git/config), redacting secrets from any
// resulting CommandFailed error.
func (c *Cache) run(ctx context.Context, token, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), authEnv(token)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		redactedArgs := redactAll(args)
		redactedStderr := redact(stderr.String())
		return "", errs.CommandFailed(err, "git %s: %s", strings.Join(redactedArgs, " "), strings.TrimSpace(redactedStderr))
	}
	return stdout.String(), nil
}

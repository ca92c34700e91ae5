package gitcache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const maxCacheEntries = 20

// index is the in-memory mirror of <cache_root>/cache-index.json, guarded
// by the Cache's mutex (it is never manipulated outside Cache methods).
type index struct {
	path    string
	entries map[string]*IndexEntry // keyed by slug
}

func loadIndex(cacheRoot string) *index {
	idx := &index{
		path:    filepath.Join(cacheRoot, "cache-index.json"),
		entries: make(map[string]*IndexEntry),
	}
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return idx
	}
	var list []*IndexEntry
	if err := json.Unmarshal(data, &list); err != nil {
		log.Printf("gitcache: ignoring corrupt cache index %s: %v", idx.path, err)
		return idx
	}
	for _, e := range list {
		idx.entries[e.Slug] = e
	}
	return idx
}

// save writes the index as pretty JSON sorted by last_access_ms descending.
func (idx *index) save() error {
	list := idx.sorted()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}

func (idx *index) sorted() []*IndexEntry {
	list := make([]*IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastAccessMs > list[j].LastAccessMs })
	return list
}

func (idx *index) touch(slug, path string) *IndexEntry {
	e, ok := idx.entries[slug]
	if !ok {
		e = &IndexEntry{Slug: slug, Path: path}
		idx.entries[slug] = e
	}
	e.Path = path
	e.LastAccessMs = nowMs()
	return e
}

// evict drops entries beyond maxCacheEntries (by recency) and removes their
// on-disk directories, refusing to touch anything outside cacheRoot.
func (idx *index) evict(cacheRoot string) {
	list := idx.sorted()
	if len(list) <= maxCacheEntries {
		return
	}
	for _, e := range list[maxCacheEntries:] {
		delete(idx.entries, e.Slug)
		if underRoot(cacheRoot, e.Path) {
			if err := os.RemoveAll(e.Path); err != nil {
				log.Printf("gitcache: evict %s: %v", e.Path, err)
			}
		}
	}
}

func underRoot(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var nonSlug = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// slugFor derives a deterministic directory name from a credential-stripped
// URL: "<repo>__<owner>" when the path has >= 2 segments, else a sanitized
// full path.
func slugFor(cleanURL string) string {
	trimmed := strings.TrimSuffix(cleanURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	// strip scheme + host, keep the path segments only
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 {
		repo := parts[len(parts)-1]
		owner := parts[len(parts)-2]
		return sanitize(repo) + "__" + sanitize(owner)
	}
	return sanitize(strings.Join(parts, "_"))
}

func sanitize(s string) string {
	s = nonSlug.ReplaceAllString(s, "_")
	if s == "" {
		s = "repo"
	}
	return s
}

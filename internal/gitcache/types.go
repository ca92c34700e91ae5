// Package gitcache implements a stale-while-revalidate content-addressed
// clone cache plus ref resolution and landed-diff detection on top of the
// system git binary.
package gitcache

import "time"

// IndexEntry is one row of the on-disk cache index.
type IndexEntry struct {
	Slug         string `json:"slug"`
	Path         string `json:"path"`
	LastAccessMs int64  `json:"last_access_ms"`
	LastFetchMs  *int64 `json:"last_fetch_ms,omitempty"`
}

// DiffEntry is a single file's change record in a landed diff, produced by
// an external ref-diff collaborator this package does not implement; it
// only selects the (oldRef, newRef) pair fed to that collaborator.
type DiffEntry struct {
	Path        string `json:"path"`
	OldPath     string `json:"old_path,omitempty"`
	ChangeKind  string `json:"change_kind"`
	Content     string `json:"content,omitempty"`
	OldContent  string `json:"old_content,omitempty"`
	Size        int64  `json:"size"`
	OldSize     int64  `json:"old_size"`
	IsBinary    bool   `json:"is_binary"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// RefPair is a (base, head) revision pair selected by the landed-diff
// detector, ready to be handed to a diff producer.
type RefPair struct {
	Old string
	New string
}

// Empty reports whether the pair carries no change (old == new, or both
// unset), per the detector's "nothing landed" result.
func (p RefPair) Empty() bool {
	return p.Old == p.New
}

func nowMs() int64 { return time.Now().UnixMilli() }

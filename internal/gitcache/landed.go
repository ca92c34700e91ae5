package gitcache

import (
	"context"
	"log"
	"strings"
)

const maxFirstParentWalk = 10000

// LandedDiff recovers the change set a PR merge actually contributed to
// base, by walking base's first-parent chain for the commit that
// integrated head. b0Ref, if non-empty, is the known pre-merge tip of base
// and enables the precise fast-forward / merge-commit / squash-rebase
// paths; without it, detection falls back to a merge-commit message
// heuristic.
func LandedDiff(ctx context.Context, repo, baseRef, headRef, b0Ref string) (RefPair, error) {
	bTip, err := ResolveRefWithOrigin(ctx, repo, baseRef)
	if err != nil {
		return RefPair{}, err
	}
	hTip, err := ResolveRefWithOrigin(ctx, repo, headRef)
	if err != nil {
		return RefPair{}, err
	}
	if bTip == hTip {
		return RefPair{}, nil
	}

	if b0Ref != "" {
		return landedWithB0(ctx, repo, bTip, hTip, b0Ref)
	}
	return landedByMessage(ctx, repo, bTip, hTip, baseRef, headRef)
}

func landedWithB0(ctx context.Context, repo, bTip, hTip, b0Ref string) (RefPair, error) {
	b0, err := ResolveRefWithOrigin(ctx, repo, b0Ref)
	if err != nil {
		return RefPair{}, err
	}

	c1, err := findFirstParentTarget(ctx, repo, bTip, b0, maxFirstParentWalk)
	if err != nil {
		return RefPair{}, err
	}
	if c1 == "" {
		log.Printf("gitcache: landed-diff: no commit on %s's first-parent chain has first parent %s", bTip, b0)
		return RefPair{}, nil
	}

	ps, err := parents(ctx, repo, c1)
	if err != nil {
		return RefPair{}, err
	}
	if len(ps) >= 2 {
		log.Printf("gitcache: landed-diff: merge-commit path at %s", c1)
		p1, err := firstParent(ctx, repo, c1)
		if err != nil {
			return RefPair{}, err
		}
		return RefPair{Old: p1, New: c1}, nil
	}

	anc, err := IsAncestor(ctx, repo, c1, hTip)
	if err != nil {
		return RefPair{}, err
	}
	if anc {
		log.Printf("gitcache: landed-diff: fast-forward path from %s", b0)
		last, err := lastAncestorOnChain(ctx, repo, bTip, b0, hTip)
		if err != nil {
			return RefPair{}, err
		}
		return RefPair{Old: b0, New: last}, nil
	}

	log.Printf("gitcache: landed-diff: squash/rebase-merge path at %s", c1)
	return RefPair{Old: b0, New: c1}, nil
}

func landedByMessage(ctx context.Context, repo, bTip, hTip, baseRef, headRef string) (RefPair, error) {
	headName := strings.TrimPrefix(headRef, "origin/")

	merge, messageMatched, err := findMergeByMessage(ctx, repo, bTip, headName)
	if err != nil {
		return RefPair{}, err
	}
	if messageMatched {
		log.Printf("gitcache: landed-diff: merge-by-message path at %s", merge)
		p1, err := firstParent(ctx, repo, merge)
		if err != nil {
			return RefPair{}, err
		}
		return RefPair{Old: p1, New: merge}, nil
	}

	anc, err := IsAncestor(ctx, repo, hTip, bTip)
	if err != nil {
		return RefPair{}, err
	}
	if anc {
		log.Printf("gitcache: landed-diff: head already an ancestor of base with no message match, nothing to show")
		return RefPair{}, nil
	}

	merge, found, err := findMergeBySecondParentAncestor(ctx, repo, bTip, hTip)
	if err != nil {
		return RefPair{}, err
	}
	if found {
		log.Printf("gitcache: landed-diff: merge-by-second-parent path at %s", merge)
		p1, err := firstParent(ctx, repo, merge)
		if err != nil {
			return RefPair{}, err
		}
		return RefPair{Old: p1, New: merge}, nil
	}

	log.Printf("gitcache: landed-diff: no landing point found")
	return RefPair{}, nil
}

// findFirstParentTarget walks base's first-parent chain from start,
// returning the first commit whose first parent equals target.
func findFirstParentTarget(ctx context.Context, repo, start, target string, limit int) (string, error) {
	cur := start
	for i := 0; i < limit && cur != ""; i++ {
		p1, err := firstParent(ctx, repo, cur)
		if err != nil {
			return "", err
		}
		if p1 == target {
			return cur, nil
		}
		if p1 == "" {
			break
		}
		cur = p1
	}
	return "", nil
}

// lastAncestorOnChain walks base's first-parent chain from bTip down to b0
// and returns the highest (closest-to-bTip) commit on that chain that is an
// ancestor of hTip, or b0 if none is.
func lastAncestorOnChain(ctx context.Context, repo, bTip, b0, hTip string) (string, error) {
	chain := []string{}
	cur := bTip
	for i := 0; i < maxFirstParentWalk && cur != "" && cur != b0; i++ {
		chain = append(chain, cur)
		p1, err := firstParent(ctx, repo, cur)
		if err != nil {
			return "", err
		}
		cur = p1
	}
	last := b0
	for i := len(chain) - 1; i >= 0; i-- {
		anc, err := IsAncestor(ctx, repo, chain[i], hTip)
		if err != nil {
			return "", err
		}
		if anc {
			last = chain[i]
		}
	}
	return last, nil
}

// findMergeByMessage walks base's first-parent chain (bounded) looking for
// a merge commit (>=2 parents) whose message contains headName.
func findMergeByMessage(ctx context.Context, repo, start, headName string) (string, bool, error) {
	cur := start
	for i := 0; i < maxFirstParentWalk && cur != ""; i++ {
		ps, err := parents(ctx, repo, cur)
		if err != nil {
			return "", false, err
		}
		if len(ps) >= 2 {
			msg, err := commitMessage(ctx, repo, cur)
			if err != nil {
				return "", false, err
			}
			if strings.Contains(msg, headName) {
				return cur, true, nil
			}
		}
		p1, err := firstParent(ctx, repo, cur)
		if err != nil {
			return "", false, err
		}
		if p1 == "" {
			break
		}
		cur = p1
	}
	return "", false, nil
}

// findMergeBySecondParentAncestor walks base's first-parent chain looking
// for a merge commit whose second parent is an ancestor of head.
func findMergeBySecondParentAncestor(ctx context.Context, repo, start, head string) (string, bool, error) {
	cur := start
	for i := 0; i < maxFirstParentWalk && cur != ""; i++ {
		ps, err := parents(ctx, repo, cur)
		if err != nil {
			return "", false, err
		}
		if len(ps) >= 2 {
			anc, err := IsAncestor(ctx, repo, ps[1], head)
			if err != nil {
				return "", false, err
			}
			if anc {
				return cur, true, nil
			}
		}
		p1, err := firstParent(ctx, repo, cur)
		if err != nil {
			return "", false, err
		}
		if p1 == "" {
			break
		}
		cur = p1
	}
	return "", false, nil
}

// Package aggregator coalesces a stream of changed paths reported by a
// filesystem watcher into the minimal set of paths that need to be
// rescanned, collapsing a path whose ancestor is already pending and
// evicting any pending descendants once their ancestor is inserted.
package aggregator

import (
	"sort"
	"strings"
)

// PathAggregator maintains a sorted set of root-relative paths with the
// invariant that no element is ever a prefix (path-component-wise) of
// another. Inserting a path that is already covered by a pending ancestor
// is a no-op; inserting a path that is itself an ancestor of pending
// entries evicts those entries, since rescanning the ancestor subsumes
// them.
type PathAggregator struct {
	paths []string
}

// New returns an empty aggregator.
func New() *PathAggregator {
	return &PathAggregator{}
}

// isAncestorOrEqual reports whether candidate is path itself or a strict
// path-component ancestor of it. The empty string denotes the root of the
// tree being aggregated and is therefore an ancestor of every other path.
func isAncestorOrEqual(candidate, path string) bool {
	if candidate == "" {
		return true
	}
	return candidate == path || strings.HasPrefix(path, candidate+"/")
}

// isDescendant reports whether path is a strict descendant of ancestor,
// honoring the same root convention as isAncestorOrEqual.
func isDescendant(ancestor, path string) bool {
	if ancestor == "" {
		return path != ""
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Insert adds path to the set, maintaining the no-prefix invariant.
func (a *PathAggregator) Insert(path string) {
	// A pending ancestor or descendant need not sort next to path ("a" <
	// "a.txt" < "a/b"), so the whole set is checked, not just the
	// neighbours of path's insertion point.
	for _, pending := range a.paths {
		if isAncestorOrEqual(pending, path) {
			return
		}
	}

	kept := a.paths[:0]
	for _, pending := range a.paths {
		if !isDescendant(path, pending) {
			kept = append(kept, pending)
		}
	}
	a.paths = kept

	idx := sort.SearchStrings(a.paths, path)
	a.paths = append(a.paths, "")
	copy(a.paths[idx+1:], a.paths[idx:])
	a.paths[idx] = path
}

// Evict removes path from the set if present, exactly as given (it does not
// search for ancestors or descendants).
func (a *PathAggregator) Evict(path string) {
	idx := sort.SearchStrings(a.paths, path)
	if idx < len(a.paths) && a.paths[idx] == path {
		a.paths = append(a.paths[:idx], a.paths[idx+1:]...)
	}
}

// Paths returns the current pending set, in sorted order. The returned
// slice is owned by the caller and safe to mutate.
func (a *PathAggregator) Paths() []string {
	out := make([]string, len(a.paths))
	copy(out, a.paths)
	return out
}

// Len returns the number of pending paths.
func (a *PathAggregator) Len() int {
	return len(a.paths)
}

// Reset empties the set.
func (a *PathAggregator) Reset() {
	a.paths = nil
}

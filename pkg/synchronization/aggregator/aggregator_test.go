package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertCollapsesDescendantsUnderNewAncestor(t *testing.T) {
	a := New()
	a.Insert("a/b/c")
	a.Insert("a/b/d")
	require.Equal(t, []string{"a/b/c", "a/b/d"}, a.Paths())

	a.Insert("a/b")
	require.Equal(t, []string{"a/b"}, a.Paths())
}

func TestInsertIsNoOpWhenAncestorAlreadyPending(t *testing.T) {
	a := New()
	a.Insert("a/b")
	a.Insert("a/b/c")
	require.Equal(t, []string{"a/b"}, a.Paths())
}

func TestInsertIgnoresUnrelatedSiblingPrefixes(t *testing.T) {
	a := New()
	a.Insert("path")
	a.Insert("pathological")
	require.Equal(t, []string{"path", "pathological"}, a.Paths())
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	a := New()
	a.Insert("a/b")
	a.Insert("a/b")
	require.Equal(t, []string{"a/b"}, a.Paths())
}

func TestEvict(t *testing.T) {
	a := New()
	a.Insert("a")
	a.Insert("b")
	a.Evict("a")
	require.Equal(t, []string{"b"}, a.Paths())
}

func TestReset(t *testing.T) {
	a := New()
	a.Insert("a")
	a.Reset()
	require.Equal(t, 0, a.Len())
}

// The empty string denotes the root itself (the engine maps a watcher's "."
// event to "" before inserting). The root is an ancestor of every other
// path, so inserting it must collapse any already-pending descendants, and
// inserting a descendant once the root is pending must be a no-op.
func TestInsertRootCollapsesAllDescendants(t *testing.T) {
	a := New()
	a.Insert("a/b")
	a.Insert("c")
	a.Insert("")
	require.Equal(t, []string{""}, a.Paths())
}

func TestInsertIsNoOpWhenRootAlreadyPending(t *testing.T) {
	a := New()
	a.Insert("")
	a.Insert("a/b")
	require.Equal(t, []string{""}, a.Paths())
}

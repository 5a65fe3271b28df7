package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetDirtNeverDowngradesFromModifiedOrDeleted(t *testing.T) {
	n := NewFileNode(time.Unix(0, 0), DirtModified, nil)
	n.setDirt(DirtPath)
	require.Equal(t, DirtModified, n.Dirt)

	n.Dirt = DirtDeleted
	n.setDirt(DirtPath)
	require.Equal(t, DirtDeleted, n.Dirt)

	// Upgrades and same-strength overwrites are still allowed.
	n.setDirt(DirtModified)
	require.Equal(t, DirtModified, n.Dirt)
}

func TestNodeCleanRecurses(t *testing.T) {
	leaf := NewFileNode(time.Unix(0, 0), DirtModified, nil)
	dir := NewDirNode(time.Unix(0, 0), DirtPath, map[string]*TreeNode{"leaf": leaf})

	dir.clean()

	require.Equal(t, DirtNone, dir.Dirt)
	require.Equal(t, DirtNone, leaf.Dirt)
}

func TestNodeCopyIsDeepAndIndependent(t *testing.T) {
	leaf := NewFileNode(time.Unix(5, 0), DirtModified, []byte{1, 2, 3})
	dir := NewDirNode(time.Unix(5, 0), DirtPath, map[string]*TreeNode{"leaf": leaf})

	clone := dir.copy()
	clone.Children["leaf"].Hash[0] = 9
	clone.Dirt = DirtDeleted

	require.Equal(t, DirtPath, dir.Dirt)
	require.Equal(t, byte(1), leaf.Hash[0])
}

func TestWalkPreOrderCanStopEarly(t *testing.T) {
	c := NewFileNode(time.Unix(0, 0), DirtNone, nil)
	b := NewDirNode(time.Unix(0, 0), DirtNone, map[string]*TreeNode{"c": c})
	root := NewDirNode(time.Unix(0, 0), DirtNone, map[string]*TreeNode{"b": b})

	var visited []string
	root.walkPreOrder("", func(path string, node *TreeNode) bool {
		visited = append(visited, path)
		return path != "b"
	})

	require.Equal(t, []string{"", "b"}, visited)
}

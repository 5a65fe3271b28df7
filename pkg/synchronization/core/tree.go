package core

import (
	"strings"
	"time"
)

// Tree is a single-rooted, in-memory mirror of one side (PLAIN or ENC) of a
// synchronization root. The root node is always a directory.
type Tree struct {
	// Root is the directory node representing the synchronization root
	// itself.
	Root *TreeNode
}

// NewTree creates an empty tree with the given initial root mtime. The root
// node is constructed eagerly rather than lazily, since the root directory
// always exists.
func NewTree(rootMtime time.Time) *Tree {
	return &Tree{Root: NewDirNode(rootMtime, DirtNone, nil)}
}

// splitPath breaks a root-relative path into its slash-separated segments.
// An empty path (the root itself) yields no segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Get returns the node at the given relative path, or nil if no such node
// exists. An empty path refers to the tree root.
func (t *Tree) Get(path string) *TreeNode {
	if path == "" {
		return t.Root
	}
	n := t.Root
	for _, segment := range splitPath(path) {
		if n.Children == nil {
			return nil
		}
		child, ok := n.Children[segment]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// GetParentOf returns the parent node of the given path, but only if the
// path itself is present in the tree; otherwise it returns nil. This
// satisfies the invariant that GetParentOf(p) is non-nil iff Get(p) is
// non-nil and p is non-empty.
func (t *Tree) GetParentOf(path string) *TreeNode {
	if path == "" {
		return nil
	}
	if t.Get(path) == nil {
		return nil
	}
	return t.Get(pathDir(path))
}

// Write records that path exists on disk as of mtime, creating any missing
// intermediate directory nodes along the way. Ancestors are tagged DirtPath
// (without downgrading any stronger existing dirt); the node at path itself
// is always tagged DirtModified, since a fresh observation from the
// filesystem always supersedes whatever the node previously recorded,
// including a prior Deleted tag (a path can be deleted and recreated within
// the same cycle).
func (t *Tree) Write(path string, isDir bool, mtime time.Time) {
	if path == "" {
		panic("cannot write the tree root")
	}

	n := t.Root
	n.Mtime = mtime
	n.setDirt(DirtPath)

	segments := splitPath(path)
	for i, segment := range segments {
		if n.Children == nil {
			panic("write: path traverses an existing file node")
		}

		child, ok := n.Children[segment]
		if !ok {
			child = NewDirNode(mtime, DirtPath, nil)
			n.Children[segment] = child
		}
		child.Mtime = mtime

		if i == len(segments)-1 {
			if !isDir {
				child.Children = nil
			} else if child.Children == nil {
				child.Children = make(map[string]*TreeNode)
			}
			child.Dirt = DirtModified
		} else {
			child.setDirt(DirtPath)
		}

		n = child
	}
}

// MarkDeleted tags the node at path, and every node beneath it, as Deleted,
// using mtime as the tombstone timestamp. Every strict ancestor of path is
// tagged DirtPath (without downgrading). The path must already exist in the
// tree.
func (t *Tree) MarkDeleted(path string, mtime time.Time) {
	if path == "" {
		panic("cannot delete the tree root")
	}

	n := t.Root
	n.Mtime = mtime
	n.setDirt(DirtPath)

	segments := splitPath(path)
	for i, segment := range segments {
		child, ok := n.Children[segment]
		if !ok {
			panic("mark_deleted: path not present in tree")
		}
		child.Mtime = mtime
		if i < len(segments)-1 {
			child.setDirt(DirtPath)
		}
		n = child
	}

	n.walkPreOrder("", func(_ string, cur *TreeNode) bool {
		cur.Mtime = mtime
		cur.Dirt = DirtDeleted
		return true
	})
}

// Clean recursively clears all dirt in the tree. It is idempotent.
func (t *Tree) Clean() {
	t.Root.clean()
}

// PruneDeleted removes every subtree whose root node carries Deleted dirt.
// A Deleted node reached during the walk (rather than excised by its
// parent) indicates a violated invariant and is a programmer error.
func (t *Tree) PruneDeleted() {
	t.Root.walkPreOrder("", func(_ string, n *TreeNode) bool {
		if n.Dirt == DirtDeleted {
			panic("prune_deleted: encountered an unpruned Deleted node")
		}

		for name, child := range n.Children {
			if child.Dirt == DirtDeleted {
				delete(n.Children, name)
			}
		}

		switch n.Dirt {
		case DirtModified:
			// A newly-added node: its children (if any) are all freshly
			// written and thus never Deleted, so there's nothing to prune
			// beneath it.
			return false
		case DirtPath:
			return true
		default:
			return false
		}
	})
}

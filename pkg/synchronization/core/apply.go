package core

import "time"

// ApplyOps mirrors the effect of a successfully executed op list back into
// the in-memory trees, without touching the filesystem. It is the
// counterpart to the executor: the executor makes the real files agree with
// what Merge decided, and ApplyOps makes the in-memory trees agree with what
// the executor just did, so that the engine's subsequent Tree.Clean and
// Tree.PruneDeleted calls leave both trees in a converged, dirt-free state
// without requiring an extra filesystem rescan.
//
// Ops must be applied in the order Merge produced them; conflict copies in
// particular rely on running before the convergence op for the same path
// that follows them.
func ApplyOps(ops []FileOp, plain, enc *Tree) {
	for _, op := range ops {
		switch op.Kind {
		case DeleteEnc:
			removeNode(enc, op.Path)
		case DeletePlain:
			removeNode(plain, op.Path)
		case EncryptPlain:
			mirrorSubtree(plain, enc, op.Path)
		case DecryptEnc:
			mirrorSubtree(enc, plain, op.Path)
		case ConflictCopyPlain:
			duplicateSubtree(plain, op.Path, op.DestPath)
		case ConflictCopyEnc:
			duplicateSubtree(enc, op.Path, op.DestPath)
		}
	}
}

// treeParentDir returns the directory node that should contain path,
// creating any missing intermediate directory nodes (clean, since their
// existence isn't itself news) along the way.
func treeParentDir(tree *Tree, path string) *TreeNode {
	dir := pathDir(path)
	if dir == "" {
		return tree.Root
	}
	n := tree.Root
	for _, segment := range splitPath(dir) {
		child, ok := n.Children[segment]
		if !ok {
			child = NewDirNode(time.Time{}, DirtNone, nil)
			n.Children[segment] = child
		}
		n = child
	}
	return n
}

// removeNode excises the node at path from tree entirely. It is used after
// a Delete op has been carried out on disk, to drop the corresponding entry
// from the tree that wasn't itself aware of the deletion.
func removeNode(tree *Tree, path string) {
	parent := tree.Get(pathDir(path))
	if parent == nil {
		return
	}
	delete(parent.Children, PathBase(path))
}

// mirrorSubtree copies the node at path from src into dst as a fully clean
// (converged) subtree, replacing whatever was there before.
func mirrorSubtree(src, dst *Tree, path string) {
	srcNode := src.Get(path)
	if srcNode == nil {
		return
	}
	clone := srcNode.copy()
	clone.clean()
	parent := treeParentDir(dst, path)
	parent.Children[PathBase(path)] = clone
}

// duplicateSubtree copies the node at srcPath within tree to destPath within
// the same tree, marking the new copy (and the path down to it) dirty so
// that the next merge recognizes it as a new, as-yet-unpropagated subtree.
func duplicateSubtree(tree *Tree, srcPath, destPath string) {
	srcNode := tree.Get(srcPath)
	if srcNode == nil {
		return
	}
	clone := srcNode.copy()
	clone.Dirt = DirtModified

	markAncestorsDirty(tree, destPath)
	parent := treeParentDir(tree, destPath)
	parent.Children[PathBase(destPath)] = clone
}

// markAncestorsDirty tags every strict ancestor of path as DirtPath
// (without downgrading anything stronger), so that a newly-inserted
// descendant is reachable from the root during the next merge.
func markAncestorsDirty(tree *Tree, path string) {
	n := tree.Root
	n.setDirt(DirtPath)
	dir := pathDir(path)
	if dir == "" {
		return
	}
	for _, segment := range splitPath(dir) {
		child, ok := n.Children[segment]
		if !ok {
			break
		}
		child.setDirt(DirtPath)
		n = child
	}
}

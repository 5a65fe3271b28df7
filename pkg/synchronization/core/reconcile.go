package core

import (
	"bytes"
	"sort"
)

// Merge compares the dirt recorded in the plain and encrypted trees and
// produces the ordered list of FileOps required to bring the two roots back
// into agreement. It never touches the filesystem and never mutates either
// tree; Tree.PruneDeleted and Tree.Clean are applied separately once the
// caller has successfully executed the returned ops.
//
// Every conflict copy names its conflict_<unix>_ prefix from the Mtime of
// the node it preserves, not from when the merge runs, so the prefix stays
// stable and reproducible regardless of when the cycle happens to execute.
func Merge(plain, enc *Tree) []FileOp {
	var ops []FileOp
	mergeChildren(plain.Root, enc.Root, "", &ops)
	return ops
}

// mergeChildren walks the union of the two directories' children, keyed by
// the shared normalized keyspace, and merges each key in turn. The key
// space is sorted so that a merge cycle's op list is deterministic.
func mergeChildren(p, e *TreeNode, path string, ops *[]FileOp) {
	keys := make(map[string]bool, len(p.Children)+len(e.Children))
	for k := range p.Children {
		keys[k] = true
	}
	for k := range e.Children {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		mergeNode(p.Children[key], e.Children[key], pathJoin(path, key), ops)
	}
}

// changeState collapses a node's Dirt into the three states that matter to
// the merge decision table once we already know whether this exact node,
// rather than some descendant, is the thing that changed: "this node
// itself is unchanged" (None or PathDirt both collapse here), "this node
// was created or its mtime changed" (Modified), or "this node is gone"
// (Deleted).
type changeState uint8

const (
	changeNone changeState = iota
	changeModified
	changeDeleted
)

func collapse(d Dirt) changeState {
	switch d {
	case DirtModified:
		return changeModified
	case DirtDeleted:
		return changeDeleted
	default:
		return changeNone
	}
}

// mergeNode merges a single normalized path given its node on each side,
// either of which may be nil (absent on that side, i.e. never yet mirrored
// there).
func mergeNode(p, e *TreeNode, path string, ops *[]FileOp) {
	switch {
	case p == nil && e == nil:
		return
	case p != nil && e == nil:
		walkOneSided(p, path, path, true, false, ops)
		return
	case p == nil && e != nil:
		walkOneSided(e, path, path, false, false, ops)
		return
	}

	if p.IsDir() != e.IsDir() {
		panic("merge: plain and encrypted trees disagree on the kind of " + path)
	}

	pState := collapse(p.Dirt)
	eState := collapse(e.Dirt)

	switch {
	case pState == changeNone && eState == changeNone:
		// Neither side changed identity at this exact node. If a
		// descendant is dirty on either side, PathDirt will be set on at
		// least one of them (the non-downgrade invariant guarantees a
		// genuine change further down always propagates PathDirt up to
		// here), so recursing is always safe and sufficient; a fully
		// clean pair just recurses into nothing.
		if p.Dirt == DirtPath || e.Dirt == DirtPath {
			mergeChildren(p, e, path, ops)
		}
		return
	case pState == changeNone:
		// PLAIN is unchanged (or merely on the path to a change further
		// down) at this exact node; ENC has a genuine change right here.
		mergeAgainstQuiescentSide(p, e, eState, path, false, ops)
		return
	case eState == changeNone:
		// Symmetric: ENC unchanged here, PLAIN has the genuine change.
		mergeAgainstQuiescentSide(e, p, pState, path, true, ops)
		return
	}

	// Both sides report a genuine change (Modified or Deleted) at this
	// exact node: the four corners of the decision table.
	switch {
	case pState == changeDeleted && eState == changeDeleted:
		// Both sides already agree the path is gone.
	case pState == changeModified && eState == changeDeleted:
		// PLAIN has independent work in flight that ENC's deletion would
		// otherwise destroy; keep it as a conflict copy on the plain side,
		// then let the deletion through. The copy is named from the
		// preserved (plain) node's own mtime.
		*ops = append(*ops, newConflictCopy(ConflictCopyPlain, path, p.Mtime))
		*ops = append(*ops, FileOp{Kind: DeletePlain, Path: path})
	case pState == changeDeleted && eState == changeModified:
		*ops = append(*ops, newConflictCopy(ConflictCopyEnc, path, e.Mtime))
		*ops = append(*ops, FileOp{Kind: DeleteEnc, Path: path})
	case pState == changeModified && eState == changeModified:
		if p.IsDir() {
			// Two directories that are both newly recorded on their own
			// sides (the initial synchronization stamps every node this
			// way) have no content of their own to conflict over; the real
			// changes, if any, live in their children.
			mergeChildren(p, e, path, ops)
			return
		}
		if p.Hash != nil && e.Hash != nil && bytes.Equal(p.Hash, e.Hash) {
			// Both sides independently arrived at the same content: no
			// conflict, nothing to converge (see DESIGN.md). Each side keeps
			// its own mtime; the next cycle will see both as clean.
			return
		}
		// Genuine content conflict. Policy is ENC wins: PLAIN's version is
		// preserved as a conflict copy, named from its own mtime, before
		// ENC's content is decrypted over it.
		*ops = append(*ops, newConflictCopy(ConflictCopyPlain, path, p.Mtime))
		*ops = append(*ops, FileOp{Kind: DecryptEnc, Path: path})
	}
}

// mergeAgainstQuiescentSide handles a key where one side (quiescent) has no
// genuine change at this exact node — either fully clean or merely carrying
// PathDirt for some deeper descendant — while the other side (active,
// described by activeState) was itself Modified or Deleted right here.
//
// If quiescent is fully clean (DirtNone), its whole subtree is clean by the
// non-downgrade invariant, so the active side's change can be mirrored (or
// its deletion propagated) in one shot. If quiescent carries PathDirt, its
// subtree holds in-flight work that the active side's change is about to
// overwrite or delete outright; that work is walked and preserved as
// conflict copies before the active side's change is applied.
func mergeAgainstQuiescentSide(quiescent, active *TreeNode, activeState changeState, path string, activeIsPlain bool, ops *[]FileOp) {
	if quiescent.Dirt == DirtPath {
		walkOneSided(quiescent, path, path, !activeIsPlain, true, ops)
	}

	switch activeState {
	case changeModified:
		if activeIsPlain {
			*ops = append(*ops, FileOp{Kind: EncryptPlain, Path: path})
		} else {
			*ops = append(*ops, FileOp{Kind: DecryptEnc, Path: path})
		}
	case changeDeleted:
		if activeIsPlain {
			*ops = append(*ops, FileOp{Kind: DeleteEnc, Path: path})
		} else {
			*ops = append(*ops, FileOp{Kind: DeletePlain, Path: path})
		}
	}
}

// walkOneSided emits ops for a subtree that is dirty on exactly one side,
// rooted at handledRoot; path is the (possibly deeper) node currently being
// visited during the walk, and fromPlain says which side node belongs to.
//
// opposingDeleted indicates that the counterpart subtree is being deleted
// or overwritten wholesale this cycle: Modified leaves found during the
// walk are preserved as conflict copies (named from handledRoot, but
// timestamped from the leaf node's own Mtime) rather than mirrored
// normally, since a normal mirror or plain recursion would otherwise lose
// them to the opposing side's fate.
func walkOneSided(node *TreeNode, handledRoot, path string, fromPlain, opposingDeleted bool, ops *[]FileOp) {
	switch node.Dirt {
	case DirtDeleted:
		// No mirror exists (or ever existed) on the other side for this
		// path, so there's nothing to propagate.
		return
	case DirtModified:
		if opposingDeleted {
			if fromPlain {
				*ops = append(*ops, newConflictCopyInSubtree(ConflictCopyPlain, handledRoot, path, node.Mtime))
			} else {
				*ops = append(*ops, newConflictCopyInSubtree(ConflictCopyEnc, handledRoot, path, node.Mtime))
			}
			return
		}
		if fromPlain {
			*ops = append(*ops, FileOp{Kind: EncryptPlain, Path: path})
		} else {
			*ops = append(*ops, FileOp{Kind: DecryptEnc, Path: path})
		}
	case DirtPath:
		names := make([]string, 0, len(node.Children))
		for name := range node.Children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			walkOneSided(node.Children[name], handledRoot, pathJoin(path, name), fromPlain, opposingDeleted, ops)
		}
	}
}

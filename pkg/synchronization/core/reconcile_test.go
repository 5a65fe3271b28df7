package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func treeWithFile(mtime time.Time, dirt Dirt, hash []byte) *Tree {
	tree := NewTree(mtime)
	tree.Root.Children["f"] = NewFileNode(mtime, dirt, hash)
	return tree
}

func emptyTree() *Tree {
	return NewTree(time.Unix(0, 0))
}

func TestMergePlainOnlyModified(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtModified, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtNone, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: EncryptPlain, Path: "f"}}, ops)
}

func TestMergeEncOnlyModified(t *testing.T) {
	plain := treeWithFile(time.Unix(0, 0), DirtNone, nil)
	enc := treeWithFile(time.Unix(10, 0), DirtModified, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: DecryptEnc, Path: "f"}}, ops)
}

func TestMergePlainOnlyDeleted(t *testing.T) {
	plain := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtNone, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: DeleteEnc, Path: "f"}}, ops)
}

func TestMergeEncOnlyDeleted(t *testing.T) {
	plain := treeWithFile(time.Unix(0, 0), DirtNone, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: DeletePlain, Path: "f"}}, ops)
}

func TestMergeBothDeletedIsNoOp(t *testing.T) {
	plain := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)

	ops := Merge(plain, enc)

	require.Empty(t, ops)
}

func TestMergeBothCleanIsNoOp(t *testing.T) {
	plain := treeWithFile(time.Unix(0, 0), DirtNone, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtNone, nil)

	ops := Merge(plain, enc)

	require.Empty(t, ops)
}

// A straight Modified x Deleted asymmetry never lets the edit silently win:
// the policy is always keep-both, so the surviving side's work is preserved
// as a conflict copy before the deletion is mirrored. The conflict copy is
// named from the preserved node's own mtime, not from when the merge
// happens to run.
func TestMergeModifiedAgainstDeletionKeepsBothAndDeletes(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtModified, nil)
	enc := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)

	ops := Merge(plain, enc)
	require.Equal(t, []FileOp{
		newConflictCopy(ConflictCopyPlain, "f", time.Unix(10, 0)),
		{Kind: DeletePlain, Path: "f"},
	}, ops)

	plain2 := treeWithFile(time.Unix(0, 0), DirtDeleted, nil)
	enc2 := treeWithFile(time.Unix(10, 0), DirtModified, nil)

	ops2 := Merge(plain2, enc2)
	require.Equal(t, []FileOp{
		newConflictCopy(ConflictCopyEnc, "f", time.Unix(10, 0)),
		{Kind: DeleteEnc, Path: "f"},
	}, ops2)
}

func TestMergeConflictWithMatchingHashJustConverges(t *testing.T) {
	hash := []byte{1, 2, 3}
	plain := treeWithFile(time.Unix(10, 0), DirtModified, hash)
	enc := treeWithFile(time.Unix(20, 0), DirtModified, hash)

	ops := Merge(plain, enc)

	require.Empty(t, ops)
}

// A genuine Modified x Modified conflict always keeps both copies, but the
// live path converges onto ENC's content (ENC wins), not PLAIN's: PLAIN's
// divergent version is preserved as a conflict copy, named from PLAIN's own
// mtime, and then overwritten by a decrypt from ENC.
func TestMergeConflictWithDivergentHashEncWins(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtModified, []byte{1})
	enc := treeWithFile(time.Unix(20, 0), DirtModified, []byte{2})

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{
		newConflictCopy(ConflictCopyPlain, "f", time.Unix(10, 0)),
		{Kind: DecryptEnc, Path: "f"},
	}, ops)
}

func TestMergeConflictWithoutHashAlwaysKeepsPlainCopyThenDecrypts(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtModified, nil)
	enc := treeWithFile(time.Unix(20, 0), DirtModified, nil)

	ops := Merge(plain, enc)

	require.Len(t, ops, 2)
	require.Equal(t, ConflictCopyPlain, ops[0].Kind)
	require.Equal(t, DecryptEnc, ops[1].Kind)
}

// Both roots hold f1.txt / f1.txt.gpg modified, PLAIN mtime t1 (UNIX_EPOCH
// + 1s), ENC mtime t0 (UNIX_EPOCH). The conflict copy must be named from
// PLAIN's own mtime (t1), yielding conflict_1_f1.txt.
func TestMergeModModConflictCopyNamedFromPlainMtimeScenario3(t *testing.T) {
	t0 := time.Unix(0, 0)
	t1 := time.Unix(1, 0)

	plain := NewTree(t0)
	plain.Root.Children["f1.txt"] = NewFileNode(t1, DirtModified, nil)

	enc := NewTree(t0)
	enc.Root.Children["f1.txt"] = NewFileNode(t0, DirtModified, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{
		{Kind: ConflictCopyPlain, Path: "f1.txt", DestPath: "conflict_1_f1.txt"},
		{Kind: DecryptEnc, Path: "f1.txt"},
	}, ops)
}

func TestMergeIndependentNewFileOnPlainOnly(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtModified, nil)
	enc := emptyTree()

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: EncryptPlain, Path: "f"}}, ops)
}

func TestMergeIndependentNewFileOnEncOnly(t *testing.T) {
	plain := emptyTree()
	enc := treeWithFile(time.Unix(10, 0), DirtModified, nil)

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: DecryptEnc, Path: "f"}}, ops)
}

func TestMergeIndependentDeletedWithNoCounterpartIsNoOp(t *testing.T) {
	plain := treeWithFile(time.Unix(10, 0), DirtDeleted, nil)
	enc := emptyTree()

	ops := Merge(plain, enc)

	require.Empty(t, ops)
}

func TestMergeRecursesThroughPathDirtToFindTheRealChange(t *testing.T) {
	plain := NewTree(time.Unix(0, 0))
	plain.Write("dir/file", false, time.Unix(10, 0))
	plain.Get("dir").Dirt = DirtPath

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["dir"] = NewDirNode(time.Unix(0, 0), DirtNone, map[string]*TreeNode{
		"file": NewFileNode(time.Unix(0, 0), DirtNone, nil),
	})

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{{Kind: EncryptPlain, Path: "dir/file"}}, ops)
}

// A directory deleted on one side against a deep in-flight modification on
// the other preserves the modified leaf as a conflict copy named from the
// top of the deleted subtree, not from the leaf itself (see DESIGN.md),
// then deletes the whole subtree in one op. The conflict copy's timestamp
// comes from the preserved leaf's own mtime (here t0 = UNIX_EPOCH),
// yielding conflict_0_....
func TestMergeDirDeleteAgainstDeepModConflictCopiesFromSubtreeRoot(t *testing.T) {
	plain := NewTree(time.Unix(0, 0))
	plain.Root.Children["a"] = NewDirNode(time.Unix(0, 0), DirtDeleted, map[string]*TreeNode{
		"f1.txt.gpg": NewFileNode(time.Unix(0, 0), DirtDeleted, nil),
	})

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["a"] = NewDirNode(time.Unix(0, 0), DirtPath, map[string]*TreeNode{
		"f1.txt.gpg": NewFileNode(time.Unix(0, 0), DirtModified, nil),
	})

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{
		{Kind: ConflictCopyEnc, Path: "a/f1.txt.gpg", DestPath: "conflict_0_a/f1.txt.gpg"},
		{Kind: DeleteEnc, Path: "a"},
	}, ops)
}

// The conflict copy's timestamp tracks the preserved leaf's own mtime, not
// the mtime of the subtree root it's named from: a deep modification that is
// older or newer than the directory it lives under still gets its own
// timestamp.
func TestMergeDirDeleteAgainstDeepModUsesLeafMtimeNotRootMtime(t *testing.T) {
	plain := NewTree(time.Unix(0, 0))
	plain.Root.Children["a"] = NewDirNode(time.Unix(0, 0), DirtDeleted, map[string]*TreeNode{
		"f1.txt.gpg": NewFileNode(time.Unix(0, 0), DirtDeleted, nil),
	})

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["a"] = NewDirNode(time.Unix(5, 0), DirtPath, map[string]*TreeNode{
		"f1.txt.gpg": NewFileNode(time.Unix(42, 0), DirtModified, nil),
	})

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{
		{Kind: ConflictCopyEnc, Path: "a/f1.txt.gpg", DestPath: "conflict_42_a/f1.txt.gpg"},
		{Kind: DeleteEnc, Path: "a"},
	}, ops)
}

// On the very first cycle both trees are diffed from empty, so an
// already-synchronized pair of roots surfaces as Modified x Modified at
// every node. Directory pairs must recurse rather than conflict, and file
// pairs with matching hashes converge silently, leaving the whole initial
// merge a no-op.
func TestMergeInitialScanOfAlreadySyncedTreesIsANoOp(t *testing.T) {
	hash := []byte{7, 7, 7}
	plain := NewTree(time.Unix(0, 0))
	plain.Root.Children["a"] = NewDirNode(time.Unix(1, 0), DirtModified, map[string]*TreeNode{
		"f.txt": NewFileNode(time.Unix(2, 0), DirtModified, hash),
	})
	plain.Root.Dirt = DirtPath

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["a"] = NewDirNode(time.Unix(3, 0), DirtModified, map[string]*TreeNode{
		"f.txt": NewFileNode(time.Unix(4, 0), DirtModified, hash),
	})
	enc.Root.Dirt = DirtPath

	require.Empty(t, Merge(plain, enc))
}

// Two sides that independently added different children under a shared,
// pre-existing directory recurse and mirror each addition without any
// conflict copies: the directory pair itself is just a path to the real
// changes, not a conflict.
func TestMergeSiblingAddsUnderSharedDirRecurseWithoutConflict(t *testing.T) {
	plain := NewTree(time.Unix(0, 0))
	plain.Root.Children["a"] = NewDirNode(time.Unix(5, 0), DirtPath, map[string]*TreeNode{
		"f1.txt": NewFileNode(time.Unix(5, 0), DirtModified, nil),
	})
	plain.Root.Dirt = DirtPath

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["a"] = NewDirNode(time.Unix(6, 0), DirtPath, map[string]*TreeNode{
		"f2.txt": NewFileNode(time.Unix(6, 0), DirtModified, nil),
	})
	enc.Root.Dirt = DirtPath

	ops := Merge(plain, enc)

	require.Equal(t, []FileOp{
		{Kind: EncryptPlain, Path: "a/f1.txt"},
		{Kind: DecryptEnc, Path: "a/f2.txt"},
	}, ops)
}

func TestMergePanicsOnKindMismatch(t *testing.T) {
	plain := NewTree(time.Unix(0, 0))
	plain.Root.Children["x"] = NewFileNode(time.Unix(0, 0), DirtNone, nil)

	enc := NewTree(time.Unix(0, 0))
	enc.Root.Children["x"] = NewDirNode(time.Unix(0, 0), DirtNone, nil)

	require.Panics(t, func() {
		Merge(plain, enc)
	})
}

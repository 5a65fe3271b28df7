package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// HashFunc computes a content hash for the file at fsPath. The differ calls
// it opportunistically whenever a file's mtime indicates new or changed
// content; the merger later uses the hash, when both sides provide one in
// comparable terms (i.e. both over plaintext bytes), to elide a conflict
// copy when the two independently-modified sides actually agree (see
// DESIGN.md). A nil HashFunc disables hashing entirely,
// and the merger always falls back to producing a conflict copy.
type HashFunc func(fsPath string) ([]byte, error)

// DiffFilesystem walks the entire real directory tree rooted at rootPath and
// updates tree in place to reflect what it finds. It's used for the initial
// full sync, when both trees start out empty; every later cycle instead
// calls DiffPath once per path the path aggregator yields, since a full
// rescan of an unbounded tree on every watcher wakeup would defeat the
// point of aggregating paths in the first place.
func DiffFilesystem(tree *Tree, rootPath string, isEncRoot bool, hash HashFunc) error {
	info, err := os.Stat(rootPath)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", rootPath)
	}
	return diffWalk(tree, tree.Root, rootPath, "", isEncRoot, hash)
}

// DiffPath re-diffs a single root-relative path (and everything beneath it,
// if it turns out to be a directory) against the filesystem, updating tree
// in place. It handles all four presence combinations: the path may be new,
// removed, changed in kind, or simply changed in content/mtime.
//
// isEncRoot and the treePath convention (normalized, .gpg-suffix-free keys)
// are as in DiffFilesystem.
func DiffPath(tree *Tree, rootPath, treePath string, isEncRoot bool, hash HashFunc) error {
	if treePath == "" {
		return DiffFilesystem(tree, rootPath, isEncRoot, hash)
	}

	existing := tree.Get(treePath)
	fsPath, err := fsPathForTreePath(rootPath, treePath, existing, isEncRoot)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(fsPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			if existing != nil {
				tree.MarkDeleted(treePath, existing.Mtime)
			}
			return nil
		}
		return fmt.Errorf("stat %s: %w", fsPath, statErr)
	}

	isDir := info.IsDir()
	mtime := info.ModTime()

	switch {
	case existing == nil:
		tree.Write(treePath, isDir, mtime)
	case existing.IsDir() != isDir:
		tree.MarkDeleted(treePath, mtime)
		tree.Write(treePath, isDir, mtime)
	case isDir:
		// Record the new mtime without tagging the directory Modified; the
		// walk below finds the entry-level changes that moved it.
		existing.Mtime = mtime
	default:
		if !mtime.Equal(existing.Mtime) {
			tree.Write(treePath, false, mtime)
		} else {
			return nil
		}
	}

	node := tree.Get(treePath)
	if isDir {
		return diffWalk(tree, node, fsPath, treePath, isEncRoot, hash)
	}
	return recordHash(tree, treePath, fsPath, hash)
}

// fsPathForTreePath computes the on-disk path for a normalized tree key.
// Directories never carry the .gpg suffix; files on the encrypted root do.
// When the path is absent from the tree (a brand-new path), and we're on
// the encrypted root, we don't yet know whether it names a file or a
// directory, so we try the file form (with suffix) first and fall back to
// the bare form.
func fsPathForTreePath(rootPath, treePath string, existing *TreeNode, isEncRoot bool) (string, error) {
	base := filepath.Join(rootPath, filepath.FromSlash(treePath))
	if !isEncRoot {
		return base, nil
	}
	if existing != nil {
		if existing.IsDir() {
			return base, nil
		}
		return base + gpgSuffix, nil
	}
	if _, err := os.Stat(base + gpgSuffix); err == nil {
		return base + gpgSuffix, nil
	}
	return base, nil
}

func diffWalk(tree *Tree, node *TreeNode, fsPath, treePath string, isEncRoot bool, hash HashFunc) error {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", fsPath, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if IsHidden(name) {
			continue
		}

		isDir := entry.IsDir()
		key := name
		if isEncRoot && !isDir {
			if !HasGPGSuffix(name) {
				continue
			}
			key = RemoveGPGSuffix(name)
		}
		// Two on-disk entries collapsing to one key (a directory X next to
		// a file X.gpg) make the encrypted root unrepresentable: there is
		// no way to tell which one a tree node mirrors.
		if seen[key] {
			panic(fmt.Sprintf("scan: encrypted entry %q collides with an earlier entry on key %q", name, key))
		}
		seen[key] = true

		childFsPath := filepath.Join(fsPath, name)
		childTreePath := pathJoin(treePath, key)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", childFsPath, err)
		}
		mtime := info.ModTime()

		existing := node.Children[key]
		switch {
		case existing == nil:
			tree.Write(childTreePath, isDir, mtime)
			if err := diffRecordOrRecurse(tree, childFsPath, childTreePath, isDir, isEncRoot, hash); err != nil {
				return err
			}
		case existing.IsDir() != isDir:
			tree.MarkDeleted(childTreePath, mtime)
			tree.Write(childTreePath, isDir, mtime)
			if err := diffRecordOrRecurse(tree, childFsPath, childTreePath, isDir, isEncRoot, hash); err != nil {
				return err
			}
		case isDir:
			// A directory's mtime moves whenever an entry inside it is
			// created, removed, or renamed; the recursion below discovers
			// those entry-level changes individually. Only the new mtime is
			// recorded here: tagging the directory itself Modified would
			// make the merger treat the whole subtree as conflicting
			// content whenever both sides gained unrelated children.
			existing.Mtime = mtime
			if err := diffWalk(tree, existing, childFsPath, childTreePath, isEncRoot, hash); err != nil {
				return err
			}
		default:
			if !mtime.Equal(existing.Mtime) {
				tree.Write(childTreePath, false, mtime)
				if err := recordHash(tree, childTreePath, childFsPath, hash); err != nil {
					return err
				}
			}
		}
	}

	for name, child := range node.Children {
		if seen[name] {
			continue
		}
		tree.MarkDeleted(pathJoin(treePath, name), child.Mtime)
	}

	return nil
}

// diffRecordOrRecurse handles the bookkeeping for a path just created in the
// tree: directories get walked immediately to pick up their contents, files
// get their hash recorded.
func diffRecordOrRecurse(tree *Tree, fsPath, treePath string, isDir, isEncRoot bool, hash HashFunc) error {
	if isDir {
		return diffWalk(tree, tree.Get(treePath), fsPath, treePath, isEncRoot, hash)
	}
	return recordHash(tree, treePath, fsPath, hash)
}

func recordHash(tree *Tree, treePath, fsPath string, hash HashFunc) error {
	if hash == nil {
		return nil
	}
	sum, err := hash(fsPath)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", fsPath, err)
	}
	tree.Get(treePath).Hash = sum
	return nil
}

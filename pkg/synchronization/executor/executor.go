// Package executor carries out the FileOps the merger decides on, reading
// and writing the real plaintext and encrypted roots. It never mutates
// either in-memory Tree; that's core.ApplyOps's job once execution
// succeeds.
package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gpgsync-dev/gpgsync/pkg/crypto"
	"github.com/gpgsync-dev/gpgsync/pkg/synchronization/core"
)

// Execute carries out ops in order against plainRoot and encRoot, consulting
// plain and enc for the kind (file or directory) and structure of whichever
// side an op concerns. plain and enc must still hold the pre-prune state
// that produced ops: Delete ops look up their node on the side that
// triggered the deletion, which is only present there until the engine's
// subsequent Tree.PruneDeleted call.
func Execute(ops []core.FileOp, plain, enc *core.Tree, plainRoot, encRoot string, passphrase []byte) error {
	for _, op := range ops {
		if filepath.IsAbs(op.Path) || filepath.IsAbs(op.DestPath) {
			panic(fmt.Sprintf("executor: op %s carries a non-relative path", op.Kind))
		}
		if err := executeOne(op, plain, enc, plainRoot, encRoot, passphrase); err != nil {
			return fmt.Errorf("executing %s %s: %w", op.Kind, op.Path, err)
		}
	}
	return nil
}

func executeOne(op core.FileOp, plain, enc *core.Tree, plainRoot, encRoot string, passphrase []byte) error {
	switch op.Kind {
	case core.EncryptPlain:
		node := plain.Get(op.Path)
		if node == nil {
			return fmt.Errorf("plain node missing")
		}
		return encryptSubtree(node, plainRoot, encRoot, op.Path, passphrase)
	case core.DecryptEnc:
		node := enc.Get(op.Path)
		if node == nil {
			return fmt.Errorf("encrypted node missing")
		}
		return decryptSubtree(node, plainRoot, encRoot, op.Path, passphrase)
	case core.DeleteEnc:
		node := plain.Get(op.Path)
		if node == nil {
			return fmt.Errorf("plain node missing")
		}
		err := deleteSubtreeFS(node, encRoot, op.Path, true)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case core.DeletePlain:
		node := enc.Get(op.Path)
		if node == nil {
			return fmt.Errorf("encrypted node missing")
		}
		err := deleteSubtreeFS(node, plainRoot, op.Path, false)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case core.ConflictCopyPlain:
		node := plain.Get(op.Path)
		if node == nil {
			return fmt.Errorf("plain node missing")
		}
		return copySubtreeFS(node, plainRoot, plainRoot, op.Path, op.DestPath, false)
	case core.ConflictCopyEnc:
		node := enc.Get(op.Path)
		if node == nil {
			return fmt.Errorf("encrypted node missing")
		}
		return copySubtreeFS(node, encRoot, encRoot, op.Path, op.DestPath, true)
	default:
		return fmt.Errorf("unknown op kind %v", op.Kind)
	}
}

// pathJoinFS joins a root-relative tree path and a leaf name with a slash,
// the same convention core's tree paths use; it is independent of the
// operating system's path separator, which filepath.FromSlash resolves at
// the point a path is actually handed to the os/filepath APIs.
func pathJoinFS(base, leaf string) string {
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

func encryptSubtree(node *core.TreeNode, plainRoot, encRoot, relPath string, passphrase []byte) error {
	encPath := filepath.Join(encRoot, filepath.FromSlash(relPath))
	if node.IsDir() {
		if err := os.MkdirAll(encPath, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		for name, child := range node.Children {
			if err := encryptSubtree(child, plainRoot, encRoot, pathJoinFS(relPath, name), passphrase); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(encPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	plainPath := filepath.Join(plainRoot, filepath.FromSlash(relPath))
	return crypto.Encrypt(plainPath, core.AddGPGSuffix(encPath), passphrase)
}

func decryptSubtree(node *core.TreeNode, plainRoot, encRoot, relPath string, passphrase []byte) error {
	plainPath := filepath.Join(plainRoot, filepath.FromSlash(relPath))
	if node.IsDir() {
		if err := os.MkdirAll(plainPath, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		for name, child := range node.Children {
			if err := decryptSubtree(child, plainRoot, encRoot, pathJoinFS(relPath, name), passphrase); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(plainPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	encPath := filepath.Join(encRoot, filepath.FromSlash(relPath))
	return crypto.Decrypt(core.AddGPGSuffix(encPath), plainPath, passphrase)
}

func deleteSubtreeFS(node *core.TreeNode, root, relPath string, isEncRoot bool) error {
	p := filepath.Join(root, filepath.FromSlash(relPath))
	if node.IsDir() {
		return os.RemoveAll(p)
	}
	if isEncRoot {
		p = core.AddGPGSuffix(p)
	}
	return os.Remove(p)
}

func copySubtreeFS(node *core.TreeNode, srcRoot, dstRoot, srcRel, dstRel string, isEncRoot bool) error {
	if node.IsDir() {
		dstPath := filepath.Join(dstRoot, filepath.FromSlash(dstRel))
		if err := os.MkdirAll(dstPath, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		for name, child := range node.Children {
			if err := copySubtreeFS(child, srcRoot, dstRoot, pathJoinFS(srcRel, name), pathJoinFS(dstRel, name), isEncRoot); err != nil {
				return err
			}
		}
		return nil
	}

	srcPath := filepath.Join(srcRoot, filepath.FromSlash(srcRel))
	dstPath := filepath.Join(dstRoot, filepath.FromSlash(dstRel))
	if isEncRoot {
		srcPath = core.AddGPGSuffix(srcPath)
		dstPath = core.AddGPGSuffix(dstPath)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	return copyFile(srcPath, dstPath)
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	return nil
}

package core

// Dirt marks why a TreeNode differs from the state the trees were last
// cleaned to. A node with no dirt is considered unchanged since the last
// successful cycle.
type Dirt uint8

const (
	// DirtNone indicates that a node carries no dirt.
	DirtNone Dirt = iota
	// DirtPath indicates that the node itself is unchanged but lies on the
	// path to a descendant that carries some dirt.
	DirtPath
	// DirtModified indicates that the node was created, or that its mtime
	// changed, since the tree was last cleaned.
	DirtModified
	// DirtDeleted indicates that the node (and, transitively, everything
	// beneath it) no longer exists on the filesystem.
	DirtDeleted
)

// String renders the dirt tag for logging and test failure messages.
func (d Dirt) String() string {
	switch d {
	case DirtNone:
		return "none"
	case DirtPath:
		return "path"
	case DirtModified:
		return "modified"
	case DirtDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

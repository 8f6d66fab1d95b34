package btree

import "github.com/lattice-db/btreekv/storage"

// loadedNode is a scoped acquisition of a node's byte view: every call
// to t.load must be matched by exactly one of release (the common case)
// or free (the merge path, which consumes the node instead of merely
// releasing it) on every exit path, per the allocator's load/unload
// contract.
type loadedNode struct {
	tree  *Tree
	id    storage.NodeID
	view  node
	raw   []byte
	freed bool
}

func (t *Tree) load(id storage.NodeID, interior bool) (*loadedNode, error) {
	raw, err := t.alloc.Load(id)
	if err != nil {
		return nil, err
	}
	return &loadedNode{tree: t, id: id, raw: raw, view: newNodeView(raw, t.keySize, t.valSize, interior)}, nil
}

// release unloads the node. Safe to call after free (no-op then).
func (ln *loadedNode) release() {
	if ln.freed {
		return
	}
	ln.tree.alloc.Unload(ln.raw)
}

// free unloads and returns the node to the allocator, then marks this
// loadedNode consumed so a deferred release is a no-op. This is the one
// path (merge absorbing a sibling) where Unload and Free happen
// together instead of Unload alone.
func (ln *loadedNode) free() error {
	ln.tree.alloc.Unload(ln.raw)
	ln.freed = true
	return ln.tree.alloc.Free(ln.id)
}

// effectiveRoot resolves the node a descent should actually start from:
// the root node embedded in the tree's header page, unless it is a
// pass-through (zero keys, one child), in which case the real root is
// that child. It returns the starting node id, whether it is embedded
// in the header page itself (vs. a separate page owned by the
// allocator), and its depth (edges remaining to a leaf).
type rootStart struct {
	id       storage.NodeID
	embedded bool
	depth    int
}

func (t *Tree) effectiveRoot(h treeHeader) (rootStart, error) {
	height := h.height()
	if height == emptyHeight {
		return rootStart{}, errEmptyTree
	}
	root := h.root(t.keySize, t.valSize, height > 0)
	if height > 0 && root.numKeys() == 0 {
		return rootStart{id: root.childID(0), embedded: false, depth: height - 1}, nil
	}
	return rootStart{id: t.rootID, embedded: true, depth: height}, nil
}

var errEmptyTree = &emptyTreeError{}

type emptyTreeError struct{}

func (*emptyTreeError) Error() string { return "btree: tree is empty" }

// Package btree implements an in-place, ordered key→value B-tree over a
// pluggable storage.Allocator. The allocator may keep nodes in heap
// memory or page them through a file; the tree algorithm — search,
// insert with split, remove with rebalance/merge — is identical either
// way.
//
// Keys and values are fixed-size byte strings, their lengths fixed for
// the lifetime of a tree and recorded in its header. Ordering is
// defined by a caller-supplied Comparator, a strict total order over
// key bytes.
package btree

import (
	"fmt"

	"github.com/lattice-db/btreekv/storage"
)

const emptyHeight = -1

// Tree is an ordered key→value map realized as a B-tree. It is not
// safe for concurrent mutation: the source's concurrency model allows
// independent trees over a shared RAM allocator to run on separate
// goroutines, but two mutations on trees sharing one allocator (in
// particular, a file allocator) must never run concurrently.
type Tree struct {
	alloc    storage.Allocator
	rootID   storage.NodeID
	cmp      Comparator
	keySize  int
	valSize  int
	pairSize int

	udView []byte // full root page, stashed between LoadUserdata and UnloadUserdata
}

// Create allocates a fresh root page from alloc and initializes an
// empty tree over it. userdataSize bytes are reserved alongside the
// tree header for caller use (see LoadUserdata). cmp may be nil, in
// which case DefaultComparator (lexicographic byte order) is used.
func Create(alloc storage.Allocator, keySize, valSize int, cmp Comparator, userdataSize int) (*Tree, error) {
	id, err := alloc.New()
	if err != nil {
		return nil, err
	}
	return Bootstrap(alloc, id, keySize, valSize, cmp, userdataSize)
}

// Bootstrap initializes a fresh, empty tree header and root node inside
// an already-reserved page. Most callers want Create; Bootstrap exists
// for allocators (the file allocator's inner free-page tree) that need
// to pin a tree to a specific, pre-existing node identifier instead of
// drawing a fresh one through Allocator.New.
func Bootstrap(alloc storage.Allocator, id storage.NodeID, keySize, valSize int, cmp Comparator, userdataSize int) (*Tree, error) {
	if cmp == nil {
		cmp = DefaultComparator
	}
	pairSize := keySize + valSize

	view, err := alloc.Load(id)
	if err != nil {
		return nil, err
	}
	defer alloc.Unload(view)

	h := treeHeader{data: view}
	h.setKeySize(keySize)
	h.setValSize(valSize)
	h.setHeight(emptyHeight)
	h.setUserdataLen(userdataSize)
	h.setRootOffset(treeHeaderSize + userdataSize)

	regularCap := alloc.NodeSize()
	maxLeaf := computeMaxKeys(regularCap, pairSize, false)
	maxInterior := computeMaxKeys(regularCap, pairSize, true)
	if maxLeaf < 1 || maxInterior < 1 {
		return nil, fmt.Errorf("btree: node size %d too small for key=%d val=%d", alloc.NodeSize(), keySize, valSize)
	}
	h.setMaxLeafKeys(maxLeaf)
	h.setMaxInteriorKeys(maxInterior)

	// The root's max_keys is fixed for the tree's lifetime and computed
	// using the (more conservative) interior formula, even though the
	// root starts out as a leaf: a pass-through or a regular split can
	// later turn it into an interior node in place, and at that point
	// there is no opportunity to grow the page to make room for child
	// identifiers it didn't originally reserve.
	rootCap := h.rootCapacityBytes()
	rootMaxKeys := computeMaxKeys(rootCap, pairSize, true)
	if rootMaxKeys < 1 {
		return nil, fmt.Errorf("btree: page too small to host root + %d bytes of userdata", userdataSize)
	}
	root := h.root(keySize, valSize, false)
	root.initEmpty(rootMaxKeys)

	return &Tree{alloc: alloc, rootID: id, cmp: cmp, keySize: keySize, valSize: valSize, pairSize: pairSize}, nil
}

// Open reattaches to a tree whose header already lives in node id
// (created by a prior Create/Bootstrap, possibly in a previous process).
func Open(alloc storage.Allocator, id storage.NodeID, cmp Comparator) (*Tree, error) {
	if cmp == nil {
		cmp = DefaultComparator
	}
	view, err := alloc.Load(id)
	if err != nil {
		return nil, err
	}
	defer alloc.Unload(view)

	h := treeHeader{data: view}
	return &Tree{
		alloc:    alloc,
		rootID:   id,
		cmp:      cmp,
		keySize:  h.keySize(),
		valSize:  h.valSize(),
		pairSize: h.keySize() + h.valSize(),
	}, nil
}

// RootID is the node identifier of this tree's root page, stable for
// the tree's lifetime. It is the id to pass to Open to reattach to this
// tree later.
func (t *Tree) RootID() storage.NodeID { return t.rootID }

func (t *Tree) withHeader(fn func(h treeHeader) error) error {
	view, err := t.alloc.Load(t.rootID)
	if err != nil {
		return err
	}
	defer t.alloc.Unload(view)
	return fn(treeHeader{data: view})
}

// IsEmpty reports whether the tree holds zero pairs.
func (t *Tree) IsEmpty() (bool, error) {
	empty := false
	err := t.withHeader(func(h treeHeader) error {
		empty = h.height() == emptyHeight
		return nil
	})
	return empty, err
}

// LoadUserdata returns a mutable view over the tree's userdata region.
// It must be paired with UnloadUserdata on every exit path, and calls
// must not nest: at most one userdata view may be outstanding at a time
// (the root page itself is held loaded in between).
func (t *Tree) LoadUserdata() ([]byte, error) {
	view, err := t.alloc.Load(t.rootID)
	if err != nil {
		return nil, err
	}
	t.udView = view
	h := treeHeader{data: view}
	return h.userdata(), nil
}

// UnloadUserdata releases the view obtained from LoadUserdata. The
// argument is accepted for symmetry with the Load/Unload pattern used
// elsewhere but is not itself what gets released: allocators that back
// views with a real resource (the file allocator's mmap) need the
// full page slice originally returned by Load, not a narrowed
// sub-slice of it, so Tree stashes that internally.
func (t *Tree) UnloadUserdata(_ []byte) {
	t.alloc.Unload(t.udView)
	t.udView = nil
}

// Delete frees every page owned by the tree, including the root. The
// Tree must not be used afterward.
func (t *Tree) Delete() error {
	err := t.withHeader(func(h treeHeader) error {
		height := h.height()
		if height == emptyHeight {
			return nil
		}
		root := h.root(t.keySize, t.valSize, height > 0)
		if height > 0 && root.numKeys() == 0 {
			// Pass-through: the one real child is a separate page.
			child := root.childID(0)
			if err := t.deleteSubtree(child, height-1); err != nil {
				return err
			}
			return t.alloc.Free(child)
		}
		if height == 0 {
			return nil // leaf root: nothing beyond the header page itself
		}
		numChildren := root.numKeys() + 1
		for i := 0; i < numChildren; i++ {
			c := root.childID(i)
			if err := t.deleteSubtree(c, height-1); err != nil {
				return err
			}
			if err := t.alloc.Free(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.alloc.Free(t.rootID)
}

// deleteSubtree frees every descendant of the node at id (depth edges
// below it) but not id itself — the caller owns and frees id.
func (t *Tree) deleteSubtree(id storage.NodeID, depth int) error {
	if depth == 0 {
		return nil
	}
	ln, err := t.load(id, true)
	if err != nil {
		return err
	}
	n := ln.view
	numChildren := n.numKeys() + 1
	children := make([]storage.NodeID, numChildren)
	for i := 0; i < numChildren; i++ {
		children[i] = n.childID(i)
	}
	ln.release()
	for _, c := range children {
		if err := t.deleteSubtree(c, depth-1); err != nil {
			return err
		}
		if err := t.alloc.Free(c); err != nil {
			return err
		}
	}
	return nil
}

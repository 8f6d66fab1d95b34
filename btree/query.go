package btree

import "github.com/lattice-db/btreekv/storage"

// Contains reports whether key is present in the tree.
func (t *Tree) Contains(key []byte) (bool, error) {
	found := false
	err := t.withHeader(func(h treeHeader) error {
		start, err := t.effectiveRoot(h)
		if err == errEmptyTree {
			return nil
		}
		if err != nil {
			return err
		}
		if start.embedded {
			f, err := t.searchNode(h.root(t.keySize, t.valSize, start.depth > 0), start.depth, key, nil)
			found = f
			return err
		}
		f, err := t.searchSeparate(start.id, start.depth, key, nil)
		found = f
		return err
	})
	return found, err
}

// Get looks up key and, if found, copies its value into valueOut
// (which must be at least the tree's value size) and returns true.
func (t *Tree) Get(key []byte, valueOut []byte) (bool, error) {
	found := false
	err := t.withHeader(func(h treeHeader) error {
		start, err := t.effectiveRoot(h)
		if err == errEmptyTree {
			return nil
		}
		if err != nil {
			return err
		}
		if start.embedded {
			f, err := t.searchNode(h.root(t.keySize, t.valSize, start.depth > 0), start.depth, key, valueOut)
			found = f
			return err
		}
		f, err := t.searchSeparate(start.id, start.depth, key, valueOut)
		found = f
		return err
	})
	return found, err
}

// searchNode descends from an already-loaded node view. valueOut, if
// non-nil, receives the found value's bytes.
func (t *Tree) searchNode(n node, depth int, key []byte, valueOut []byte) (bool, error) {
	res := n.findSlot(key, t.cmp)
	if res.found() {
		if valueOut != nil {
			copy(valueOut, n.val(res.index()))
		}
		return true, nil
	}
	if depth == 0 {
		return false, nil
	}
	child := n.childID(res.index())
	return t.searchSeparate(child, depth-1, key, valueOut)
}

func (t *Tree) searchSeparate(id storage.NodeID, depth int, key []byte, valueOut []byte) (bool, error) {
	ln, err := t.load(id, depth > 0)
	if err != nil {
		return false, err
	}
	defer ln.release()
	return t.searchNode(ln.view, depth, key, valueOut)
}

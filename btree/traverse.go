package btree

import "github.com/lattice-db/btreekv/storage"

// Predicate is invoked once per key during a Traverse, with a mutable
// view over the stored value (edits are written back to the node
// in-place) and the caller-supplied context untouched by the tree.
// Returning true aborts the walk.
type Predicate func(key, val []byte, ctx interface{}) bool

// Traverse walks the tree in ascending comparator order, or descending
// if reverse is true, invoking predicate for each pair until it either
// returns true or the walk is exhausted. It reports whether the walk
// was aborted early.
func (t *Tree) Traverse(predicate Predicate, ctx interface{}, reverse bool) (bool, error) {
	aborted := false
	err := t.withHeader(func(h treeHeader) error {
		start, err := t.effectiveRoot(h)
		if err == errEmptyTree {
			return nil
		}
		if err != nil {
			return err
		}
		if start.embedded {
			a, err := t.walkNode(h.root(t.keySize, t.valSize, start.depth > 0), start.depth, predicate, ctx, reverse)
			aborted = a
			return err
		}
		a, err := t.walkSeparate(start.id, start.depth, predicate, ctx, reverse)
		aborted = a
		return err
	})
	return aborted, err
}

func (t *Tree) walkNode(n node, depth int, predicate Predicate, ctx interface{}, reverse bool) (bool, error) {
	num := n.numKeys()
	if !reverse {
		for i := 0; i < num; i++ {
			if depth > 0 {
				aborted, err := t.walkSeparate(n.childID(i), depth-1, predicate, ctx, reverse)
				if aborted || err != nil {
					return aborted, err
				}
			}
			if predicate(n.key(i), n.val(i), ctx) {
				return true, nil
			}
		}
		if depth > 0 {
			return t.walkSeparate(n.childID(num), depth-1, predicate, ctx, reverse)
		}
		return false, nil
	}

	for i := num - 1; i >= 0; i-- {
		if depth > 0 {
			aborted, err := t.walkSeparate(n.childID(i+1), depth-1, predicate, ctx, reverse)
			if aborted || err != nil {
				return aborted, err
			}
		}
		if predicate(n.key(i), n.val(i), ctx) {
			return true, nil
		}
	}
	if depth > 0 {
		return t.walkSeparate(n.childID(0), depth-1, predicate, ctx, reverse)
	}
	return false, nil
}

func (t *Tree) walkSeparate(id storage.NodeID, depth int, predicate Predicate, ctx interface{}, reverse bool) (bool, error) {
	ln, err := t.load(id, depth > 0)
	if err != nil {
		return false, err
	}
	defer ln.release()
	return t.walkNode(ln.view, depth, predicate, ctx, reverse)
}

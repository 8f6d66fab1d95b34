package btree

import "github.com/lattice-db/btreekv/storage"

// Remove deletes key from the tree. If present and valueOut is
// non-nil, the removed value is copied into it before the tree is
// mutated. It reports whether the key was present.
func (t *Tree) Remove(key, valueOut []byte) (bool, error) {
	found := false
	err := t.withHeader(func(h treeHeader) error {
		height := h.height()
		if height == emptyHeight {
			return nil
		}
		root := h.root(t.keySize, t.valSize, height > 0)

		var f bool
		var rerr error
		if height > 0 && root.numKeys() == 0 {
			// Pass-through: removal must start at the real root, never at
			// the zero-key page itself (it has no siblings to rebalance
			// against).
			childID := root.childID(0)
			ln, lerr := t.load(childID, height-1 > 0)
			if lerr != nil {
				return lerr
			}
			f, rerr = t.removeAt(ln.view, height-1, key, valueOut)
			ln.release()
		} else {
			f, rerr = t.removeAt(root, height, key, valueOut)
		}
		if rerr != nil {
			return rerr
		}
		found = f
		if !found {
			return nil
		}
		if height == 0 {
			if root.numKeys() == 0 {
				h.setHeight(emptyHeight)
			}
			return nil
		}
		return t.maybeCollapseRoot(h, root, height)
	})
	return found, err
}

// removeAt removes key from the subtree rooted at the already-loaded
// node n (depth edges above a leaf). Any child that underflows as a
// result is rebalanced (borrow or merge) before this call returns, so a
// caller need only check n.underflowing() itself afterward.
func (t *Tree) removeAt(n node, depth int, key, valueOut []byte) (bool, error) {
	res := n.findSlot(key, t.cmp)

	if depth == 0 {
		if !res.found() {
			return false, nil
		}
		idx := res.index()
		if valueOut != nil {
			copy(valueOut, n.val(idx))
		}
		n.shiftPairsLeft(idx)
		n.setNumKeys(n.numKeys() - 1)
		return true, nil
	}

	if res.found() {
		return true, t.removeInteriorKey(n, depth, res.index(), valueOut)
	}

	gap := res.index()
	childID := n.childID(gap)
	ln, err := t.load(childID, depth-1 > 0)
	if err != nil {
		return false, err
	}
	found, err := t.removeAt(ln.view, depth-1, key, valueOut)
	if err != nil {
		ln.release()
		return false, err
	}
	if !found {
		ln.release()
		return false, nil
	}
	if ln.view.underflowing() {
		return true, t.rebalanceChild(n, gap, ln)
	}
	ln.release()
	return true, nil
}

// removeInteriorKey replaces the pair at index idx (found in n, an
// interior node) with an in-order neighbor, then removes that neighbor
// from whichever child it came from (spec §4.7's successor/predecessor
// policy: take the right subtree's smallest key when it has strictly
// more keys than the left, otherwise the left subtree's largest).
func (t *Tree) removeInteriorKey(n node, depth, idx int, valueOut []byte) error {
	if valueOut != nil {
		copy(valueOut, n.val(idx))
	}

	leftID, rightID := n.childID(idx), n.childID(idx+1)
	childInterior := depth-1 > 0
	leftCount, err := t.nodeKeyCount(leftID, childInterior)
	if err != nil {
		return err
	}
	rightCount, err := t.nodeKeyCount(rightID, childInterior)
	if err != nil {
		return err
	}

	var neighKey, neighVal []byte
	var chosenIdx int
	if rightCount > leftCount {
		neighKey, neighVal, err = t.minKV(rightID, depth-1)
		chosenIdx = idx + 1
	} else {
		neighKey, neighVal, err = t.maxKV(leftID, depth-1)
		chosenIdx = idx
	}
	if err != nil {
		return err
	}

	n.setKey(idx, neighKey)
	n.setVal(idx, neighVal)

	childID := n.childID(chosenIdx)
	ln, err := t.load(childID, childInterior)
	if err != nil {
		return err
	}
	if _, err := t.removeAt(ln.view, depth-1, neighKey, nil); err != nil {
		ln.release()
		return err
	}
	if ln.view.underflowing() {
		return t.rebalanceChild(n, chosenIdx, ln)
	}
	ln.release()
	return nil
}

func (t *Tree) nodeKeyCount(id storage.NodeID, interior bool) (int, error) {
	ln, err := t.load(id, interior)
	if err != nil {
		return 0, err
	}
	n := ln.view.numKeys()
	ln.release()
	return n, nil
}

// minKV returns (copies of) the smallest key/value under the subtree
// rooted at id, depth edges above a leaf.
func (t *Tree) minKV(id storage.NodeID, depth int) (key, val []byte, err error) {
	ln, err := t.load(id, depth > 0)
	if err != nil {
		return nil, nil, err
	}
	defer ln.release()
	if depth == 0 {
		return append([]byte(nil), ln.view.key(0)...), append([]byte(nil), ln.view.val(0)...), nil
	}
	return t.minKV(ln.view.childID(0), depth-1)
}

// maxKV returns (copies of) the largest key/value under the subtree
// rooted at id, depth edges above a leaf.
func (t *Tree) maxKV(id storage.NodeID, depth int) (key, val []byte, err error) {
	ln, err := t.load(id, depth > 0)
	if err != nil {
		return nil, nil, err
	}
	defer ln.release()
	if depth == 0 {
		idx := ln.view.numKeys() - 1
		return append([]byte(nil), ln.view.key(idx)...), append([]byte(nil), ln.view.val(idx)...), nil
	}
	last := ln.view.childID(ln.view.numKeys())
	return t.maxKV(last, depth-1)
}

// rebalanceChild restores the min_keys invariant for the under-flowing
// child at parent.childID(childIdx), which is still loaded as child.
// It consumes child: on every path child is either released (borrow)
// or freed (merge).
func (t *Tree) rebalanceChild(parent node, childIdx int, child *loadedNode) error {
	interior := child.view.interior
	hasLeft := childIdx > 0
	hasRight := childIdx < parent.numKeys()

	if hasLeft {
		leftID := parent.childID(childIdx - 1)
		leftLn, err := t.load(leftID, interior)
		if err != nil {
			child.release()
			return err
		}
		if leftLn.view.numKeys() > leftLn.view.minKeys() {
			borrowFromLeft(parent, childIdx, leftLn.view, child.view)
			leftLn.release()
			child.release()
			return nil
		}
		leftLn.release()
	}

	if hasRight {
		rightID := parent.childID(childIdx + 1)
		rightLn, err := t.load(rightID, interior)
		if err != nil {
			child.release()
			return err
		}
		if rightLn.view.numKeys() > rightLn.view.minKeys() {
			borrowFromRight(parent, childIdx, child.view, rightLn.view)
			rightLn.release()
			child.release()
			return nil
		}
		rightLn.release()
	}

	// Neither sibling can lend a key: merge, preferring the left sibling.
	if hasLeft {
		leftID := parent.childID(childIdx - 1)
		leftLn, err := t.load(leftID, interior)
		if err != nil {
			child.release()
			return err
		}
		mergeNodes(parent, childIdx-1, leftLn.view, child.view)
		leftLn.release()
		if err := child.free(); err != nil {
			return err
		}
		removeParentKeyChild(parent, childIdx-1)
		return nil
	}

	rightID := parent.childID(childIdx + 1)
	rightLn, err := t.load(rightID, interior)
	if err != nil {
		child.release()
		return err
	}
	mergeNodes(parent, childIdx, child.view, rightLn.view)
	child.release()
	if err := rightLn.free(); err != nil {
		return err
	}
	removeParentKeyChild(parent, childIdx)
	return nil
}

// borrowFromLeft rotates one pair through the parent: the separator at
// childIdx-1 moves down into child's new first slot, left's last pair
// becomes the new separator, and (for interior nodes) left's last child
// becomes child's new first child.
func borrowFromLeft(parent node, childIdx int, left, child node) {
	child.shiftPairsRight(0)
	if child.interior {
		child.shiftChildrenRight(0)
	}

	sep := childIdx - 1
	child.setKey(0, parent.key(sep))
	child.setVal(0, parent.val(sep))

	lastLeft := left.numKeys() - 1
	if child.interior {
		child.setChildID(0, left.childID(lastLeft+1))
	}
	parent.setKey(sep, left.key(lastLeft))
	parent.setVal(sep, left.val(lastLeft))

	left.setNumKeys(lastLeft)
	child.setNumKeys(child.numKeys() + 1)
}

// borrowFromRight is the mirror of borrowFromLeft: the separator at
// childIdx moves down into child's new last slot, right's first pair
// becomes the new separator, and right's first child (if any) becomes
// child's new last child.
func borrowFromRight(parent node, childIdx int, child, right node) {
	sep := childIdx
	newIdx := child.numKeys()
	child.setKey(newIdx, parent.key(sep))
	child.setVal(newIdx, parent.val(sep))
	if child.interior {
		child.setChildID(newIdx+1, right.childID(0))
	}

	parent.setKey(sep, right.key(0))
	parent.setVal(sep, right.val(0))

	right.shiftPairsLeft(0)
	if right.interior {
		right.shiftChildrenLeft(0)
	}
	right.setNumKeys(right.numKeys() - 1)
	child.setNumKeys(newIdx + 1)
}

// mergeNodes appends parent's separator pair and all of right's
// contents onto left. The caller frees right and removes the separator
// from parent afterward.
func mergeNodes(parent node, sepIdx int, left, right node) {
	n := left.numKeys()
	left.setKey(n, parent.key(sepIdx))
	left.setVal(n, parent.val(sepIdx))

	rn := right.numKeys()
	left.copyPairRange(right, 0, n+1, rn)
	if left.interior {
		left.setChildID(n+1, right.childID(0))
		left.copyChildRange(right, 1, n+2, rn)
	}
	left.setNumKeys(n + 1 + rn)
}

// removeParentKeyChild removes parent's separator pair at sepIdx and
// the child pointer at sepIdx+1 (the sibling that a merge just absorbed
// into its neighbor).
func removeParentKeyChild(parent node, sepIdx int) {
	parent.shiftPairsLeft(sepIdx)
	parent.shiftChildrenLeft(sepIdx + 1)
	parent.setNumKeys(parent.numKeys() - 1)
}

// maybeCollapseRoot implements the root-collapse tail of a remove:
// when the root is a pass-through (zero keys) and its single child now
// fits within the root's own capacity, the child's contents are pulled
// back into the root page, the child page is freed, and height drops
// by one.
func (t *Tree) maybeCollapseRoot(h treeHeader, root node, height int) error {
	if root.numKeys() != 0 {
		return nil
	}
	childID := root.childID(0)
	ln, err := t.load(childID, height-1 > 0)
	if err != nil {
		return err
	}
	if ln.view.numKeys() > root.maxKeys() {
		ln.release()
		return nil
	}
	collapseIntoRoot(root, ln.view)
	if err := ln.free(); err != nil {
		return err
	}
	h.setHeight(height - 1)
	return nil
}

func collapseIntoRoot(root, child node) {
	n := child.numKeys()
	root.copyPairRange(child, 0, 0, n)
	if child.interior {
		root.copyChildRange(child, 0, 0, n+1)
	}
	root.setNumKeys(n)
}

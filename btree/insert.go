package btree

import "github.com/lattice-db/btreekv/storage"

// Insert adds key→value to the tree, or overwrites the value of an
// existing key. It reports whether the key was already present.
func (t *Tree) Insert(key, value []byte) (bool, error) {
	already := false
	err := t.withHeader(func(h treeHeader) error {
		var err error
		already, err = t.insertAtRoot(h, key, value)
		return err
	})
	return already, err
}

// insertResult is what a recursive insert reports to its caller: either
// the key was already present (value overwritten in place), or the
// node split and the parent must absorb the propagated median.
type insertResult struct {
	already   bool
	split     bool
	medianKey []byte
	medianVal []byte
	rightID   storage.NodeID
}

// pendingInsert is a (key, value) pair — and, for interior nodes, the
// right-hand child id that must be installed alongside it — waiting to
// be placed into a node at a known gap index.
type pendingInsert struct {
	gap      int
	key, val []byte
	interior bool
	childID  storage.NodeID
}

func (t *Tree) insertAtRoot(h treeHeader, key, value []byte) (bool, error) {
	height := h.height()
	if height == emptyHeight {
		root := h.root(t.keySize, t.valSize, false)
		root.setKey(0, key)
		root.setVal(0, value)
		root.setNumKeys(1)
		h.setHeight(0)
		return false, nil
	}

	root := h.root(t.keySize, t.valSize, height > 0)
	res := root.findSlot(key, t.cmp)
	if res.found() {
		root.setVal(res.index(), value)
		return true, nil
	}
	gap := res.index()

	if height == 0 {
		_, err := t.placeInNode(&h, true, root, height, pendingInsert{gap: gap, key: key, val: value})
		return false, err
	}

	childID := root.childID(gap)
	ln, err := t.load(childID, height-1 > 0)
	if err != nil {
		return false, err
	}
	childRes, err := t.insertNode(ln.view, height-1, key, value)
	ln.release()
	if err != nil {
		return false, err
	}
	if !childRes.split {
		return childRes.already, nil
	}
	_, err = t.placeInNode(&h, true, root, height, pendingInsert{
		gap: gap, key: childRes.medianKey, val: childRes.medianVal,
		interior: true, childID: childRes.rightID,
	})
	return false, err
}

// insertNode performs a recursive insert into an already-loaded,
// non-root node at the given depth (edges remaining to a leaf).
func (t *Tree) insertNode(n node, depth int, key, value []byte) (insertResult, error) {
	res := n.findSlot(key, t.cmp)
	if res.found() {
		n.setVal(res.index(), value)
		return insertResult{already: true}, nil
	}
	gap := res.index()

	if depth == 0 {
		return t.placeInNode(nil, false, n, depth, pendingInsert{gap: gap, key: key, val: value})
	}

	childID := n.childID(gap)
	ln, err := t.load(childID, depth-1 > 0)
	if err != nil {
		return insertResult{}, err
	}
	childRes, err := t.insertNode(ln.view, depth-1, key, value)
	ln.release()
	if err != nil {
		return insertResult{}, err
	}
	if !childRes.split {
		return insertResult{already: childRes.already}, nil
	}
	return t.placeInNode(nil, false, n, depth, pendingInsert{
		gap: gap, key: childRes.medianKey, val: childRes.medianVal,
		interior: true, childID: childRes.rightID,
	})
}

// placeInNode installs p into n, splitting n if it is already full. h is
// non-nil (and isRoot true) only when n is the tree's embedded root.
func (t *Tree) placeInNode(h *treeHeader, isRoot bool, n node, depth int, p pendingInsert) (insertResult, error) {
	if !n.full() {
		if p.interior {
			insertKeyChildInInterior(n, p.gap, p.key, p.val, p.childID)
		} else {
			insertPairInLeaf(n, p.gap, p.key, p.val)
		}
		return insertResult{}, nil
	}
	if isRoot {
		return insertResult{}, t.splitFullRoot(*h, n, depth, p)
	}
	return t.splitNonRootNode(n, depth, p)
}

func insertPairInLeaf(n node, gap int, key, val []byte) {
	n.shiftPairsRight(gap)
	n.setKey(gap, key)
	n.setVal(gap, val)
	n.setNumKeys(n.numKeys() + 1)
}

func insertKeyChildInInterior(n node, gap int, key, val []byte, childID storage.NodeID) {
	n.shiftPairsRight(gap)
	n.shiftChildrenRight(gap + 1)
	n.setKey(gap, key)
	n.setVal(gap, val)
	n.setChildID(gap+1, childID)
	n.setNumKeys(n.numKeys() + 1)
}

// splitFullNode implements the source's three-case full-node split
// (spec §4.6). left currently holds maxKeys entries and is conceptually
// asked to hold one more, p, at index p.gap; left is reduced in place
// to its num-keys-left share, right (freshly initialized, empty) is
// populated with the remainder, and the entry that falls exactly on the
// median boundary is returned for the caller to propagate upward.
func splitFullNode(left, right node, maxKeys int, p pendingInsert) (medianKey, medianVal []byte) {
	m := maxKeys / 2
	numLeft := m + maxKeys%2
	interior := p.interior

	switch {
	case p.gap == numLeft:
		// The new pair IS the median.
		medianKey, medianVal = p.key, p.val
		numRight := maxKeys - numLeft
		right.copyPairRange(left, numLeft, 0, numRight)
		right.setNumKeys(numRight)
		if interior {
			right.setChildID(0, p.childID)
			right.copyChildRange(left, numLeft+1, 1, numRight)
		}
		left.setNumKeys(numLeft)

	case p.gap < numLeft:
		// The new pair lands in the left node.
		numRight := maxKeys - numLeft
		right.copyPairRange(left, numLeft, 0, numRight)
		right.setNumKeys(numRight)
		if interior {
			right.copyChildRange(left, numLeft, 0, numRight+1)
		}
		medianKey = append([]byte(nil), left.key(numLeft-1)...)
		medianVal = append([]byte(nil), left.val(numLeft-1)...)

		left.shiftPairsRightBounded(p.gap, numLeft-1)
		left.setKey(p.gap, p.key)
		left.setVal(p.gap, p.val)
		if interior {
			left.shiftChildrenRightBounded(p.gap+1, numLeft)
			left.setChildID(p.gap+1, p.childID)
		}
		left.setNumKeys(numLeft)

	default:
		// The new pair lands in the right node.
		medianKey = append([]byte(nil), left.key(numLeft)...)
		medianVal = append([]byte(nil), left.val(numLeft)...)

		head := p.gap - numLeft - 1 // entries copied from left before the new pair
		right.copyPairRange(left, numLeft+1, 0, head)
		right.setKey(head, p.key)
		right.setVal(head, p.val)
		tailCount := maxKeys - p.gap
		right.copyPairRange(left, p.gap, head+1, tailCount)
		right.setNumKeys(maxKeys - numLeft)

		if interior {
			right.copyChildRange(left, numLeft+1, 0, head+1)
			right.setChildID(head+1, p.childID)
			right.copyChildRange(left, p.gap+1, head+2, tailCount)
		}
		left.setNumKeys(numLeft)
	}
	return medianKey, medianVal
}

func (t *Tree) splitNonRootNode(n node, depth int, p pendingInsert) (insertResult, error) {
	maxKeys := n.maxKeys()
	rightID, err := t.alloc.New()
	if err != nil {
		return insertResult{}, err
	}
	rawRight, err := t.alloc.Load(rightID)
	if err != nil {
		return insertResult{}, err
	}
	defer t.alloc.Unload(rawRight)

	right := newNodeView(rawRight, t.keySize, t.valSize, p.interior)
	right.initEmpty(maxKeys)

	medianKey, medianVal := splitFullNode(n, right, maxKeys, p)
	return insertResult{split: true, medianKey: medianKey, medianVal: medianVal, rightID: rightID}, nil
}

// splitFullRoot handles the root overflowing (spec §4.6's "Full root").
// The root shares its page with the tree header, so it cannot simply
// grow in place the way a regular node would: it either migrates its
// contents into a fresh, full-capacity node and becomes a pass-through
// (when its own capacity is smaller than a regular node's), or it
// copies itself into a fresh node of identical capacity and becomes a
// plain two-child interior root. Either way tree height increases by 1.
func (t *Tree) splitFullRoot(h treeHeader, root node, depth int, p pendingInsert) error {
	interior := depth > 0
	var regularMax int
	if interior {
		regularMax = h.maxInteriorKeys()
	} else {
		regularMax = h.maxLeafKeys()
	}

	if root.maxKeys() < regularMax {
		return t.splitSmallRoot(h, root, depth, p, regularMax)
	}
	return t.splitRegularSizedRoot(h, root, depth, p)
}

// splitSmallRoot migrates the root's contents into a single fresh node
// of regular capacity, appends the propagated pair, and reduces the
// root itself to a zero-key pass-through whose only child is that node.
func (t *Tree) splitSmallRoot(h treeHeader, root node, depth int, p pendingInsert, regularMax int) error {
	interior := depth > 0
	maxKeys := root.maxKeys()

	bigID, err := t.alloc.New()
	if err != nil {
		return err
	}
	rawBig, err := t.alloc.Load(bigID)
	if err != nil {
		return err
	}
	defer t.alloc.Unload(rawBig)

	big := newNodeView(rawBig, t.keySize, t.valSize, interior)
	big.initEmpty(regularMax)
	big.copyPairRange(root, 0, 0, maxKeys)
	if interior {
		big.copyChildRange(root, 0, 0, maxKeys+1)
	}
	big.setNumKeys(maxKeys)

	if p.interior {
		insertKeyChildInInterior(big, p.gap, p.key, p.val, p.childID)
	} else {
		insertPairInLeaf(big, p.gap, p.key, p.val)
	}

	rootInterior := newNodeView(root.data, t.keySize, t.valSize, true)
	rootInterior.setMaxKeys(maxKeys)
	rootInterior.setNumKeys(0)
	rootInterior.setChildID(0, bigID)

	h.setHeight(depth + 1)
	return nil
}

// splitRegularSizedRoot handles the rarer case where the root's own
// capacity already matches a regular node's: clone the root's current
// contents into a fresh node, split that clone the ordinary way, then
// rewrite the root page to hold the propagated median and the two
// resulting children.
func (t *Tree) splitRegularSizedRoot(h treeHeader, root node, depth int, p pendingInsert) error {
	interior := depth > 0
	maxKeys := root.maxKeys()

	leftID, err := t.alloc.New()
	if err != nil {
		return err
	}
	rawLeft, err := t.alloc.Load(leftID)
	if err != nil {
		return err
	}
	defer t.alloc.Unload(rawLeft)

	left := newNodeView(rawLeft, t.keySize, t.valSize, interior)
	left.initEmpty(maxKeys)
	left.copyPairRange(root, 0, 0, maxKeys)
	if interior {
		left.copyChildRange(root, 0, 0, maxKeys+1)
	}
	left.setNumKeys(maxKeys)

	rightID, err := t.alloc.New()
	if err != nil {
		return err
	}
	rawRight, err := t.alloc.Load(rightID)
	if err != nil {
		return err
	}
	defer t.alloc.Unload(rawRight)
	right := newNodeView(rawRight, t.keySize, t.valSize, interior)
	right.initEmpty(maxKeys)

	medianKey, medianVal := splitFullNode(left, right, maxKeys, p)

	rootInterior := newNodeView(root.data, t.keySize, t.valSize, true)
	rootInterior.setMaxKeys(maxKeys)
	rootInterior.setKey(0, medianKey)
	rootInterior.setVal(0, medianVal)
	rootInterior.setChildID(0, leftID)
	rootInterior.setChildID(1, rightID)
	rootInterior.setNumKeys(1)

	h.setHeight(depth + 1)
	return nil
}

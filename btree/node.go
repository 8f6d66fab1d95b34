package btree

import (
	"encoding/binary"

	"github.com/lattice-db/btreekv/storage"
)

// Binary layout of a node's bytes (spec §4.4):
//
//	offset 0  uint16   max_keys
//	offset 2  uint16   num_keys
//	offset 4  pair[max_keys]         packed key|value, pairSize = keySize+valueSize
//	(interior nodes only, immediately following the pair array)
//	          node_id[max_keys+1]    child identifiers, idSize bytes each
//
// A node never records whether it is a leaf: that is structural,
// determined by how far the current descent is from the tree's
// recorded height (the depth argument passed down every descent). The root is the one node
// whose max_keys may differ from every other node at its level, because
// it shares a page with the tree header and userdata.
const (
	nodeHeaderSize = 4 // max_keys + num_keys
	idSize         = 8 // storage.NodeID on the wire
)

type node struct {
	data     []byte
	keySize  int
	valSize  int
	pairSize int
	interior bool
}

func newNodeView(data []byte, keySize, valSize int, interior bool) node {
	return node{data: data, keySize: keySize, valSize: valSize, pairSize: keySize + valSize, interior: interior}
}

func (n node) maxKeys() int {
	return int(binary.LittleEndian.Uint16(n.data[0:2]))
}

func (n node) setMaxKeys(v int) {
	binary.LittleEndian.PutUint16(n.data[0:2], uint16(v))
}

func (n node) numKeys() int {
	return int(binary.LittleEndian.Uint16(n.data[2:4]))
}

func (n node) setNumKeys(v int) {
	binary.LittleEndian.PutUint16(n.data[2:4], uint16(v))
}

func (n node) minKeys() int {
	return n.maxKeys() / 2
}

func (n node) full() bool {
	return n.numKeys() >= n.maxKeys()
}

func (n node) underflowing() bool {
	return n.numKeys() < n.minKeys()
}

// pairOffset returns the byte offset of pair i (0-indexed) within data.
func (n node) pairOffset(i int) int {
	return nodeHeaderSize + i*n.pairSize
}

func (n node) pairAreaEnd() int {
	return n.pairOffset(n.maxKeys())
}

func (n node) key(i int) []byte {
	off := n.pairOffset(i)
	return n.data[off : off+n.keySize]
}

func (n node) val(i int) []byte {
	off := n.pairOffset(i) + n.keySize
	return n.data[off : off+n.valSize]
}

func (n node) setKey(i int, key []byte) {
	copy(n.key(i), key)
}

func (n node) setVal(i int, val []byte) {
	copy(n.val(i), val)
}

func (n node) childID(i int) storage.NodeID {
	off := n.pairAreaEnd() + i*idSize
	return storage.NodeID(binary.LittleEndian.Uint64(n.data[off : off+idSize]))
}

func (n node) setChildID(i int, id storage.NodeID) {
	off := n.pairAreaEnd() + i*idSize
	binary.LittleEndian.PutUint64(n.data[off:off+idSize], uint64(id))
}

// copyPairFrom copies the pair at src index i (within node from) into this
// node at index j.
func (n node) copyPairFrom(from node, i, j int) {
	copy(n.data[n.pairOffset(j):n.pairOffset(j)+n.pairSize], from.data[from.pairOffset(i):from.pairOffset(i)+from.pairSize])
}

// copyPairRange copies count consecutive pairs starting at srcStart in
// `from` to dstStart in n.
func (n node) copyPairRange(from node, srcStart, dstStart, count int) {
	for i := 0; i < count; i++ {
		n.copyPairFrom(from, srcStart+i, dstStart+i)
	}
}

// copyChildRange copies count consecutive child ids starting at
// srcStart in `from` to dstStart in n. Both n and from must be interior.
func (n node) copyChildRange(from node, srcStart, dstStart, count int) {
	for i := 0; i < count; i++ {
		n.setChildID(dstStart+i, from.childID(srcStart+i))
	}
}

// shiftPairsRight moves pairs [from, numKeys) one slot to the right,
// making room to insert at index `from`.
func (n node) shiftPairsRight(from int) {
	num := n.numKeys()
	for i := num; i > from; i-- {
		n.copyPairFrom(n, i-1, i)
	}
}

// shiftPairsLeft moves pairs [from+1, numKeys) one slot to the left,
// closing the gap left by removing index `from`.
func (n node) shiftPairsLeft(from int) {
	num := n.numKeys()
	for i := from; i < num-1; i++ {
		n.copyPairFrom(n, i+1, i)
	}
}

// shiftPairsRightBounded moves pairs [from, to) one slot to the right
// (to is exclusive and may be less than numKeys, unlike
// shiftPairsRight which always shifts up to the current numKeys).
func (n node) shiftPairsRightBounded(from, to int) {
	for i := to; i > from; i-- {
		n.copyPairFrom(n, i-1, i)
	}
}

// shiftChildrenRightBounded moves children [from, to) one slot right.
func (n node) shiftChildrenRightBounded(from, to int) {
	for i := to; i > from; i-- {
		n.setChildID(i, n.childID(i-1))
	}
}

func (n node) shiftChildrenRight(from int) {
	num := n.numKeys() // children count is numKeys+1 at call time, before increment
	for i := num + 1; i > from; i-- {
		n.setChildID(i, n.childID(i-1))
	}
}

func (n node) shiftChildrenLeft(from int) {
	num := n.numKeys() // children count is numKeys+1 at call time, before decrement
	for i := from; i < num; i++ {
		n.setChildID(i, n.childID(i+1))
	}
}

// initEmpty stamps a freshly allocated node's header.
func (n node) initEmpty(maxKeys int) {
	n.setMaxKeys(maxKeys)
	n.setNumKeys(0)
}


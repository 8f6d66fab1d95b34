package btree

import "encoding/binary"

// treeHeaderSize is the fixed prefix of a tree's root page:
//
//	offset 0   uint16  keySize
//	offset 2   uint16  valSize
//	offset 4   int16   height        (-1 means empty)
//	offset 6   uint16  maxLeafKeys   (capacity of a regular, non-root leaf)
//	offset 8   uint16  maxInteriorKeys (capacity of a regular, non-root interior node)
//	offset 10  uint32  userdataLen
//	offset 14  uint16  rootOffset    (byte offset of the root node within this page)
const treeHeaderSize = 16

type treeHeader struct {
	data []byte // the full root page, header-sized prefix is read/written through accessors below
}

func (h treeHeader) keySize() int      { return int(binary.LittleEndian.Uint16(h.data[0:2])) }
func (h treeHeader) valSize() int      { return int(binary.LittleEndian.Uint16(h.data[2:4])) }
func (h treeHeader) height() int       { return int(int16(binary.LittleEndian.Uint16(h.data[4:6]))) }
func (h treeHeader) maxLeafKeys() int  { return int(binary.LittleEndian.Uint16(h.data[6:8])) }
func (h treeHeader) maxInteriorKeys() int {
	return int(binary.LittleEndian.Uint16(h.data[8:10]))
}
func (h treeHeader) userdataLen() int { return int(binary.LittleEndian.Uint32(h.data[10:14])) }
func (h treeHeader) rootOffset() int  { return int(binary.LittleEndian.Uint16(h.data[14:16])) }

func (h treeHeader) setKeySize(v int)    { binary.LittleEndian.PutUint16(h.data[0:2], uint16(v)) }
func (h treeHeader) setValSize(v int)    { binary.LittleEndian.PutUint16(h.data[2:4], uint16(v)) }
func (h treeHeader) setHeight(v int)     { binary.LittleEndian.PutUint16(h.data[4:6], uint16(int16(v))) }
func (h treeHeader) setMaxLeafKeys(v int) {
	binary.LittleEndian.PutUint16(h.data[6:8], uint16(v))
}
func (h treeHeader) setMaxInteriorKeys(v int) {
	binary.LittleEndian.PutUint16(h.data[8:10], uint16(v))
}
func (h treeHeader) setUserdataLen(v int) {
	binary.LittleEndian.PutUint32(h.data[10:14], uint32(v))
}
func (h treeHeader) setRootOffset(v int) { binary.LittleEndian.PutUint16(h.data[14:16], uint16(v)) }

func (h treeHeader) userdata() []byte {
	start := treeHeaderSize
	return h.data[start : start+h.userdataLen()]
}

// root returns a node view over the root node embedded in this page.
// The root's max_keys is stamped once by Bootstrap and kept unchanged
// by the insert and remove paths, and may be smaller than maxLeafKeys /
// maxInteriorKeys because it shares the page with this header and the
// userdata region.
func (h treeHeader) root(keySize, valSize int, interior bool) node {
	off := h.rootOffset()
	return newNodeView(h.data[off:], keySize, valSize, interior)
}

// rootCapacityBytes is how much room is left in the page for the root
// node once the header and userdata have claimed their share.
func (h treeHeader) rootCapacityBytes() int {
	return len(h.data) - h.rootOffset()
}

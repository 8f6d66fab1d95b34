package btree

// searchResult packs a search outcome the way the source does: bit 0
// set means an exact match, and the remaining bits hold the index of
// that match; bit 0 clear means "insertion gap before this index".
type searchResult int

func foundAt(index int) searchResult  { return searchResult(2*index + 1) }
func gapBefore(index int) searchResult { return searchResult(2 * index) }

func (r searchResult) found() bool { return r&1 == 1 }
func (r searchResult) index() int  { return int(r) / 2 }

// findSlot locates key within a node's [0, numKeys) pairs using a
// binary search while the window is wide, falling back to a linear
// scan once it narrows — ties are impossible because the tree forbids
// duplicate keys (invariant 5).
const linearScanThreshold = 8

func (n node) findSlot(key []byte, cmp Comparator) searchResult {
	lo, hi := 0, n.numKeys()
	for hi-lo > linearScanThreshold {
		mid := lo + (hi-lo)/2
		switch c := cmp(n.key(mid), key); {
		case c == 0:
			return foundAt(mid)
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	for i := lo; i < hi; i++ {
		switch c := cmp(n.key(i), key); {
		case c == 0:
			return foundAt(i)
		case c > 0:
			return gapBefore(i)
		}
	}
	return gapBefore(hi)
}

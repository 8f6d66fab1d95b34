package btree

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/lattice-db/btreekv/ramalloc"
	"github.com/lattice-db/btreekv/storage"
)

// newTestTree builds a tree over a RAM allocator sized so the root's
// own capacity (which shares its page with the tree header) is much
// smaller than a regular node's, forcing the pass-through/root-split
// paths to exercise quickly with only a handful of keys.
func newTestTree(t *testing.T, nodeSize int) *Tree {
	t.Helper()
	alloc := ramalloc.New(nodeSize, nil)
	tree, err := Create(alloc, 4, 4, nil, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tree
}

// checkShapeInvariant walks every node reachable from the tree's
// effective root and asserts spec §8's shape property: every non-root
// node holds between minKeys() and maxKeys() keys inclusive, and every
// leaf is reached at the same depth. Leaf depth is counted by the walk
// itself, not read back from the stored height, so a corrupt subtree
// can't hide behind a header field that still claims consistency.
func checkShapeInvariant(t *testing.T, tree *Tree) {
	t.Helper()
	err := tree.withHeader(func(h treeHeader) error {
		start, err := tree.effectiveRoot(h)
		if err == errEmptyTree {
			return nil
		}
		if err != nil {
			return err
		}

		var leafDepths []int
		var walk func(n node, depth, level int, isRoot bool) error
		walk = func(n node, depth, level int, isRoot bool) error {
			num := n.numKeys()
			if !isRoot && (num < n.minKeys() || num > n.maxKeys()) {
				t.Errorf("node at level %d holds %d keys, want [%d, %d]", level, num, n.minKeys(), n.maxKeys())
			}
			if depth == 0 {
				leafDepths = append(leafDepths, level)
				return nil
			}
			for i := 0; i <= num; i++ {
				ln, err := tree.load(n.childID(i), depth-1 > 0)
				if err != nil {
					return err
				}
				err = walk(ln.view, depth-1, level+1, false)
				ln.release()
				if err != nil {
					return err
				}
			}
			return nil
		}

		var root node
		if start.embedded {
			root = h.root(tree.keySize, tree.valSize, start.depth > 0)
		} else {
			ln, err := tree.load(start.id, start.depth > 0)
			if err != nil {
				return err
			}
			defer ln.release()
			root = ln.view
		}
		if err := walk(root, start.depth, 0, true); err != nil {
			return err
		}
		for i := 1; i < len(leafDepths); i++ {
			if leafDepths[i] != leafDepths[0] {
				t.Errorf("leaf depth mismatch: leaf %d at depth %d, leaf 0 at depth %d", i, leafDepths[i], leafDepths[0])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("checkShapeInvariant: %v", err)
	}
}

func enc(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func dec(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func TestInsertContainsGet(t *testing.T) {
	tree := newTestTree(t, 64)

	keys := []uint32{5, 1, 2, 3, 4}
	for _, k := range keys {
		already, err := tree.Insert(enc(k), enc(k*10))
		if err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
		if already {
			t.Errorf("Insert(%d) reported already-present on a fresh key", k)
		}
	}

	for _, k := range keys {
		ok, err := tree.Contains(enc(k))
		if err != nil || !ok {
			t.Errorf("Contains(%d) = %v, %v; want true, nil", k, ok, err)
		}
		var out [4]byte
		ok, err = tree.Get(enc(k), out[:])
		if err != nil || !ok {
			t.Errorf("Get(%d) = %v, %v; want true, nil", k, ok, err)
		}
		if dec(out[:]) != k*10 {
			t.Errorf("Get(%d) value = %d, want %d", k, dec(out[:]), k*10)
		}
	}

	ok, err := tree.Contains(enc(999))
	if err != nil || ok {
		t.Errorf("Contains(999) = %v, %v; want false, nil", ok, err)
	}
}

func TestInsertOverwritesExistingValue(t *testing.T) {
	tree := newTestTree(t, 64)

	already, err := tree.Insert(enc(7), enc(1))
	if err != nil || already {
		t.Fatalf("first Insert: %v, %v", already, err)
	}
	already, err = tree.Insert(enc(7), enc(2))
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if !already {
		t.Errorf("second Insert(7) reported already=false, want true")
	}

	var out [4]byte
	if _, err := tree.Get(enc(7), out[:]); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dec(out[:]) != 2 {
		t.Errorf("value after overwrite = %d, want 2", dec(out[:]))
	}
}

func TestAscendingTraversal(t *testing.T) {
	tree := newTestTree(t, 64)

	const n = 60
	for i := uint32(1); i <= n; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	var seen []uint32
	_, err := tree.Traverse(func(key, val []byte, _ interface{}) bool {
		seen = append(seen, dec(key))
		if dec(key) != dec(val) {
			t.Errorf("key %d paired with unexpected value %d", dec(key), dec(val))
		}
		return false
	}, nil, false)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("traversed %d keys, want %d", len(seen), n)
	}
	for i, k := range seen {
		if k != uint32(i+1) {
			t.Fatalf("ascending traversal out of order at index %d: got %d, want %d", i, k, i+1)
		}
	}
}

func TestReverseTraversal(t *testing.T) {
	tree := newTestTree(t, 64)

	const n = 40
	for i := uint32(1); i <= n; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	var seen []uint32
	_, err := tree.Traverse(func(key, _ []byte, _ interface{}) bool {
		seen = append(seen, dec(key))
		return false
	}, nil, true)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	for i, k := range seen {
		want := uint32(n - i)
		if k != want {
			t.Fatalf("reverse traversal out of order at index %d: got %d, want %d", i, k, want)
		}
	}
}

func TestTraverseAbortsOnFirstTrue(t *testing.T) {
	tree := newTestTree(t, 64)
	for i := uint32(1); i <= 20; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	calls := 0
	aborted, err := tree.Traverse(func(key, val []byte, ctx interface{}) bool {
		calls++
		return true
	}, nil, false)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if !aborted {
		t.Errorf("Traverse reported aborted=false, want true")
	}
	if calls != 1 {
		t.Errorf("predicate invoked %d times, want exactly 1", calls)
	}
}

func TestRemoveLifecycle(t *testing.T) {
	tree := newTestTree(t, 64)

	const n = 100
	for i := uint32(1); i <= n; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for i := uint32(1); i <= n; i++ {
		var out [4]byte
		found, err := tree.Remove(enc(i), out[:])
		if err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("Remove(%d) = false, want true", i)
		}
		if dec(out[:]) != i {
			t.Fatalf("Remove(%d) value_out = %d, want %d", i, dec(out[:]), i)
		}
		for j := i + 1; j <= n; j++ {
			ok, err := tree.Contains(enc(j))
			if err != nil {
				t.Fatalf("Contains(%d): %v", j, err)
			}
			if !ok {
				t.Fatalf("after removing %d, key %d vanished too", i, j)
			}
		}
	}

	empty, err := tree.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Errorf("tree not empty after removing every key")
	}
}

func TestRemoveIdempotence(t *testing.T) {
	tree := newTestTree(t, 64)
	if _, err := tree.Insert(enc(1), enc(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	found, err := tree.Remove(enc(1), nil)
	if err != nil || !found {
		t.Fatalf("first Remove = %v, %v; want true, nil", found, err)
	}
	found, err = tree.Remove(enc(1), nil)
	if err != nil || found {
		t.Fatalf("second Remove = %v, %v; want false, nil", found, err)
	}
}

func TestRemoveMissingKey(t *testing.T) {
	tree := newTestTree(t, 64)
	for i := uint32(1); i <= 10; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	found, err := tree.Remove(enc(999), nil)
	if err != nil || found {
		t.Fatalf("Remove(999) = %v, %v; want false, nil", found, err)
	}
}

func TestUnderflowBorrowFromRightSibling(t *testing.T) {
	tree := newTestTree(t, 64)

	keys := []uint32{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}
	for _, k := range keys {
		if _, err := tree.Insert(enc(k), enc(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	if found, err := tree.Remove(enc(1), nil); err != nil || !found {
		t.Fatalf("Remove(1) = %v, %v", found, err)
	}

	for _, k := range keys[1:] {
		ok, err := tree.Contains(enc(k))
		if err != nil || !ok {
			t.Fatalf("Contains(%d) after underflow = %v, %v; want true, nil", k, ok, err)
		}
	}

	var seen []uint32
	if _, err := tree.Traverse(func(key, _ []byte, _ interface{}) bool {
		seen = append(seen, dec(key))
		return false
	}, nil, false); err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("traversal not strictly ascending at %d: %d >= %d", i, seen[i-1], seen[i])
		}
	}
	if len(seen) != len(keys)-1 {
		t.Fatalf("traversal yielded %d keys, want %d", len(seen), len(keys)-1)
	}
}

func TestRandomizedInsertRemoveRoundTrip(t *testing.T) {
	tree := newTestTree(t, 128)
	rng := rand.New(rand.NewSource(42))

	present := make(map[uint32]uint32)
	const universe = 400
	const iterations = 1500

	for iter := 0; iter < iterations; iter++ {
		k := uint32(rng.Intn(universe)) + 1
		if rng.Float64() < 0.3 {
			_, inTree := present[k]
			found, err := tree.Remove(enc(k), nil)
			if err != nil {
				t.Fatalf("iter %d: Remove(%d): %v", iter, k, err)
			}
			if found != inTree {
				t.Fatalf("iter %d: Remove(%d) = %v, want %v", iter, k, found, inTree)
			}
			delete(present, k)
		} else {
			v := k * 1000
			already, err := tree.Insert(enc(k), enc(v))
			if err != nil {
				t.Fatalf("iter %d: Insert(%d): %v", iter, k, err)
			}
			_, wasPresent := present[k]
			if already != wasPresent {
				t.Fatalf("iter %d: Insert(%d) already=%v, want %v", iter, k, already, wasPresent)
			}
			present[k] = v
		}
	}

	for k, v := range present {
		var out [4]byte
		ok, err := tree.Get(enc(k), out[:])
		if err != nil || !ok {
			t.Fatalf("Get(%d) = %v, %v; want true, nil", k, ok, err)
		}
		if dec(out[:]) != v {
			t.Fatalf("Get(%d) = %d, want %d", k, dec(out[:]), v)
		}
	}

	var seen []uint32
	if _, err := tree.Traverse(func(key, _ []byte, _ interface{}) bool {
		seen = append(seen, dec(key))
		return false
	}, nil, false); err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(seen) != len(present) {
		t.Fatalf("traversal yielded %d keys, want %d", len(seen), len(present))
	}
	// Keys above 255 make little-endian byte order differ from numeric
	// order, so ascending is judged by the tree's (default) comparator.
	for i := 1; i < len(seen); i++ {
		if DefaultComparator(enc(seen[i-1]), enc(seen[i])) >= 0 {
			t.Fatalf("traversal not strictly ascending at %d: %d >= %d in key byte order", i, seen[i-1], seen[i])
		}
	}

	checkShapeInvariant(t, tree)
}

// countingAlloc tracks how many pages of the wrapped allocator are live.
type countingAlloc struct {
	storage.Allocator
	live int
}

func (c *countingAlloc) New() (storage.NodeID, error) {
	id, err := c.Allocator.New()
	if err == nil {
		c.live++
	}
	return id, err
}

func (c *countingAlloc) Free(id storage.NodeID) error {
	err := c.Allocator.Free(id)
	if err == nil {
		c.live--
	}
	return err
}

func TestDeleteFreesEveryPage(t *testing.T) {
	alloc := &countingAlloc{Allocator: ramalloc.New(64, nil)}
	tree, err := Create(alloc, 4, 4, nil, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := uint32(1); i <= 200; i++ {
		if _, err := tree.Insert(enc(i), enc(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := tree.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if alloc.live != 0 {
		t.Errorf("%d pages still live after Delete, want 0", alloc.live)
	}
}

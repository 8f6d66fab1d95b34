package filealloc

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/lattice-db/btreekv/btree"
	"github.com/lattice-db/btreekv/storage"
)

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "btreekv-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func enc(n uint64) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

func dec(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func TestCreateOpenRoundTrip(t *testing.T) {
	f := tempFile(t)

	a, err := Create(f, 256, 8, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	view, err := a.Userdata()
	if err != nil {
		t.Fatalf("Userdata: %v", err)
	}
	if len(view) != 8 {
		t.Fatalf("Userdata len = %d, want 8", len(view))
	}
	copy(view, []byte("STAMPSTA"))
	a.ReleaseUserdata()

	ids := make([]storage.NodeID, 0, 20)
	for i := 0; i < 20; i++ {
		id, err := a.New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		view, err := a.Load(id)
		if err != nil {
			t.Fatalf("Load(%d): %v", id, err)
		}
		copy(view, enc(uint64(i)))
		a.Unload(view)
		ids = append(ids, id)
	}

	a2, err := Open(f, 256, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	view2, err := a2.Userdata()
	if err != nil {
		t.Fatalf("Userdata after reopen: %v", err)
	}
	if string(view2) != "STAMPSTA" {
		t.Fatalf("userdata after reopen = %q, want %q", view2, "STAMPSTA")
	}
	a2.ReleaseUserdata()

	for i, id := range ids {
		view, err := a2.Load(id)
		if err != nil {
			t.Fatalf("Load(%d) after reopen: %v", id, err)
		}
		if int(dec(view)) != i {
			t.Fatalf("page %d contents = %d after reopen, want %d", id, dec(view), i)
		}
		a2.Unload(view)
	}
}

func TestFreeAndReallocateRecyclesPages(t *testing.T) {
	f := tempFile(t)
	a, err := Create(f, 256, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 64
	ids := make([]storage.NodeID, n)
	for i := range ids {
		id, err := a.New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ids[i] = id
	}

	for _, id := range ids {
		if err := a.Free(id); err != nil {
			t.Fatalf("Free(%d): %v", id, err)
		}
	}

	seen := make(map[storage.NodeID]bool)
	recycled := 0
	for i := 0; i < n; i++ {
		id, err := a.New()
		if err != nil {
			t.Fatalf("New (recycle pass): %v", err)
		}
		if seen[id] {
			t.Fatalf("New returned duplicate id %d within one pass", id)
		}
		seen[id] = true
		for _, old := range ids {
			if old == id {
				recycled++
				break
			}
		}
	}
	if recycled == 0 {
		t.Fatalf("none of the %d freed pages were recycled by subsequent New calls", n)
	}
}

func TestFileBackedTreeSurvivesReopen(t *testing.T) {
	f := tempFile(t)
	a, err := Create(f, 256, 0, nil)
	if err != nil {
		t.Fatalf("Create allocator: %v", err)
	}

	treeRootID, err := a.New()
	if err != nil {
		t.Fatalf("New (tree root): %v", err)
	}
	tree, err := btree.Bootstrap(a, treeRootID, 4, 4, nil, 0)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	const n = 500
	for i := uint32(0); i < n; i++ {
		if _, err := tree.Insert(enc(uint64(i)), enc(uint64(i*2))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	a2, err := Open(f, 256, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tree2, err := btree.Open(a2, treeRootID, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}

	for i := uint32(0); i < n; i++ {
		var out [4]byte
		ok, err := tree2.Get(enc(uint64(i)), out[:])
		if err != nil {
			t.Fatalf("Get(%d) after reopen: %v", i, err)
		}
		if !ok {
			t.Fatalf("key %d missing after reopen", i)
		}
		if dec(out[:]) != i*2 {
			t.Fatalf("Get(%d) after reopen = %d, want %d", i, dec(out[:]), i*2)
		}
	}

	for i := uint32(0); i < n; i += 2 {
		if _, err := tree2.Remove(enc(uint64(i)), nil); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	for i := uint32(0); i < n; i++ {
		ok, err := tree2.Contains(enc(uint64(i)))
		if err != nil {
			t.Fatalf("Contains(%d): %v", i, err)
		}
		want := i%2 == 1
		if ok != want {
			t.Fatalf("Contains(%d) = %v, want %v", i, ok, want)
		}
	}
}

func TestNodeSizeReported(t *testing.T) {
	f := tempFile(t)
	a, err := Create(f, 256, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.NodeSize() != 256 {
		t.Fatalf("NodeSize() = %d, want 256", a.NodeSize())
	}
}

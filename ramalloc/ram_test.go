package ramalloc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lattice-db/btreekv/storage"
)

func TestNewLoadRoundTrip(t *testing.T) {
	a := New(32, nil)
	id, err := a.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id == storage.InvalidNodeID {
		t.Fatalf("New returned InvalidNodeID")
	}

	view, err := a.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(view) != 32 {
		t.Fatalf("Load returned %d bytes, want 32", len(view))
	}
	copy(view, []byte("hello world"))
	a.Unload(view)

	view2, err := a.Load(id)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if !bytes.HasPrefix(view2, []byte("hello world")) {
		t.Fatalf("write through view did not persist")
	}
}

func TestDistinctIDsGetDistinctBuffers(t *testing.T) {
	a := New(16, nil)
	id1, _ := a.New()
	id2, _ := a.New()
	if id1 == id2 {
		t.Fatalf("two New() calls returned the same id")
	}

	v1, _ := a.Load(id1)
	copy(v1, []byte("aaaa"))
	a.Unload(v1)

	v2, _ := a.Load(id2)
	if bytes.HasPrefix(v2, []byte("aaaa")) {
		t.Fatalf("buffers for distinct ids alias each other")
	}
}

func TestFreeThenLoadFails(t *testing.T) {
	var got error
	a := New(16, func(err error) { got = err })

	id, _ := a.New()
	if err := a.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}

	if _, err := a.Load(id); err == nil {
		t.Fatalf("Load after Free succeeded, want error")
	}
	if !errors.Is(got, storage.ErrNotFound) {
		t.Fatalf("onError callback got %v, want wrapping ErrNotFound", got)
	}
}

func TestDoubleFreeFails(t *testing.T) {
	var got error
	a := New(16, func(err error) { got = err })

	id, _ := a.New()
	if err := a.Free(id); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := a.Free(id); err == nil {
		t.Fatalf("second Free succeeded, want error")
	}
	if !errors.Is(got, storage.ErrNotFound) {
		t.Fatalf("onError callback got %v, want wrapping ErrNotFound", got)
	}
}

func TestNodeSize(t *testing.T) {
	a := New(128, nil)
	if a.NodeSize() != 128 {
		t.Fatalf("NodeSize() = %d, want 128", a.NodeSize())
	}
}

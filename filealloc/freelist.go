package filealloc

import (
	"fmt"

	"github.com/lattice-db/btreekv/storage"
)

// maxFreeDepth bounds the two staging buffers. It must exceed the
// deepest recursion any single insert or remove on the inner free-page
// tree can reach, so that neither buffer ever needs more entries than
// it has room for (spec §4.3's "rationale for the staging buffers").
const maxFreeDepth = 32

// stagingAllocator is the storage.Allocator the inner free-page tree is
// built over. It exists to break the recursion hazard where freeing a
// page could itself require allocating one (to split the free tree) and
// allocating a page could require freeing one (to shrink it): New draws
// only from a pre-stocked pool, and Free only stages pages for the
// caller to flush afterward, so neither ever calls back into outer's
// own New/Free.
type stagingAllocator struct {
	outer     *Allocator
	available []storage.NodeID // pre-reserved pages the free tree may consume
	freed     []storage.NodeID // pages the free tree shed, pending flush
}

var _ storage.Allocator = (*stagingAllocator)(nil)

func (s *stagingAllocator) NodeSize() int { return s.outer.nodeSize }

func (s *stagingAllocator) New() (storage.NodeID, error) {
	n := len(s.available)
	if n == 0 {
		return 0, fmt.Errorf("filealloc: free-tree mutation needed more than the %d staged pages: %w", maxFreeDepth, storage.ErrExhausted)
	}
	id := s.available[n-1]
	s.available = s.available[:n-1]
	return id, nil
}

// takeAvailable pops a page banked by a prior Free, if any, for the
// outer allocator's own New to hand out directly.
func (s *stagingAllocator) takeAvailable() (storage.NodeID, bool) {
	n := len(s.available)
	if n == 0 {
		return 0, false
	}
	id := s.available[n-1]
	s.available = s.available[:n-1]
	return id, true
}

func (s *stagingAllocator) Load(id storage.NodeID) ([]byte, error) { return s.outer.rawLoad(id) }
func (s *stagingAllocator) Unload(view []byte)                     { s.outer.rawUnload(view) }

func (s *stagingAllocator) Free(id storage.NodeID) error {
	if len(s.freed) >= maxFreeDepth {
		return fmt.Errorf("filealloc: free-tree mutation shed more than the %d staged pages: %w", maxFreeDepth, storage.ErrExhausted)
	}
	s.freed = append(s.freed, id)
	return nil
}

// pushAvailable stages id for the free tree's own future use. It
// reports whether there was room.
func (s *stagingAllocator) pushAvailable(id storage.NodeID) bool {
	if len(s.available) >= maxFreeDepth {
		return false
	}
	s.available = append(s.available, id)
	return true
}

// takeFreed drains and returns everything staged by Free since the last
// call.
func (s *stagingAllocator) takeFreed() []storage.NodeID {
	freed := s.freed
	s.freed = nil
	return freed
}

// Package ramalloc is the trivial realization of storage.Allocator:
// nodes are buffers carved out of the process heap, identifiers are
// handles into an internal table, and Load/Unload are identity
// operations. Safe for independent concurrent use by trees that do not
// share state, matching the source's RAM allocator.
package ramalloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lattice-db/btreekv/storage"
)

// Allocator is a heap-backed storage.Allocator. Multiple goroutines may
// call New/Load/Unload/Free concurrently as long as they operate on
// distinct node identifiers — a single node must not be mutated from two
// goroutines at once.
type Allocator struct {
	nodeSize int
	onError  storage.ErrorFunc

	nextID uint64 // atomic counter, pre-increment

	mu   sync.Mutex
	bufs map[storage.NodeID][]byte
}

var _ storage.Allocator = (*Allocator)(nil)

// New creates a RAM allocator serving nodes of nodeSize bytes. onError
// may be nil, in which case exhaustion (which cannot happen for this
// allocator) and caller contract violations abort the process.
func New(nodeSize int, onError storage.ErrorFunc) *Allocator {
	if nodeSize <= 0 {
		panic("ramalloc: nodeSize must be positive")
	}
	return &Allocator{
		nodeSize: nodeSize,
		onError:  onError,
		bufs:     make(map[storage.NodeID][]byte),
	}
}

func (a *Allocator) NodeSize() int { return a.nodeSize }

func (a *Allocator) New() (storage.NodeID, error) {
	id := storage.NodeID(atomic.AddUint64(&a.nextID, 1))
	buf := make([]byte, a.nodeSize)

	a.mu.Lock()
	a.bufs[id] = buf
	a.mu.Unlock()

	return id, nil
}

func (a *Allocator) Load(id storage.NodeID) ([]byte, error) {
	a.mu.Lock()
	buf, ok := a.bufs[id]
	a.mu.Unlock()
	if !ok {
		return nil, storage.Fail(a.onError, fmt.Errorf("ramalloc: load: %w: %d", storage.ErrNotFound, id))
	}
	return buf, nil
}

// Unload is a no-op: the view a RAM allocator hands out IS the backing
// buffer, so writes through it are already visible.
func (a *Allocator) Unload(view []byte) {}

func (a *Allocator) Free(id storage.NodeID) error {
	a.mu.Lock()
	_, ok := a.bufs[id]
	delete(a.bufs, id)
	a.mu.Unlock()
	if !ok {
		return storage.Fail(a.onError, fmt.Errorf("ramalloc: free: %w: %d", storage.ErrNotFound, id))
	}
	return nil
}

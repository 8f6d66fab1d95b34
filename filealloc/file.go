// Package filealloc is a storage.Allocator backed by a memory-mapped
// file of fixed-size pages, matching the source's persistent buffer
// manager but trading its latch-guarded page cache for mmap-per-load:
// every Load is a fresh mapping and every Unload tears it down.
//
// Page 0 of the file is the allocator root: it holds the inner
// free-page tree's header, that tree's own embedded root node, and
// (inside its userdata region) the high-water mark followed by caller
// userdata. Free pages are tracked as an inner instance of package
// btree keyed on the 8-byte page identifier with a zero-byte value;
// see freelist.go for how its self-referential allocation hazard is
// broken.
package filealloc

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/lattice-db/btreekv/btree"
	"github.com/lattice-db/btreekv/storage"
)

// allocNodesStep is how many pages the file grows by whenever the
// high-water mark outruns the current file size.
const allocNodesStep = 1024

// rootPageID is the file allocator's own root page, expressed as a
// NodeID. storage.InvalidNodeID (0) stays reserved for "no node" across
// every allocator, so the file's physical page 0 is addressed as id 1;
// in general physical page (id-1) lives at byte offset (id-1)*nodeSize.
const rootPageID storage.NodeID = 1

// Allocator is a storage.Allocator over an open file of fixed-size
// pages. It is safe for use by one tree mutation at a time; like the
// source, concurrent mutations sharing one file allocator are not
// supported.
type Allocator struct {
	f        *os.File
	nodeSize int
	onError  storage.ErrorFunc

	mu       sync.Mutex
	numPages uint64 // file size in whole pages

	staging  *stagingAllocator
	freeTree *btree.Tree
}

var _ storage.Allocator = (*Allocator)(nil)

// Create initializes a fresh allocator root in f (which must be empty)
// and reserves userdataSize bytes of caller userdata alongside the
// internal high-water mark. nodeSize is the fixed page size every node
// in every tree over this allocator will use.
func Create(f *os.File, nodeSize, userdataSize int, onError storage.ErrorFunc) (*Allocator, error) {
	if nodeSize < 64 {
		return nil, fmt.Errorf("filealloc: node size %d too small", nodeSize)
	}
	a := &Allocator{f: f, nodeSize: nodeSize, onError: onError}
	if err := a.ensureCapacity(1); err != nil {
		return nil, err
	}
	a.staging = &stagingAllocator{outer: a}

	freeTree, err := btree.Bootstrap(a.staging, rootPageID, 8, 0, nil, highWaterSize+userdataSize)
	if err != nil {
		return nil, err
	}
	a.freeTree = freeTree

	if err := a.writeHighWater(uint64(rootPageID)); err != nil {
		return nil, err
	}
	return a, nil
}

// Open reattaches to an allocator root previously written by Create.
func Open(f *os.File, nodeSize int, onError storage.ErrorFunc) (*Allocator, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	a := &Allocator{
		f:        f,
		nodeSize: nodeSize,
		onError:  onError,
		numPages: uint64(fi.Size()) / uint64(nodeSize),
	}
	a.staging = &stagingAllocator{outer: a}

	freeTree, err := btree.Open(a.staging, rootPageID, nil)
	if err != nil {
		return nil, err
	}
	a.freeTree = freeTree
	return a, nil
}

const highWaterSize = 8

// Userdata returns the caller's reserved region alongside the
// allocator root. Callers must pair this with ReleaseUserdata.
func (a *Allocator) Userdata() ([]byte, error) {
	view, err := a.freeTree.LoadUserdata()
	if err != nil {
		return nil, err
	}
	return view[highWaterSize:], nil
}

// ReleaseUserdata releases the view obtained from Userdata.
func (a *Allocator) ReleaseUserdata() {
	a.freeTree.UnloadUserdata(nil)
}

func (a *Allocator) NodeSize() int { return a.nodeSize }

// New draws a page from the free pool if one is available, otherwise
// extends the high-water mark (spec §4.3's Allocate). Pages banked by a
// prior Free but not yet folded into the free tree are handed out
// first, so a page never sits unreachable until the free tree happens
// to need it for a split.
func (a *Allocator) New() (storage.NodeID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.staging.takeAvailable(); ok {
		return id, nil
	}

	empty, err := a.freeTree.IsEmpty()
	if err != nil {
		return 0, a.fail(err)
	}
	if empty {
		id, err := a.growOne()
		if err != nil {
			return 0, a.fail(err)
		}
		return id, nil
	}
	return a.popSmallestFree()
}

// Load maps the page's bytes directly; the view is valid until Unload.
func (a *Allocator) Load(id storage.NodeID) ([]byte, error) {
	return a.rawLoad(id)
}

func (a *Allocator) Unload(view []byte) {
	a.rawUnload(view)
}

// Free returns id to the free pool, staging it if room allows and
// otherwise inserting it into the free tree directly (spec §4.3's
// Free).
func (a *Allocator) Free(id storage.NodeID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.staging.pushAvailable(id) {
		return nil
	}
	if err := a.topOffAvailable(); err != nil {
		return a.fail(err)
	}
	if _, err := a.freeTree.Insert(idKey(id), nil); err != nil {
		return a.fail(err)
	}
	return nil
}

func (a *Allocator) fail(err error) error {
	return storage.Fail(a.onError, err)
}

func (a *Allocator) popSmallestFree() (storage.NodeID, error) {
	var keyBuf [8]byte
	found := false
	_, err := a.freeTree.Traverse(func(key, _ []byte, _ interface{}) bool {
		copy(keyBuf[:], key)
		found = true
		return true
	}, nil, false)
	if err != nil {
		return 0, a.fail(err)
	}
	if !found {
		// Lost the race against IsEmpty under our own lock: cannot
		// happen while a.mu is held for the whole operation.
		return 0, a.fail(fmt.Errorf("filealloc: free tree reported non-empty but yielded no key"))
	}

	if _, err := a.freeTree.Remove(keyBuf[:], nil); err != nil {
		return 0, a.fail(err)
	}
	if err := a.drainFreed(); err != nil {
		return 0, a.fail(err)
	}
	return storage.NodeID(binary.LittleEndian.Uint64(keyBuf[:])), nil
}

// topOffAvailable pre-stocks the staging pool with fresh pages drawn
// directly from the high-water mark, bypassing the free tree entirely,
// so that the free tree's own insert (which may split) never needs to
// recurse back into Allocate.
func (a *Allocator) topOffAvailable() error {
	for len(a.staging.available) < maxFreeDepth {
		id, err := a.growOne()
		if err != nil {
			return err
		}
		a.staging.available = append(a.staging.available, id)
	}
	return nil
}

// drainFreed flushes pages the free tree shed while rebalancing after a
// Remove, preferring to keep them staged for the free tree's own future
// use over reinserting them as ordinary free pages.
func (a *Allocator) drainFreed() error {
	for _, id := range a.staging.takeFreed() {
		if a.staging.pushAvailable(id) {
			continue
		}
		if err := a.topOffAvailable(); err != nil {
			return err
		}
		if _, err := a.freeTree.Insert(idKey(id), nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) growOne() (storage.NodeID, error) {
	hw, err := a.readHighWater()
	if err != nil {
		return 0, err
	}
	hw++
	id := storage.NodeID(hw)
	if err := a.ensureCapacity(hw); err != nil {
		return 0, err
	}
	if err := a.writeHighWater(hw); err != nil {
		return 0, err
	}
	return id, nil
}

// ensureCapacity grows the file, in allocNodesStep-page chunks, until
// it holds at least minPages pages.
func (a *Allocator) ensureCapacity(minPages uint64) error {
	if minPages <= a.numPages {
		return nil
	}
	steps := (minPages - a.numPages + allocNodesStep - 1) / allocNodesStep
	newPages := a.numPages + steps*allocNodesStep
	size := int64(newPages) * int64(a.nodeSize)
	if err := unix.Fallocate(int(a.f.Fd()), 0, 0, size); err != nil {
		return fmt.Errorf("filealloc: preallocate file to %d pages: %w", newPages, err)
	}
	a.numPages = newPages
	return nil
}

func (a *Allocator) readHighWater() (uint64, error) {
	view, err := a.freeTree.LoadUserdata()
	if err != nil {
		return 0, err
	}
	hw := binary.LittleEndian.Uint64(view[:highWaterSize])
	a.freeTree.UnloadUserdata(nil)
	return hw, nil
}

func (a *Allocator) writeHighWater(hw uint64) error {
	view, err := a.freeTree.LoadUserdata()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(view[:highWaterSize], hw)
	a.freeTree.UnloadUserdata(nil)
	return nil
}

func (a *Allocator) rawLoad(id storage.NodeID) ([]byte, error) {
	if id == storage.InvalidNodeID {
		return nil, a.fail(fmt.Errorf("filealloc: load: %w", storage.ErrNotFound))
	}
	off := int64(id-1) * int64(a.nodeSize)
	data, err := unix.Mmap(int(a.f.Fd()), off, a.nodeSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, a.fail(fmt.Errorf("filealloc: mmap page %d: %w", id, err))
	}
	return data, nil
}

func (a *Allocator) rawUnload(view []byte) {
	if err := unix.Munmap(view); err != nil {
		a.fail(fmt.Errorf("filealloc: munmap: %w", err))
	}
}

// Close releases the allocator. The underlying file is left open; the
// caller owns its lifecycle.
func (a *Allocator) Close() error {
	return nil
}

func idKey(id storage.NodeID) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

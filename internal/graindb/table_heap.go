package graindb

import (
	"context"
	"fmt"
	"sync"
)

// TableHeap is the tuple storage the operators run against. Deletes are
// two-phase: MarkDelete tombstones the tuple, ApplyDelete removes it for
// good, RollbackDelete revives a tombstone — the insert/delete operators use
// the latter two to compensate after a failed lock acquisition.
type TableHeap interface {
	InsertTuple(ctx context.Context, tuple *Tuple) (RID, error)
	MarkDelete(ctx context.Context, rid RID) error
	ApplyDelete(ctx context.Context, rid RID) error
	RollbackDelete(ctx context.Context, rid RID) error
	GetTuple(ctx context.Context, rid RID) (*Tuple, error)
	Iterator() TableIterator
}

// TableIterator walks live tuples in storage order.
type TableIterator interface {
	Next() (*Tuple, bool)
}

// memTableHeap is an in-memory table heap. The page-file heap layer is the
// host's concern; this implementation exists so the executors can run in
// tests and the demo embedder.
type memTableHeap struct {
	pageID PageID

	mu     sync.RWMutex
	tuples []memTuple
}

type memTuple struct {
	values  []Value
	deleted bool
	dead    bool
}

// NewMemTableHeap creates an empty in-memory heap. The synthetic page id
// namespaces the RIDs it hands out so two heaps never collide in the lock
// manager's row map.
func NewMemTableHeap(pageID PageID) TableHeap {
	return &memTableHeap{pageID: pageID}
}

func (h *memTableHeap) InsertTuple(ctx context.Context, tuple *Tuple) (RID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	values := make([]Value, len(tuple.Values))
	copy(values, tuple.Values)
	h.tuples = append(h.tuples, memTuple{values: values})
	return RID{PageID: h.pageID, Slot: uint32(len(h.tuples) - 1)}, nil
}

func (h *memTableHeap) slot(rid RID) (*memTuple, error) {
	if rid.PageID != h.pageID || int(rid.Slot) >= len(h.tuples) {
		return nil, fmt.Errorf("rid %s not in table heap", rid)
	}
	return &h.tuples[rid.Slot], nil
}

func (h *memTableHeap) MarkDelete(ctx context.Context, rid RID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, err := h.slot(rid)
	if err != nil {
		return err
	}
	if t.dead || t.deleted {
		return fmt.Errorf("rid %s already deleted", rid)
	}
	t.deleted = true
	return nil
}

func (h *memTableHeap) ApplyDelete(ctx context.Context, rid RID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, err := h.slot(rid)
	if err != nil {
		return err
	}
	t.deleted = false
	t.dead = true
	return nil
}

func (h *memTableHeap) RollbackDelete(ctx context.Context, rid RID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, err := h.slot(rid)
	if err != nil {
		return err
	}
	if !t.deleted {
		return fmt.Errorf("rid %s is not tombstoned", rid)
	}
	t.deleted = false
	return nil
}

func (h *memTableHeap) GetTuple(ctx context.Context, rid RID) (*Tuple, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, err := h.slot(rid)
	if err != nil {
		return nil, err
	}
	if t.dead || t.deleted {
		return nil, fmt.Errorf("rid %s is deleted", rid)
	}
	values := make([]Value, len(t.values))
	copy(values, t.values)
	return &Tuple{Values: values, RID: rid}, nil
}

func (h *memTableHeap) Iterator() TableIterator {
	return &memTableIterator{heap: h}
}

type memTableIterator struct {
	heap *memTableHeap
	next int
}

func (it *memTableIterator) Next() (*Tuple, bool) {
	it.heap.mu.RLock()
	defer it.heap.mu.RUnlock()

	for it.next < len(it.heap.tuples) {
		idx := it.next
		it.next++
		t := it.heap.tuples[idx]
		if t.dead || t.deleted {
			continue
		}
		values := make([]Value, len(t.values))
		copy(values, t.values)
		return &Tuple{
			Values: values,
			RID:    RID{PageID: it.heap.pageID, Slot: uint32(idx)},
		}, true
	}
	return nil, false
}

package graindb

import "context"

// TreeIterator walks the leaf chain in key order. It keeps the current leaf
// pinned; Close releases the pin. The iterator does not hold the tree mutex,
// so it must not be interleaved with writers.
type TreeIterator[K IndexKey] struct {
	tree   *BPlusTree[K]
	guard  *PageGuard
	node   *treeNode[K]
	idx    int
	closed bool
}

// Iterator positions at the first key of the tree.
func (t *BPlusTree[K]) Iterator(ctx context.Context) (*TreeIterator[K], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return &TreeIterator[K]{tree: t}, nil
	}

	node, guard, err := t.loadNode(t.rootPageID)
	if err != nil {
		return nil, err
	}
	for !node.isLeaf() {
		childID := node.children[0]
		childNode, childGuard, err := t.loadNode(childID)
		if err != nil {
			guard.Release()
			return nil, err
		}
		guard.Release()
		node, guard = childNode, childGuard
	}
	return &TreeIterator[K]{tree: t, guard: guard, node: node}, nil
}

// IteratorAt positions at the first key >= key.
func (t *BPlusTree[K]) IteratorAt(ctx context.Context, key K) (*TreeIterator[K], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return &TreeIterator[K]{tree: t}, nil
	}

	node, guard, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	idx, _ := t.leafIndex(node, key)
	return &TreeIterator[K]{tree: t, guard: guard, node: node, idx: idx}, nil
}

// Next returns the next key/value pair, or ok=false once the chain is
// exhausted.
func (it *TreeIterator[K]) Next() (K, RID, bool, error) {
	var zero K
	if it.closed {
		return zero, RID{}, false, ErrIteratorClosed
	}

	for it.node != nil {
		if it.idx < it.node.size() {
			key := it.node.keys[it.idx]
			rid := it.node.rids[it.idx]
			it.idx++
			return key, rid, true, nil
		}

		nextID := it.node.next
		it.guard.Release()
		it.guard = nil
		it.node = nil
		it.idx = 0

		if !nextID.Valid() {
			break
		}
		node, guard, err := it.tree.loadNode(nextID)
		if err != nil {
			return zero, RID{}, false, err
		}
		it.node, it.guard = node, guard
	}
	return zero, RID{}, false, nil
}

// Close releases the pinned leaf. Safe to call multiple times.
func (it *TreeIterator[K]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	if it.guard != nil {
		it.guard.Release()
		it.guard = nil
	}
	it.node = nil
}

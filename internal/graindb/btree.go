package graindb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// BPlusTree is an on-disk, unique-key ordered index. Nodes are pages obtained
// from the buffer pool; leaves form a singly linked chain in key order. All
// public operations serialise on a tree-wide mutex, so a caller observes a
// point-in-time snapshot within a call.
type BPlusTree[K IndexKey] struct {
	logger          *zap.Logger
	name            string
	pool            *BufferPool
	header          *HeaderPage
	codec           keyCodec[K]
	less            func(a, b K) bool
	rootPageID      PageID
	leafMaxSize     int
	internalMaxSize int
	mu              sync.Mutex
}

type treeOptions[K IndexKey] struct {
	less          func(a, b K) bool
	maxStringSize int
}

type TreeOption[K IndexKey] func(*treeOptions[K])

// WithLess overrides the natural key ordering.
func WithLess[K IndexKey](less func(a, b K) bool) TreeOption[K] {
	return func(o *treeOptions[K]) {
		o.less = less
	}
}

// WithMaxStringSize sets the fixed key slot size used for string keys.
func WithMaxStringSize[K IndexKey](size int) TreeOption[K] {
	return func(o *treeOptions[K]) {
		o.maxStringSize = size
	}
}

// NewBPlusTree opens (or prepares to create) the named index. The root page
// id is recovered from the header page when one is provided; without a header
// the root only lives in memory. The tree is created lazily on first insert.
func NewBPlusTree[K IndexKey](
	logger *zap.Logger,
	name string,
	pool *BufferPool,
	header *HeaderPage,
	leafMaxSize, internalMaxSize int,
	opts ...TreeOption[K],
) (*BPlusTree[K], error) {
	options := treeOptions[K]{
		less:          func(a, b K) bool { return a < b },
		maxStringSize: 64,
	}
	for _, opt := range opts {
		opt(&options)
	}

	codec := newKeyCodec[K](options.maxStringSize)
	if leafMaxSize < 3 || internalMaxSize < 3 {
		return nil, fmt.Errorf("node max sizes must be at least 3, got leaf %d internal %d", leafMaxSize, internalMaxSize)
	}
	if nodeHeaderSize+leafMaxSize*codec.leafEntrySize() > PageSize {
		return nil, fmt.Errorf("leaf max size %d does not fit a page", leafMaxSize)
	}
	if nodeHeaderSize+(internalMaxSize+1)*codec.internalEntrySize() > PageSize {
		return nil, fmt.Errorf("internal max size %d does not fit a page", internalMaxSize)
	}

	rootPageID := InvalidPageID
	if header != nil {
		var err error
		rootPageID, err = header.GetRoot(name)
		if err != nil {
			return nil, err
		}
	}

	return &BPlusTree[K]{
		logger:          logger,
		name:            name,
		pool:            pool,
		header:          header,
		codec:           codec,
		less:            options.less,
		rootPageID:      rootPageID,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}, nil
}

func (t *BPlusTree[K]) Name() string {
	return t.name
}

// RootPageID returns the current root, or InvalidPageID for an empty tree.
func (t *BPlusTree[K]) RootPageID() PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootPageID
}

// min_size is ceil(max_size/2) for leaves and internal nodes alike, with the
// usual root exception.
func (t *BPlusTree[K]) minLeafSize() int {
	return (t.leafMaxSize + 1) / 2
}

func (t *BPlusTree[K]) minInternalSize() int {
	return (t.internalMaxSize + 1) / 2
}

func (t *BPlusTree[K]) setRoot(rootID PageID) error {
	t.rootPageID = rootID
	if t.header == nil {
		return nil
	}
	return t.header.SetRoot(t.name, rootID)
}

// loadNode pins the page and decodes it. The caller owns the returned guard.
func (t *BPlusTree[K]) loadNode(pageID PageID) (*treeNode[K], *PageGuard, error) {
	guard, err := t.pool.FetchGuard(pageID)
	if err != nil {
		return nil, nil, err
	}
	node, err := t.codec.unmarshalNode(guard.Data(), pageID)
	if err != nil {
		guard.Release()
		return nil, nil, err
	}
	return node, guard, nil
}

// storeNode encodes the node back into its page and marks the guard dirty.
func (t *BPlusTree[K]) storeNode(guard *PageGuard, node *treeNode[K]) error {
	if err := t.codec.marshalNode(guard.Data(), node); err != nil {
		return err
	}
	guard.MarkDirty()
	return nil
}

func (t *BPlusTree[K]) newNode(kind nodeKind) (*treeNode[K], *PageGuard, error) {
	guard, err := t.pool.NewGuard()
	if err != nil {
		return nil, nil, err
	}
	node := &treeNode[K]{
		kind:   kind,
		pageID: guard.PageID(),
		parent: InvalidPageID,
		next:   InvalidPageID,
	}
	return node, guard, nil
}

// dispose retires a node page. With a transaction attached the page id is
// parked in its deleted-page set and freed on commit; otherwise the page is
// deleted eagerly.
func (t *BPlusTree[K]) dispose(guard *PageGuard, txn *Transaction) error {
	if txn != nil {
		txn.AddDeletedPage(guard.PageID())
		guard.Release()
		return nil
	}
	_, err := guard.Drop()
	return err
}

// childIndex picks the descent child for key: the key at index j >= 1 is the
// minimum key reachable through children[j].
func (t *BPlusTree[K]) childIndex(node *treeNode[K], key K) int {
	return sort.Search(len(node.keys)-1, func(i int) bool {
		return t.less(key, node.keys[i+1])
	})
}

// leafIndex returns the position of key in the leaf and whether it is present.
func (t *BPlusTree[K]) leafIndex(node *treeNode[K], key K) (int, bool) {
	idx := sort.Search(len(node.keys), func(i int) bool {
		return !t.less(node.keys[i], key)
	})
	found := idx < len(node.keys) && !t.less(key, node.keys[idx])
	return idx, found
}

// findLeaf descends from the root to the leaf owning key, pinning each child
// before unpinning its parent. The caller owns the returned guard.
func (t *BPlusTree[K]) findLeaf(key K) (*treeNode[K], *PageGuard, error) {
	node, guard, err := t.loadNode(t.rootPageID)
	if err != nil {
		return nil, nil, err
	}
	for !node.isLeaf() {
		childID := node.children[t.childIndex(node, key)]
		childNode, childGuard, err := t.loadNode(childID)
		if err != nil {
			guard.Release()
			return nil, nil, err
		}
		guard.Release()
		node, guard = childNode, childGuard
	}
	return node, guard, nil
}

// GetValue performs a point lookup, returning the values equal to key (zero
// or one — keys are unique).
func (t *BPlusTree[K]) GetValue(ctx context.Context, key K) ([]RID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return nil, nil
	}
	node, guard, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if idx, found := t.leafIndex(node, key); found {
		return []RID{node.rids[idx]}, nil
	}
	return nil, nil
}

// Insert adds the key/value pair, returning ErrDuplicateKey if the key is
// already present.
func (t *BPlusTree[K]) Insert(ctx context.Context, key K, rid RID, txn *Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return t.startNewTree(key, rid)
	}

	node, guard, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	idx, found := t.leafIndex(node, key)
	if found {
		guard.Release()
		return ErrDuplicateKey
	}

	node.keys = append(node.keys, key)
	copy(node.keys[idx+1:], node.keys[idx:])
	node.keys[idx] = key
	node.rids = append(node.rids, rid)
	copy(node.rids[idx+1:], node.rids[idx:])
	node.rids[idx] = rid

	if node.size() < t.leafMaxSize {
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			return err
		}
		guard.Release()
		return nil
	}
	return t.splitLeaf(node, guard)
}

func (t *BPlusTree[K]) startNewTree(key K, rid RID) error {
	root, guard, err := t.newNode(leafKind)
	if err != nil {
		return err
	}
	defer guard.Release()

	root.keys = append(root.keys, key)
	root.rids = append(root.rids, rid)
	if err := t.storeNode(guard, root); err != nil {
		return err
	}
	return t.setRoot(root.pageID)
}

// splitLeaf moves the upper half of a full leaf into a fresh right sibling
// and pushes the separator into the parent. Takes ownership of the guard.
func (t *BPlusTree[K]) splitLeaf(node *treeNode[K], guard *PageGuard) error {
	right, rightGuard, err := t.newNode(leafKind)
	if err != nil {
		guard.Release()
		return err
	}

	mid := node.size() / 2
	right.keys = append(right.keys, node.keys[mid:]...)
	right.rids = append(right.rids, node.rids[mid:]...)
	node.keys = node.keys[:mid]
	node.rids = node.rids[:mid]

	right.next = node.next
	node.next = right.pageID
	right.parent = node.parent

	separator := right.keys[0]
	return t.insertIntoParent(node, guard, separator, right, rightGuard)
}

// insertIntoParent links a freshly split right sibling under the parent of
// left, growing a new root when left was the root. Takes ownership of both
// guards; left and right are stored before release.
func (t *BPlusTree[K]) insertIntoParent(
	left *treeNode[K], leftGuard *PageGuard,
	separator K,
	right *treeNode[K], rightGuard *PageGuard,
) error {
	release := func() {
		leftGuard.Release()
		rightGuard.Release()
	}

	if !left.parent.Valid() {
		newRoot, rootGuard, err := t.newNode(internalKind)
		if err != nil {
			release()
			return err
		}
		var unused K
		newRoot.keys = append(newRoot.keys, unused, separator)
		newRoot.children = append(newRoot.children, left.pageID, right.pageID)
		left.parent = newRoot.pageID
		right.parent = newRoot.pageID

		err = t.storeNode(rootGuard, newRoot)
		if err == nil {
			err = t.storeNode(leftGuard, left)
		}
		if err == nil {
			err = t.storeNode(rightGuard, right)
		}
		rootGuard.Release()
		release()
		if err != nil {
			return err
		}
		return t.setRoot(newRoot.pageID)
	}

	parent, parentGuard, err := t.loadNode(left.parent)
	if err != nil {
		release()
		return err
	}
	right.parent = parent.pageID

	vi := parent.childPos(left.pageID)
	if vi < 0 {
		parentGuard.Release()
		release()
		return fmt.Errorf("node %d not found under parent %d", left.pageID, parent.pageID)
	}
	parent.keys = append(parent.keys, separator)
	copy(parent.keys[vi+2:], parent.keys[vi+1:])
	parent.keys[vi+1] = separator
	parent.children = append(parent.children, right.pageID)
	copy(parent.children[vi+2:], parent.children[vi+1:])
	parent.children[vi+1] = right.pageID

	err = t.storeNode(leftGuard, left)
	if err == nil {
		err = t.storeNode(rightGuard, right)
	}
	release()
	if err != nil {
		parentGuard.Release()
		return err
	}

	if parent.size() <= t.internalMaxSize {
		if err := t.storeNode(parentGuard, parent); err != nil {
			parentGuard.Release()
			return err
		}
		parentGuard.Release()
		return nil
	}
	return t.splitInternal(parent, parentGuard)
}

// splitInternal splits an overflowing internal node, pushing the middle key
// up. Moved children get their parent pointer rewritten. Takes ownership of
// the guard.
func (t *BPlusTree[K]) splitInternal(node *treeNode[K], guard *PageGuard) error {
	right, rightGuard, err := t.newNode(internalKind)
	if err != nil {
		guard.Release()
		return err
	}

	mid := node.size() / 2
	pushUp := node.keys[mid]

	var unused K
	right.keys = append(right.keys, unused)
	right.keys = append(right.keys, node.keys[mid+1:]...)
	right.children = append(right.children, node.children[mid:]...)
	node.keys = node.keys[:mid]
	node.children = node.children[:mid]
	right.parent = node.parent

	for _, childID := range right.children {
		child, childGuard, err := t.loadNode(childID)
		if err != nil {
			guard.Release()
			rightGuard.Release()
			return err
		}
		child.parent = right.pageID
		if err := t.storeNode(childGuard, child); err != nil {
			childGuard.Release()
			guard.Release()
			rightGuard.Release()
			return err
		}
		childGuard.Release()
	}

	return t.insertIntoParent(node, guard, pushUp, right, rightGuard)
}

// Remove deletes the key if present; removing an absent key is a no-op.
func (t *BPlusTree[K]) Remove(ctx context.Context, key K, txn *Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return nil
	}

	node, guard, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	idx, found := t.leafIndex(node, key)
	if !found {
		guard.Release()
		return nil
	}
	node.keys = append(node.keys[:idx], node.keys[idx+1:]...)
	node.rids = append(node.rids[:idx], node.rids[idx+1:]...)

	if !node.parent.Valid() {
		// Root leaf: the tree becomes empty once the last entry goes.
		if node.size() == 0 {
			if err := t.dispose(guard, txn); err != nil {
				return err
			}
			return t.setRoot(InvalidPageID)
		}
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			return err
		}
		guard.Release()
		return nil
	}

	if node.size() >= t.minLeafSize() {
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			return err
		}
		guard.Release()
		return nil
	}
	return t.fixLeafUnderflow(node, guard, txn)
}

// childPos returns the index of childID among the node's children, or -1.
func (n *treeNode[K]) childPos(childID PageID) int {
	for i, id := range n.children {
		if id == childID {
			return i
		}
	}
	return -1
}

// fixLeafUnderflow restores the minimum-occupancy invariant for a non-root
// leaf, preferring to borrow from the left sibling, then the right, merging
// only when neither has slack. Takes ownership of the guard.
func (t *BPlusTree[K]) fixLeafUnderflow(node *treeNode[K], guard *PageGuard, txn *Transaction) error {
	parent, parentGuard, err := t.loadNode(node.parent)
	if err != nil {
		guard.Release()
		return err
	}
	vi := parent.childPos(node.pageID)
	if vi < 0 {
		guard.Release()
		parentGuard.Release()
		return fmt.Errorf("leaf %d not found under parent %d", node.pageID, parent.pageID)
	}

	releaseAll := func(guards ...*PageGuard) {
		for _, g := range guards {
			g.Release()
		}
	}

	// Borrow from the left sibling.
	if vi > 0 {
		left, leftGuard, err := t.loadNode(parent.children[vi-1])
		if err != nil {
			releaseAll(guard, parentGuard)
			return err
		}
		if left.size() > t.minLeafSize() {
			last := left.size() - 1
			node.keys = append([]K{left.keys[last]}, node.keys...)
			node.rids = append([]RID{left.rids[last]}, node.rids...)
			left.keys = left.keys[:last]
			left.rids = left.rids[:last]
			parent.keys[vi] = node.keys[0]

			err = t.storeNode(leftGuard, left)
			if err == nil {
				err = t.storeNode(guard, node)
			}
			if err == nil {
				err = t.storeNode(parentGuard, parent)
			}
			releaseAll(leftGuard, guard, parentGuard)
			return err
		}
		leftGuard.Release()
	}

	// Borrow from the right sibling.
	if vi < parent.size()-1 {
		right, rightGuard, err := t.loadNode(parent.children[vi+1])
		if err != nil {
			releaseAll(guard, parentGuard)
			return err
		}
		if right.size() > t.minLeafSize() {
			node.keys = append(node.keys, right.keys[0])
			node.rids = append(node.rids, right.rids[0])
			right.keys = right.keys[1:]
			right.rids = right.rids[1:]
			parent.keys[vi+1] = right.keys[0]

			err = t.storeNode(rightGuard, right)
			if err == nil {
				err = t.storeNode(guard, node)
			}
			if err == nil {
				err = t.storeNode(parentGuard, parent)
			}
			releaseAll(rightGuard, guard, parentGuard)
			return err
		}
		rightGuard.Release()
	}

	// Merge. Concatenate into the left partner, fix the leaf chain and drop
	// the emptied page together with its separator.
	if vi > 0 {
		left, leftGuard, err := t.loadNode(parent.children[vi-1])
		if err != nil {
			releaseAll(guard, parentGuard)
			return err
		}
		left.keys = append(left.keys, node.keys...)
		left.rids = append(left.rids, node.rids...)
		left.next = node.next
		if err := t.storeNode(leftGuard, left); err != nil {
			releaseAll(leftGuard, guard, parentGuard)
			return err
		}
		leftGuard.Release()
		if err := t.dispose(guard, txn); err != nil {
			parentGuard.Release()
			return err
		}
		parent.keys = append(parent.keys[:vi], parent.keys[vi+1:]...)
		parent.children = append(parent.children[:vi], parent.children[vi+1:]...)
	} else {
		right, rightGuard, err := t.loadNode(parent.children[vi+1])
		if err != nil {
			releaseAll(guard, parentGuard)
			return err
		}
		node.keys = append(node.keys, right.keys...)
		node.rids = append(node.rids, right.rids...)
		node.next = right.next
		if err := t.storeNode(guard, node); err != nil {
			releaseAll(guard, rightGuard, parentGuard)
			return err
		}
		guard.Release()
		if err := t.dispose(rightGuard, txn); err != nil {
			parentGuard.Release()
			return err
		}
		parent.keys = append(parent.keys[:vi+1], parent.keys[vi+2:]...)
		parent.children = append(parent.children[:vi+1], parent.children[vi+2:]...)
	}

	return t.fixInternalAfterRemoval(parent, parentGuard, txn)
}

// fixInternalAfterRemoval re-establishes invariants on an internal node that
// just lost a child: shrink the root, borrow a child through the parent, or
// merge with a sibling and ascend. Takes ownership of the guard.
func (t *BPlusTree[K]) fixInternalAfterRemoval(node *treeNode[K], guard *PageGuard, txn *Transaction) error {
	if !node.parent.Valid() {
		// Root with a single child left: promote the child.
		if node.size() == 1 {
			childID := node.children[0]
			child, childGuard, err := t.loadNode(childID)
			if err != nil {
				guard.Release()
				return err
			}
			child.parent = InvalidPageID
			if err := t.storeNode(childGuard, child); err != nil {
				childGuard.Release()
				guard.Release()
				return err
			}
			childGuard.Release()
			if err := t.dispose(guard, txn); err != nil {
				return err
			}
			return t.setRoot(childID)
		}
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			return err
		}
		guard.Release()
		return nil
	}

	if node.size() >= t.minInternalSize() {
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			return err
		}
		guard.Release()
		return nil
	}

	parent, parentGuard, err := t.loadNode(node.parent)
	if err != nil {
		guard.Release()
		return err
	}
	vi := parent.childPos(node.pageID)
	if vi < 0 {
		guard.Release()
		parentGuard.Release()
		return fmt.Errorf("internal node %d not found under parent %d", node.pageID, parent.pageID)
	}

	// Borrow a child from the left sibling, rotating the separator through
	// the parent.
	if vi > 0 {
		left, leftGuard, err := t.loadNode(parent.children[vi-1])
		if err != nil {
			guard.Release()
			parentGuard.Release()
			return err
		}
		if left.size() > t.minInternalSize() {
			last := left.size() - 1
			movedChild := left.children[last]

			node.children = append([]PageID{movedChild}, node.children...)
			var unused K
			newKeys := make([]K, 0, len(node.keys)+1)
			newKeys = append(newKeys, unused, parent.keys[vi])
			newKeys = append(newKeys, node.keys[1:]...)
			node.keys = newKeys

			parent.keys[vi] = left.keys[last]
			left.keys = left.keys[:last]
			left.children = left.children[:last]

			if err := t.reparentChild(movedChild, node.pageID); err != nil {
				leftGuard.Release()
				guard.Release()
				parentGuard.Release()
				return err
			}

			err = t.storeNode(leftGuard, left)
			if err == nil {
				err = t.storeNode(guard, node)
			}
			if err == nil {
				err = t.storeNode(parentGuard, parent)
			}
			leftGuard.Release()
			guard.Release()
			parentGuard.Release()
			return err
		}
		leftGuard.Release()
	}

	// Borrow from the right sibling.
	if vi < parent.size()-1 {
		right, rightGuard, err := t.loadNode(parent.children[vi+1])
		if err != nil {
			guard.Release()
			parentGuard.Release()
			return err
		}
		if right.size() > t.minInternalSize() {
			movedChild := right.children[0]

			node.children = append(node.children, movedChild)
			node.keys = append(node.keys, parent.keys[vi+1])

			parent.keys[vi+1] = right.keys[1]
			var unused K
			newKeys := make([]K, 0, len(right.keys)-1)
			newKeys = append(newKeys, unused)
			newKeys = append(newKeys, right.keys[2:]...)
			right.keys = newKeys
			right.children = right.children[1:]

			if err := t.reparentChild(movedChild, node.pageID); err != nil {
				rightGuard.Release()
				guard.Release()
				parentGuard.Release()
				return err
			}

			err = t.storeNode(rightGuard, right)
			if err == nil {
				err = t.storeNode(guard, node)
			}
			if err == nil {
				err = t.storeNode(parentGuard, parent)
			}
			rightGuard.Release()
			guard.Release()
			parentGuard.Release()
			return err
		}
		rightGuard.Release()
	}

	// Merge with a sibling, pulling the separator down, and ascend.
	if vi > 0 {
		left, leftGuard, err := t.loadNode(parent.children[vi-1])
		if err != nil {
			guard.Release()
			parentGuard.Release()
			return err
		}
		left.keys = append(left.keys, parent.keys[vi])
		left.keys = append(left.keys, node.keys[1:]...)
		moved := node.children
		left.children = append(left.children, moved...)

		for _, childID := range moved {
			if err := t.reparentChild(childID, left.pageID); err != nil {
				leftGuard.Release()
				guard.Release()
				parentGuard.Release()
				return err
			}
		}
		if err := t.storeNode(leftGuard, left); err != nil {
			leftGuard.Release()
			guard.Release()
			parentGuard.Release()
			return err
		}
		leftGuard.Release()
		if err := t.dispose(guard, txn); err != nil {
			parentGuard.Release()
			return err
		}
		parent.keys = append(parent.keys[:vi], parent.keys[vi+1:]...)
		parent.children = append(parent.children[:vi], parent.children[vi+1:]...)
	} else {
		right, rightGuard, err := t.loadNode(parent.children[vi+1])
		if err != nil {
			guard.Release()
			parentGuard.Release()
			return err
		}
		node.keys = append(node.keys, parent.keys[vi+1])
		node.keys = append(node.keys, right.keys[1:]...)
		moved := right.children
		node.children = append(node.children, moved...)

		for _, childID := range moved {
			if err := t.reparentChild(childID, node.pageID); err != nil {
				rightGuard.Release()
				guard.Release()
				parentGuard.Release()
				return err
			}
		}
		if err := t.storeNode(guard, node); err != nil {
			guard.Release()
			rightGuard.Release()
			parentGuard.Release()
			return err
		}
		guard.Release()
		if err := t.dispose(rightGuard, txn); err != nil {
			parentGuard.Release()
			return err
		}
		parent.keys = append(parent.keys[:vi+1], parent.keys[vi+2:]...)
		parent.children = append(parent.children[:vi+1], parent.children[vi+2:]...)
	}

	return t.fixInternalAfterRemoval(parent, parentGuard, txn)
}

func (t *BPlusTree[K]) reparentChild(childID, parentID PageID) error {
	child, childGuard, err := t.loadNode(childID)
	if err != nil {
		return err
	}
	child.parent = parentID
	if err := t.storeNode(childGuard, child); err != nil {
		childGuard.Release()
		return err
	}
	childGuard.Release()
	return nil
}

// Height returns the number of levels, 0 for an empty tree.
func (t *BPlusTree[K]) Height(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootPageID.Valid() {
		return 0, nil
	}
	height := 1
	node, guard, err := t.loadNode(t.rootPageID)
	if err != nil {
		return 0, err
	}
	for !node.isLeaf() {
		childID := node.children[0]
		guard.Release()
		height++
		node, guard, err = t.loadNode(childID)
		if err != nil {
			return 0, err
		}
	}
	guard.Release()
	return height, nil
}

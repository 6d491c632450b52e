// Package exthash implements a concurrent extendible hash table. The
// directory doubles on demand while buckets split locally, so resizing never
// rehashes more than one bucket at a time. A single coarse mutex covers the
// whole table.
package exthash

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultBucketSize = 16

// Hasher turns a key into the bits the directory is indexed by.
type Hasher[K comparable] func(K) uint64

// StringHasher hashes string-like keys with xxhash.
func StringHasher[K ~string](key K) uint64 {
	return xxhash.Sum64String(string(key))
}

// IntHasher hashes integer keys via their fixed-width little-endian encoding,
// so the low directory bits are well mixed even for dense sequential keys.
func IntHasher[K ~int | ~int32 | ~int64 | ~uint32 | ~uint64](key K) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return xxhash.Sum64(buf[:])
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

type bucket[K comparable, V any] struct {
	localDepth int
	size       int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](size, depth int) *bucket[K, V] {
	return &bucket[K, V]{
		localDepth: depth,
		size:       size,
		entries:    make([]entry[K, V], 0, size),
	}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites an existing key, otherwise appends if there is capacity.
func (b *bucket[K, V]) insert(key K, value V) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries[i].value = value
			return true
		}
	}
	if len(b.entries) >= b.size {
		return false
	}
	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
	return true
}

type Table[K comparable, V any] struct {
	globalDepth int
	bucketSize  int
	numBuckets  int
	hasher      Hasher[K]
	dir         []*bucket[K, V]
	mu          sync.Mutex
}

// New creates a table with a single bucket at global depth 0.
func New[K comparable, V any](bucketSize int, hasher Hasher[K]) *Table[K, V] {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	t := &Table[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		hasher:     hasher,
	}
	t.dir = append(t.dir, newBucket[K, V](bucketSize, 0))
	return t
}

func (t *Table[K, V]) indexOf(key K) int {
	mask := uint64(1)<<t.globalDepth - 1
	return int(t.hasher(key) & mask)
}

func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].find(key)
}

func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert adds or overwrites a mapping, splitting the target bucket (and
// doubling the directory when the bucket is already at global depth) until the
// entry fits. Splits terminate once the colliding entries separate at the new
// depth.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		b := t.dir[t.indexOf(key)]
		if b.insert(key, value) {
			return
		}

		if b.localDepth == t.globalDepth {
			// Double the directory, aliasing the new upper half onto
			// the buckets of the lower half.
			old := len(t.dir)
			t.dir = append(t.dir, make([]*bucket[K, V], old)...)
			for i := 0; i < old; i++ {
				t.dir[old+i] = t.dir[i]
			}
			t.globalDepth++
		}
		t.splitBucket(b)
	}
}

// splitBucket raises the bucket's local depth by one and moves the entries
// whose new depth bit is set into a fresh sibling bucket, rewriting every
// directory slot that aliased the old bucket.
func (t *Table[K, V]) splitBucket(b *bucket[K, V]) {
	oldDepth := b.localDepth
	b.localDepth++
	t.numBuckets++

	sibling := newBucket[K, V](t.bucketSize, b.localDepth)

	// The old bucket keeps the slots whose bit at position oldDepth is
	// clear; the sibling takes those where it is set.
	highBit := uint64(1) << oldDepth
	for i, dirBucket := range t.dir {
		if dirBucket == b && uint64(i)&highBit != 0 {
			t.dir[i] = sibling
		}
	}

	entries := b.entries
	b.entries = make([]entry[K, V], 0, t.bucketSize)
	for _, e := range entries {
		target := t.dir[t.indexOf(e.key)]
		target.entries = append(target.entries, e)
	}
}

func (t *Table[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

func (t *Table[K, V]) LocalDepth(dirIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[dirIndex].localDepth
}

func (t *Table[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// Len returns the number of stored entries.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	seen := make(map[*bucket[K, V]]struct{}, t.numBuckets)
	for _, b := range t.dir {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		n += len(b.entries)
	}
	return n
}

// Range calls fn for every entry until fn returns false. The table mutex is
// held for the duration of the walk.
func (t *Table[K, V]) Range(fn func(key K, value V) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*bucket[K, V]]struct{}, t.numBuckets)
	for _, b := range t.dir {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		for _, e := range b.entries {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

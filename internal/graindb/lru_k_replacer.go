package graindb

import (
	"fmt"
	"sync"
)

// lruKEntry tracks one frame inside the replacer. history holds up to K
// access timestamps, most recent first.
type lruKEntry struct {
	history   []uint64
	evictable bool
}

// LRUKReplacer picks eviction victims for the buffer pool by backward
// K-distance: frames with fewer than K recorded accesses have infinite
// distance and are preferred; otherwise the frame whose Kth most recent access
// is oldest wins. Frames start out non-evictable.
type LRUKReplacer struct {
	k         int
	capacity  int
	timestamp uint64
	// order preserves first-access order so infinite-distance ties break
	// towards the earliest-seen frame.
	order  []FrameID
	frames map[FrameID]*lruKEntry
	mu     sync.Mutex
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:        k,
		capacity: numFrames,
		frames:   make(map[FrameID]*lruKEntry, numFrames),
	}
}

// RecordAccess appends a new access timestamp for the frame, creating the
// entry on first access.
func (r *LRUKReplacer) RecordAccess(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp++
	e, ok := r.frames[frameID]
	if !ok {
		e = &lruKEntry{history: make([]uint64, 0, r.k)}
		r.frames[frameID] = e
		r.order = append(r.order, frameID)
	}
	e.history = append([]uint64{r.timestamp}, e.history...)
	if len(e.history) > r.k {
		e.history = e.history[:r.k]
	}
}

// SetEvictable flips the frame's evictable flag. Unknown frames are ignored.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp++
	if e, ok := r.frames[frameID]; ok {
		e.evictable = evictable
	}
}

// Evict removes and returns the evictable frame with the largest backward
// K-distance, or false when nothing is evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp++

	var (
		victim      FrameID
		found       bool
		oldestKth   uint64
		foundFinite bool
	)
	for _, frameID := range r.order {
		e := r.frames[frameID]
		if !e.evictable {
			continue
		}
		if len(e.history) < r.k {
			// Infinite K-distance wins outright; first-access order
			// breaks ties.
			victim = frameID
			found = true
			break
		}
		kth := e.history[len(e.history)-1]
		if !foundFinite || kth < oldestKth {
			victim = frameID
			oldestKth = kth
			found = true
			foundFinite = true
		}
	}

	if found {
		r.removeLocked(victim)
	}
	return victim, found
}

// Remove drops the frame's entry entirely. Removing a non-evictable frame is
// a contract violation.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp++
	e, ok := r.frames[frameID]
	if !ok {
		return
	}
	if !e.evictable {
		panic(fmt.Sprintf("removing non-evictable frame %d from replacer", frameID))
	}
	r.removeLocked(frameID)
}

func (r *LRUKReplacer) removeLocked(frameID FrameID) {
	delete(r.frames, frameID)
	for i, id := range r.order {
		if id == frameID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Size is the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.frames {
		if e.evictable {
			n++
		}
	}
	return n
}

package graindb

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardKnop/graindb/pkg/exthash"
)

// BufferPool caches a fixed number of page frames over a disk manager. The
// page table is an extendible hash directory, eviction policy is LRU-K.
//
// Caller contract: every FetchPage/NewPage must be matched by exactly one
// UnpinPage with the correct dirty flag on every exit path. A page pointer is
// stable only while the page stays pinned.
type BufferPool struct {
	logger    *zap.Logger
	poolSize  int
	frames    []*Page
	freeList  []FrameID
	pageTable *exthash.Table[PageID, FrameID]
	replacer  *LRUKReplacer
	disk      DiskManager

	nextPageID PageID
	mu         sync.Mutex
}

func NewBufferPool(logger *zap.Logger, poolSize, replacerK int, disk DiskManager) *BufferPool {
	frames := make([]*Page, poolSize)
	freeList := make([]FrameID, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = newPage()
		freeList = append(freeList, FrameID(i))
	}
	return &BufferPool{
		logger:    logger,
		poolSize:  poolSize,
		frames:    frames,
		freeList:  freeList,
		pageTable: exthash.New[PageID, FrameID](exthash.DefaultBucketSize, exthash.IntHasher[PageID]),
		replacer:  NewLRUKReplacer(poolSize, replacerK),
		disk:      disk,
	}
}

func (b *BufferPool) PoolSize() int {
	return b.poolSize
}

// allocateFrame takes a frame from the free list, or evicts a victim, writing
// it back first if dirty. Returns ErrNoFreeFrame when every frame is pinned.
func (b *BufferPool) allocateFrame() (FrameID, error) {
	if len(b.freeList) > 0 {
		frameID := b.freeList[0]
		b.freeList = b.freeList[1:]
		return frameID, nil
	}

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	victim := b.frames[frameID]
	if victim.isDirty {
		if err := b.disk.WritePage(victim.id, victim.Data()); err != nil {
			return 0, err
		}
		victim.isDirty = false
	}
	b.pageTable.Remove(victim.id)
	b.logger.Debug("evicted page",
		zap.Int32("page_id", int32(victim.id)),
		zap.Int32("frame_id", int32(frameID)),
	)
	return frameID, nil
}

// NewPage allocates a fresh page id, materialises it in a frame and returns
// the page pinned once.
func (b *BufferPool) NewPage() (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, err := b.allocateFrame()
	if err != nil {
		return nil, err
	}

	pageID := b.nextPageID
	b.nextPageID++

	page := b.frames[frameID]
	page.reset()
	page.id = pageID
	page.pinCount = 1

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)

	return page, nil
}

// FetchPage returns the mapped page, reading it from disk if necessary. The
// page comes back pinned.
func (b *BufferPool) FetchPage(pageID PageID) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		page := b.frames[frameID]
		page.pinCount++
		b.replacer.RecordAccess(frameID)
		b.replacer.SetEvictable(frameID, false)
		return page, nil
	}

	frameID, err := b.allocateFrame()
	if err != nil {
		return nil, err
	}

	page := b.frames[frameID]
	page.reset()
	if err := b.disk.ReadPage(pageID, page.Data()); err != nil {
		// Frame stays usable for the next caller.
		b.freeList = append(b.freeList, frameID)
		return nil, err
	}
	page.id = pageID
	page.pinCount = 1

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)

	return page, nil
}

// UnpinPage drops one pin, merging the dirty flag. Returns false when the
// page is unmapped or already unpinned.
func (b *BufferPool) UnpinPage(pageID PageID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}
	page := b.frames[frameID]
	if page.pinCount <= 0 {
		return false
	}
	if isDirty {
		page.isDirty = true
	}
	page.pinCount--
	if page.pinCount == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes the page through regardless of the dirty bit and clears it.
func (b *BufferPool) FlushPage(pageID PageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushPageLocked(pageID)
}

func (b *BufferPool) flushPageLocked(pageID PageID) error {
	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotFound
	}
	page := b.frames[frameID]
	if err := b.disk.WritePage(pageID, page.Data()); err != nil {
		return err
	}
	page.isDirty = false
	return nil
}

// FlushAll writes every mapped page back to disk, collecting any errors.
func (b *BufferPool) FlushAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pageIDs []PageID
	b.pageTable.Range(func(pageID PageID, _ FrameID) bool {
		pageIDs = append(pageIDs, pageID)
		return true
	})

	var err error
	for _, pageID := range pageIDs {
		err = multierr.Append(err, b.flushPageLocked(pageID))
	}
	return err
}

// DeletePage removes an unpinned page from the pool and reclaims its frame.
// Deleting an unmapped page succeeds trivially.
func (b *BufferPool) DeletePage(pageID PageID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}
	page := b.frames[frameID]
	if page.pinCount > 0 {
		return false, ErrPagePinned
	}

	b.pageTable.Remove(pageID)
	b.replacer.Remove(frameID)
	page.reset()
	b.freeList = append(b.freeList, frameID)
	return true, nil
}

// Close flushes everything and closes the disk manager.
func (b *BufferPool) Close() error {
	return multierr.Append(b.FlushAll(), b.disk.Close())
}

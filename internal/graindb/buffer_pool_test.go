package graindb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_NewPageAndEviction(t *testing.T) {
	t.Parallel()

	pool, disk := newTestPool(10, 2)

	// Fill the pool; ids are handed out monotonically.
	pages := make([]*Page, 0, 10)
	for i := 0; i < 10; i++ {
		page, err := pool.NewPage()
		require.NoError(t, err)
		assert.Equal(t, PageID(i), page.ID())
		assert.Equal(t, 1, page.PinCount())
		pages = append(pages, page)
	}

	// Everything is pinned, nothing can be allocated or fetched anew.
	_, err := pool.NewPage()
	assert.ErrorIs(t, err, ErrNoFreeFrame)

	// Unpin pages 0..4 dirty, freeing five frames.
	for i := 0; i < 5; i++ {
		copy(pages[i].Data(), []byte{byte(i + 1)})
		require.True(t, pool.UnpinPage(PageID(i), true))
	}

	// The next allocation evicts page 0's frame and writes it back.
	page, err := pool.NewPage()
	require.NoError(t, err)
	assert.Equal(t, PageID(10), page.ID())
	assert.Equal(t, 1, disk.WriteCount(0))

	// Page 0 can still be fetched; it comes back from disk intact.
	require.True(t, pool.UnpinPage(10, false))
	fetched, err := pool.FetchPage(0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), fetched.Data()[0])
	require.True(t, pool.UnpinPage(0, false))
}

func TestBufferPool_UnpinContract(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(4, 2)

	page, err := pool.NewPage()
	require.NoError(t, err)
	pageID := page.ID()

	// Nested fetch pins stack.
	_, err = pool.FetchPage(pageID)
	require.NoError(t, err)
	assert.Equal(t, 2, page.PinCount())

	require.True(t, pool.UnpinPage(pageID, false))
	require.True(t, pool.UnpinPage(pageID, true))
	assert.Equal(t, 0, page.PinCount())
	assert.True(t, page.IsDirty())

	// A third unpin breaks the contract.
	assert.False(t, pool.UnpinPage(pageID, false))
	// Unknown page ids fail too.
	assert.False(t, pool.UnpinPage(999, false))
}

func TestBufferPool_DeletePage(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(4, 2)

	page, err := pool.NewPage()
	require.NoError(t, err)
	pageID := page.ID()

	// Pinned pages cannot be deleted.
	ok, err := pool.DeletePage(pageID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPagePinned)

	require.True(t, pool.UnpinPage(pageID, false))
	ok, err = pool.DeletePage(pageID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Deleting an unmapped page succeeds trivially.
	ok, err = pool.DeletePage(pageID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBufferPool_FlushPage(t *testing.T) {
	t.Parallel()

	pool, disk := newTestPool(4, 2)

	page, err := pool.NewPage()
	require.NoError(t, err)
	copy(page.Data(), []byte("hello"))

	// Flush is write-through regardless of the dirty bit and clears it.
	require.NoError(t, pool.FlushPage(page.ID()))
	assert.Equal(t, 1, disk.WriteCount(page.ID()))
	assert.False(t, page.IsDirty())

	assert.ErrorIs(t, pool.FlushPage(999), ErrPageNotFound)

	require.True(t, pool.UnpinPage(page.ID(), true))

	second, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(second.ID(), true))

	require.NoError(t, pool.FlushAll())
	assert.Equal(t, 2, disk.WriteCount(page.ID()))
	assert.Equal(t, 1, disk.WriteCount(second.ID()))
}

func TestBufferPool_PageGuard(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(4, 2)

	guard, err := pool.NewGuard()
	require.NoError(t, err)
	pageID := guard.PageID()
	assert.Equal(t, 1, guard.Page().PinCount())

	// Release is idempotent: exactly one unpin happens.
	guard.Release()
	guard.Release()
	assert.Equal(t, 0, guard.Page().PinCount())

	// New pages are born dirty so they reach disk at least once.
	assert.True(t, guard.Page().IsDirty())

	readGuard, err := pool.FetchGuard(pageID)
	require.NoError(t, err)
	assert.Equal(t, 1, readGuard.Page().PinCount())
	readGuard.Release()
	assert.Equal(t, 0, readGuard.Page().PinCount())
}

package graindb

// PageGuard is a scoped pin on a buffer-pool page. It guarantees exactly one
// unpin on every exit path; mark the guard dirty before releasing when the
// page contents were modified. Release is idempotent so it can sit in a defer
// alongside early explicit releases.
type PageGuard struct {
	pool     *BufferPool
	page     *Page
	dirty    bool
	released bool
}

// FetchGuard pins an existing page and wraps it in a guard.
func (b *BufferPool) FetchGuard(pageID PageID) (*PageGuard, error) {
	page, err := b.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return &PageGuard{pool: b, page: page}, nil
}

// NewGuard allocates a fresh page and wraps it in a guard. New pages are
// born dirty; they must reach disk at least once.
func (b *BufferPool) NewGuard() (*PageGuard, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	return &PageGuard{pool: b, page: page, dirty: true}, nil
}

func (g *PageGuard) Page() *Page {
	return g.page
}

func (g *PageGuard) PageID() PageID {
	return g.page.ID()
}

func (g *PageGuard) Data() []byte {
	return g.page.Data()
}

func (g *PageGuard) MarkDirty() {
	g.dirty = true
}

// Release unpins the page, carrying the accumulated dirty flag. Safe to call
// more than once; only the first call unpins.
func (g *PageGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.pool.UnpinPage(g.page.ID(), g.dirty)
}

// Drop releases the guard and deletes the page from the pool. Used for pages
// that came out of a merge and hold no live data.
func (g *PageGuard) Drop() (bool, error) {
	g.Release()
	return g.pool.DeletePage(g.page.ID())
}

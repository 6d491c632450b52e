package graindb

import (
	"encoding/binary"
	"fmt"
)

// Page 0 is the header page. It carries the directory of persistent indexes:
// a count followed by (name length, name bytes, root page id) records.
const (
	headerPageID      PageID = 0
	maxIndexNameSize         = 255
)

// headerDirectory is the decoded form of the header page.
type headerDirectory struct {
	roots map[string]PageID
}

func newHeaderDirectory() *headerDirectory {
	return &headerDirectory{roots: make(map[string]PageID)}
}

func (h *headerDirectory) get(name string) (PageID, bool) {
	rootID, ok := h.roots[name]
	return rootID, ok
}

func (h *headerDirectory) set(name string, rootID PageID) {
	h.roots[name] = rootID
}

func (h *headerDirectory) remove(name string) {
	delete(h.roots, name)
}

func (h *headerDirectory) Marshal(buf []byte) error {
	if len(buf) < PageSize {
		return fmt.Errorf("header page buffer too small: %d", len(buf))
	}
	i := uint64(2)
	count := uint16(0)
	for name, rootID := range h.roots {
		if len(name) == 0 || len(name) > maxIndexNameSize {
			return fmt.Errorf("invalid index name %q", name)
		}
		need := 1 + uint64(len(name)) + 4
		if i+need > PageSize {
			return fmt.Errorf("header page overflow at index %q", name)
		}
		buf[i] = byte(len(name))
		i++
		copy(buf[i:], name)
		i += uint64(len(name))
		binary.LittleEndian.PutUint32(buf[i:], uint32(rootID))
		i += 4
		count++
	}
	binary.LittleEndian.PutUint16(buf[0:], count)
	return nil
}

func (h *headerDirectory) Unmarshal(buf []byte) error {
	h.roots = make(map[string]PageID)
	count := binary.LittleEndian.Uint16(buf[0:])
	i := uint64(2)
	for n := uint16(0); n < count; n++ {
		nameLen := uint64(buf[i])
		i++
		name := string(buf[i : i+nameLen])
		i += nameLen
		rootID := PageID(int32(binary.LittleEndian.Uint32(buf[i:])))
		i += 4
		h.roots[name] = rootID
	}
	return nil
}

// HeaderPage provides access to the index directory through the buffer pool.
// The header page must be allocated (page id 0) before first use; Bootstrap
// does that for an empty pool.
type HeaderPage struct {
	pool *BufferPool
}

func NewHeaderPage(pool *BufferPool) *HeaderPage {
	return &HeaderPage{pool: pool}
}

// Bootstrap allocates page 0 on a fresh database and writes an empty
// directory into it.
func (h *HeaderPage) Bootstrap() error {
	guard, err := h.pool.NewGuard()
	if err != nil {
		return err
	}
	defer guard.Release()

	if guard.PageID() != headerPageID {
		return fmt.Errorf("header page must be page 0, got %d", guard.PageID())
	}
	dir := newHeaderDirectory()
	return dir.Marshal(guard.Data())
}

// GetRoot returns the root page id recorded for the index, or InvalidPageID.
func (h *HeaderPage) GetRoot(name string) (PageID, error) {
	guard, err := h.pool.FetchGuard(headerPageID)
	if err != nil {
		return InvalidPageID, err
	}
	defer guard.Release()

	dir := newHeaderDirectory()
	if err := dir.Unmarshal(guard.Data()); err != nil {
		return InvalidPageID, err
	}
	rootID, ok := dir.get(name)
	if !ok {
		return InvalidPageID, nil
	}
	return rootID, nil
}

// SetRoot publishes a new root page id for the index. InvalidPageID removes
// the entry.
func (h *HeaderPage) SetRoot(name string, rootID PageID) error {
	guard, err := h.pool.FetchGuard(headerPageID)
	if err != nil {
		return err
	}
	defer guard.Release()

	dir := newHeaderDirectory()
	if err := dir.Unmarshal(guard.Data()); err != nil {
		return err
	}
	if rootID.Valid() {
		dir.set(name, rootID)
	} else {
		dir.remove(name)
	}
	if err := dir.Marshal(guard.Data()); err != nil {
		return err
	}
	guard.MarkDirty()
	return nil
}

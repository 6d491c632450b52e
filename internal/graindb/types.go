package graindb

import "fmt"

const (
	// PageSize is the unit of transfer between the disk manager and the
	// buffer pool.
	PageSize = 4096
)

type PageID int32

const InvalidPageID PageID = -1

func (p PageID) Valid() bool {
	return p != InvalidPageID
}

type FrameID int32

type TxnID int64

const InvalidTxnID TxnID = -1

type TableOID uint32

// RID locates a tuple inside a table heap.
type RID struct {
	PageID PageID
	Slot   uint32
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.Slot)
}

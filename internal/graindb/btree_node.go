package graindb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// IndexKey is the set of key types the B+Tree can store on a page.
type IndexKey interface {
	int32 | int64 | float64 | string
}

type nodeKind uint8

const (
	leafKind     nodeKind = 1
	internalKind nodeKind = 2
)

// Node page layout:
//
//	kind(1) | size(2) | parent(4) | next(4) | entries...
//
// Leaf entries are key + RID (page id 4, slot 4). Internal entries are
// key + child page id; the key in slot 0 is reserved and never compared —
// the key at index i >= 1 is the smallest key reachable through children[i].
const nodeHeaderSize = 1 + 2 + 4 + 4

// treeNode is the decoded form of a B+Tree page, a tagged variant over the
// shared header: leaves fill rids, internal nodes fill children.
type treeNode[K IndexKey] struct {
	kind     nodeKind
	pageID   PageID
	parent   PageID
	next     PageID
	keys     []K
	rids     []RID
	children []PageID
}

func (n *treeNode[K]) isLeaf() bool {
	return n.kind == leafKind
}

// size is the entry count: key/value pairs for leaves, children for internal
// nodes.
func (n *treeNode[K]) size() int {
	if n.isLeaf() {
		return len(n.keys)
	}
	return len(n.children)
}

// keyCodec marshals fixed-width keys in and out of node pages. String keys
// occupy a fixed slot of 2 length bytes plus the configured maximum.
type keyCodec[K IndexKey] struct {
	slotSize int
}

func newKeyCodec[K IndexKey](maxStringSize int) keyCodec[K] {
	var zero K
	switch any(zero).(type) {
	case int32:
		return keyCodec[K]{slotSize: 4}
	case int64, float64:
		return keyCodec[K]{slotSize: 8}
	default:
		return keyCodec[K]{slotSize: 2 + maxStringSize}
	}
}

func (c keyCodec[K]) marshal(buf []byte, key K) {
	switch v := any(key).(type) {
	case int32:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case int64:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	case float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	case string:
		binary.LittleEndian.PutUint16(buf, uint16(len(v)))
		copy(buf[2:], v)
	}
}

func (c keyCodec[K]) unmarshal(buf []byte) K {
	var zero K
	switch any(zero).(type) {
	case int32:
		return any(int32(binary.LittleEndian.Uint32(buf))).(K)
	case int64:
		return any(int64(binary.LittleEndian.Uint64(buf))).(K)
	case float64:
		return any(math.Float64frombits(binary.LittleEndian.Uint64(buf))).(K)
	default:
		size := binary.LittleEndian.Uint16(buf)
		return any(string(buf[2 : 2+size])).(K)
	}
}

func (c keyCodec[K]) leafEntrySize() int {
	return c.slotSize + 8
}

func (c keyCodec[K]) internalEntrySize() int {
	return c.slotSize + 4
}

func (c keyCodec[K]) marshalNode(buf []byte, n *treeNode[K]) error {
	size := n.size()
	if size > int(^uint16(0)) {
		return fmt.Errorf("node %d too large: %d entries", n.pageID, size)
	}

	buf[0] = byte(n.kind)
	binary.LittleEndian.PutUint16(buf[1:], uint16(size))
	binary.LittleEndian.PutUint32(buf[3:], uint32(n.parent))
	binary.LittleEndian.PutUint32(buf[7:], uint32(n.next))

	i := nodeHeaderSize
	if n.isLeaf() {
		if i+size*c.leafEntrySize() > PageSize {
			return fmt.Errorf("leaf %d overflows page: %d entries", n.pageID, size)
		}
		for j := 0; j < size; j++ {
			c.marshal(buf[i:], n.keys[j])
			i += c.slotSize
			binary.LittleEndian.PutUint32(buf[i:], uint32(n.rids[j].PageID))
			binary.LittleEndian.PutUint32(buf[i+4:], n.rids[j].Slot)
			i += 8
		}
		return nil
	}

	if i+size*c.internalEntrySize() > PageSize {
		return fmt.Errorf("internal node %d overflows page: %d children", n.pageID, size)
	}
	for j := 0; j < size; j++ {
		c.marshal(buf[i:], n.keys[j])
		i += c.slotSize
		binary.LittleEndian.PutUint32(buf[i:], uint32(n.children[j]))
		i += 4
	}
	return nil
}

func (c keyCodec[K]) unmarshalNode(buf []byte, pageID PageID) (*treeNode[K], error) {
	kind := nodeKind(buf[0])
	if kind != leafKind && kind != internalKind {
		return nil, fmt.Errorf("page %d is not a B+Tree node (kind %d)", pageID, kind)
	}

	n := &treeNode[K]{
		kind:   kind,
		pageID: pageID,
		parent: PageID(int32(binary.LittleEndian.Uint32(buf[3:]))),
		next:   PageID(int32(binary.LittleEndian.Uint32(buf[7:]))),
	}
	size := int(binary.LittleEndian.Uint16(buf[1:]))

	i := nodeHeaderSize
	n.keys = make([]K, 0, size)
	if kind == leafKind {
		n.rids = make([]RID, 0, size)
		for j := 0; j < size; j++ {
			n.keys = append(n.keys, c.unmarshal(buf[i:]))
			i += c.slotSize
			rid := RID{
				PageID: PageID(int32(binary.LittleEndian.Uint32(buf[i:]))),
				Slot:   binary.LittleEndian.Uint32(buf[i+4:]),
			}
			n.rids = append(n.rids, rid)
			i += 8
		}
		return n, nil
	}

	n.children = make([]PageID, 0, size)
	for j := 0; j < size; j++ {
		n.keys = append(n.keys, c.unmarshal(buf[i:]))
		i += c.slotSize
		n.children = append(n.children, PageID(int32(binary.LittleEndian.Uint32(buf[i:]))))
		i += 4
	}
	return n, nil
}

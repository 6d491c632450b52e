package graindb

import (
	"context"
	"fmt"
	"sync"
)

type IndexOID uint32

// TableIndex is the executor-facing view of a secondary index: typed keys are
// hidden behind Value so plans stay untyped.
type TableIndex interface {
	Name() string
	// KeyColumn is the position of the indexed column in the table schema.
	KeyColumn() int
	InsertEntry(ctx context.Context, key Value, rid RID, txn *Transaction) error
	DeleteEntry(ctx context.Context, key Value, txn *Transaction) error
	Lookup(ctx context.Context, key Value) ([]RID, error)
	Scan(ctx context.Context) (IndexIterator, error)
	ScanFrom(ctx context.Context, key Value) (IndexIterator, error)
}

// IndexIterator yields index entries in key order.
type IndexIterator interface {
	Next() (Value, RID, bool, error)
	Close()
}

// int64TreeIndex adapts a B+Tree with int64 keys to the TableIndex surface.
type int64TreeIndex struct {
	tree      *BPlusTree[int64]
	keyColumn int
}

// NewInt64TreeIndex wraps tree as the index over the given integer column.
func NewInt64TreeIndex(tree *BPlusTree[int64], keyColumn int) TableIndex {
	return &int64TreeIndex{tree: tree, keyColumn: keyColumn}
}

func (i *int64TreeIndex) Name() string {
	return i.tree.Name()
}

func (i *int64TreeIndex) KeyColumn() int {
	return i.keyColumn
}

func (i *int64TreeIndex) key(v Value) (int64, error) {
	if v.Kind != KindInt {
		return 0, fmt.Errorf("index %s requires integer keys, got %s", i.tree.Name(), v)
	}
	return v.Int, nil
}

func (i *int64TreeIndex) InsertEntry(ctx context.Context, key Value, rid RID, txn *Transaction) error {
	k, err := i.key(key)
	if err != nil {
		return err
	}
	return i.tree.Insert(ctx, k, rid, txn)
}

func (i *int64TreeIndex) DeleteEntry(ctx context.Context, key Value, txn *Transaction) error {
	k, err := i.key(key)
	if err != nil {
		return err
	}
	return i.tree.Remove(ctx, k, txn)
}

func (i *int64TreeIndex) Lookup(ctx context.Context, key Value) ([]RID, error) {
	k, err := i.key(key)
	if err != nil {
		return nil, err
	}
	return i.tree.GetValue(ctx, k)
}

func (i *int64TreeIndex) Scan(ctx context.Context) (IndexIterator, error) {
	it, err := i.tree.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	return &int64IndexIterator{it: it}, nil
}

func (i *int64TreeIndex) ScanFrom(ctx context.Context, key Value) (IndexIterator, error) {
	k, err := i.key(key)
	if err != nil {
		return nil, err
	}
	it, err := i.tree.IteratorAt(ctx, k)
	if err != nil {
		return nil, err
	}
	return &int64IndexIterator{it: it}, nil
}

type int64IndexIterator struct {
	it *TreeIterator[int64]
}

func (i *int64IndexIterator) Next() (Value, RID, bool, error) {
	key, rid, ok, err := i.it.Next()
	if err != nil || !ok {
		return Value{}, RID{}, false, err
	}
	return NewInt(key), rid, true, nil
}

func (i *int64IndexIterator) Close() {
	i.it.Close()
}

// TableInfo describes one table: schema plus its heap.
type TableInfo struct {
	OID    TableOID
	Name   string
	Schema *Schema
	Heap   TableHeap
}

// IndexInfo describes one secondary index on a table.
type IndexInfo struct {
	OID       IndexOID
	Name      string
	TableName string
	Index     TableIndex
}

// Catalog is the in-memory table/index directory the executors consult. The
// persistent catalog is the host's concern.
type Catalog struct {
	mu           sync.RWMutex
	nextTableOID TableOID
	nextIndexOID IndexOID

	tables       map[TableOID]*TableInfo
	tablesByName map[string]*TableInfo
	indexes      map[IndexOID]*IndexInfo
	indexByTable map[string][]*IndexInfo
}

func NewCatalog() *Catalog {
	return &Catalog{
		tables:       make(map[TableOID]*TableInfo),
		tablesByName: make(map[string]*TableInfo),
		indexes:      make(map[IndexOID]*IndexInfo),
		indexByTable: make(map[string][]*IndexInfo),
	}
}

func (c *Catalog) CreateTable(name string, schema *Schema, heap TableHeap) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tablesByName[name]; ok {
		return nil, fmt.Errorf("table %q already exists", name)
	}
	info := &TableInfo{
		OID:    c.nextTableOID,
		Name:   name,
		Schema: schema,
		Heap:   heap,
	}
	c.nextTableOID++
	c.tables[info.OID] = info
	c.tablesByName[name] = info
	return info, nil
}

func (c *Catalog) GetTable(oid TableOID) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tables[oid]
	if !ok {
		return nil, fmt.Errorf("no table with oid %d", oid)
	}
	return info, nil
}

func (c *Catalog) GetTableByName(name string) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tablesByName[name]
	if !ok {
		return nil, fmt.Errorf("no table named %q", name)
	}
	return info, nil
}

func (c *Catalog) CreateIndex(name, tableName string, index TableIndex) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tablesByName[tableName]; !ok {
		return nil, fmt.Errorf("no table named %q", tableName)
	}
	info := &IndexInfo{
		OID:       c.nextIndexOID,
		Name:      name,
		TableName: tableName,
		Index:     index,
	}
	c.nextIndexOID++
	c.indexes[info.OID] = info
	c.indexByTable[tableName] = append(c.indexByTable[tableName], info)
	return info, nil
}

func (c *Catalog) GetIndex(oid IndexOID) (*IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.indexes[oid]
	if !ok {
		return nil, fmt.Errorf("no index with oid %d", oid)
	}
	return info, nil
}

func (c *Catalog) GetTableIndexes(tableName string) []*IndexInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexByTable[tableName]
}

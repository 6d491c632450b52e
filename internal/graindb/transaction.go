package graindb

import (
	"sync"

	"go.uber.org/zap"
)

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return "UNKNOWN"
	}
}

type TransactionState int

const (
	TxnGrowing TransactionState = iota
	TxnShrinking
	TxnCommitted
	TxnAborted
)

func (s TransactionState) String() string {
	switch s {
	case TxnGrowing:
		return "GROWING"
	case TxnShrinking:
		return "SHRINKING"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction tracks the lock bookkeeping, state machine and deferred page
// frees for one transaction. One goroutine drives a transaction; the state
// field is additionally read and written by the deadlock detector, so all
// access goes through the mutex.
type Transaction struct {
	id        TxnID
	isolation IsolationLevel

	mu    sync.RWMutex
	state TransactionState

	// Held table locks by mode, and row locks by mode and table.
	tableLocks map[LockMode]map[TableOID]struct{}
	rowLocks   map[LockMode]map[TableOID]map[RID]struct{}

	// Pages scheduled for physical deletion once the transaction commits.
	deletedPages []PageID
}

func newTransaction(id TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:         id,
		isolation:  isolation,
		state:      TxnGrowing,
		tableLocks: make(map[LockMode]map[TableOID]struct{}),
		rowLocks:   make(map[LockMode]map[TableOID]map[RID]struct{}),
	}
}

func (t *Transaction) ID() TxnID {
	return t.id
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) State() TransactionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transaction) SetState(state TransactionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

func (t *Transaction) AddTableLock(mode LockMode, oid TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tableLocks[mode] == nil {
		t.tableLocks[mode] = make(map[TableOID]struct{})
	}
	t.tableLocks[mode][oid] = struct{}{}
}

func (t *Transaction) RemoveTableLock(mode LockMode, oid TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks[mode], oid)
}

func (t *Transaction) HoldsTableLock(mode LockMode, oid TableOID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tableLocks[mode][oid]
	return ok
}

func (t *Transaction) AddRowLock(mode LockMode, oid TableOID, rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rowLocks[mode] == nil {
		t.rowLocks[mode] = make(map[TableOID]map[RID]struct{})
	}
	if t.rowLocks[mode][oid] == nil {
		t.rowLocks[mode][oid] = make(map[RID]struct{})
	}
	t.rowLocks[mode][oid][rid] = struct{}{}
}

func (t *Transaction) RemoveRowLock(mode LockMode, oid TableOID, rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowLocks[mode][oid], rid)
}

func (t *Transaction) HoldsRowLock(mode LockMode, oid TableOID, rid RID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rowLocks[mode][oid][rid]
	return ok
}

// HoldsAnyRowLockOnTable reports whether any row of the table is still locked
// by the transaction, in any mode.
func (t *Transaction) HoldsAnyRowLockOnTable(oid TableOID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, byTable := range t.rowLocks {
		if len(byTable[oid]) > 0 {
			return true
		}
	}
	return false
}

// AddDeletedPage defers physical deletion of an index page until commit.
func (t *Transaction) AddDeletedPage(pageID PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPages = append(t.deletedPages, pageID)
}

func (t *Transaction) takeDeletedPages() []PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	pages := t.deletedPages
	t.deletedPages = nil
	return pages
}

// TransactionManager hands out transaction ids and keeps the live-transaction
// registry the deadlock detector consults. It is injected into the lock
// manager rather than reached through a global.
type TransactionManager struct {
	logger *zap.Logger
	pool   *BufferPool
	lock   *LockManager

	mu     sync.Mutex
	nextID TxnID
	txns   map[TxnID]*Transaction
}

// NewTransactionManager builds a manager. The buffer pool may be nil when the
// embedder does not use index page recycling; the lock manager is attached
// later via BindLockManager because the two reference each other.
func NewTransactionManager(logger *zap.Logger, pool *BufferPool) *TransactionManager {
	return &TransactionManager{
		logger: logger,
		pool:   pool,
		txns:   make(map[TxnID]*Transaction),
	}
}

// BindLockManager wires the lock manager used to release held locks at
// commit/abort.
func (tm *TransactionManager) BindLockManager(lock *LockManager) {
	tm.lock = lock
}

func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	tm.mu.Lock()
	id := tm.nextID
	tm.nextID++
	txn := newTransaction(id, isolation)
	tm.txns[id] = txn
	tm.mu.Unlock()

	tm.logger.Debug("begin transaction",
		zap.Int64("txn_id", int64(id)),
		zap.String("isolation", isolation.String()),
	)
	return txn
}

// Get returns the live transaction with the given id, or nil.
func (tm *TransactionManager) Get(id TxnID) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.txns[id]
}

// Commit releases all held locks, frees deferred index pages and retires the
// transaction.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	txn.SetState(TxnCommitted)

	if tm.lock != nil {
		tm.lock.ReleaseAll(txn)
	}
	if tm.pool != nil {
		for _, pageID := range txn.takeDeletedPages() {
			if _, err := tm.pool.DeletePage(pageID); err != nil {
				return err
			}
		}
	}

	tm.mu.Lock()
	delete(tm.txns, txn.id)
	tm.mu.Unlock()

	tm.logger.Debug("commit transaction", zap.Int64("txn_id", int64(txn.id)))
	return nil
}

// Abort releases held locks and retires the transaction. Data compensation
// (undoing inserts and deletes) is the operators' responsibility and has
// already happened by the time Abort runs.
func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(TxnAborted)

	if tm.lock != nil {
		tm.lock.ReleaseAll(txn)
	}

	tm.mu.Lock()
	delete(tm.txns, txn.id)
	tm.mu.Unlock()

	tm.logger.Debug("abort transaction", zap.Int64("txn_id", int64(txn.id)))
}

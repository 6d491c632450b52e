package graindb

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LockMode is a multi-granularity lock mode. Row-level requests may only be
// Shared or Exclusive.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// Compatible reports whether a lock in mode want can coexist with a held
// lock in mode held.
func Compatible(held, want LockMode) bool {
	switch held {
	case IntentionShared:
		return want != Exclusive
	case IntentionExclusive:
		return want == IntentionShared || want == IntentionExclusive
	case Shared:
		return want == IntentionShared || want == Shared
	case SharedIntentionExclusive:
		return want == IntentionShared
	case Exclusive:
		return false
	}
	return false
}

// canUpgrade reports whether a held lock may be upgraded to want:
// IS -> {S, X, IX, SIX}; S -> {X, SIX}; IX -> {X, SIX}; SIX -> {X}.
func canUpgrade(held, want LockMode) bool {
	switch held {
	case IntentionShared:
		return want == Shared || want == Exclusive || want == IntentionExclusive || want == SharedIntentionExclusive
	case Shared, IntentionExclusive:
		return want == Exclusive || want == SharedIntentionExclusive
	case SharedIntentionExclusive:
		return want == Exclusive
	default:
		return false
	}
}

type lockRequest struct {
	txnID   TxnID
	mode    LockMode
	oid     TableOID
	rid     RID
	onRow   bool
	granted bool
}

// lockRequestQueue is the per-resource FIFO of requests plus the currently
// upgrading transaction, if any.
type lockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading TxnID
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: InvalidTxnID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// findLocked returns the transaction's request in the queue, or nil.
func (q *lockRequestQueue) findLocked(txnID TxnID) *lockRequest {
	for _, req := range q.requests {
		if req.txnID == txnID {
			return req
		}
	}
	return nil
}

func (q *lockRequestQueue) removeLocked(req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// LockManager enforces the multi-granularity two-phase locking protocol and
// runs the periodic wait-for cycle detector. It never rolls back data; on an
// abort the operators compensate and the transaction manager releases what is
// still held.
type LockManager struct {
	logger *zap.Logger
	txns   *TransactionManager

	tableMu sync.Mutex
	tables  map[TableOID]*lockRequestQueue

	rowMu sync.Mutex
	rows  map[RID]*lockRequestQueue

	graphMu  sync.Mutex
	waitsFor map[TxnID][]TxnID

	detectorStop chan struct{}
	detectorDone chan struct{}
}

func NewLockManager(logger *zap.Logger, txns *TransactionManager) *LockManager {
	lm := &LockManager{
		logger:   logger,
		txns:     txns,
		tables:   make(map[TableOID]*lockRequestQueue),
		rows:     make(map[RID]*lockRequestQueue),
		waitsFor: make(map[TxnID][]TxnID),
	}
	txns.BindLockManager(lm)
	return lm
}

func (lm *LockManager) tableQueue(oid TableOID) *lockRequestQueue {
	lm.tableMu.Lock()
	defer lm.tableMu.Unlock()
	q, ok := lm.tables[oid]
	if !ok {
		q = newLockRequestQueue()
		lm.tables[oid] = q
	}
	return q
}

func (lm *LockManager) rowQueue(rid RID) *lockRequestQueue {
	lm.rowMu.Lock()
	defer lm.rowMu.Unlock()
	q, ok := lm.rows[rid]
	if !ok {
		q = newLockRequestQueue()
		lm.rows[rid] = q
	}
	return q
}

func (lm *LockManager) abort(txn *Transaction, reason AbortReason) error {
	txn.SetState(TxnAborted)
	lm.logger.Debug("lock request aborts transaction",
		zap.Int64("txn_id", int64(txn.ID())),
		zap.String("reason", reason.String()),
	)
	return newAbortError(txn.ID(), reason)
}

func checkTxnLive(txn *Transaction, op string) {
	if state := txn.State(); state == TxnCommitted || state == TxnAborted {
		panic(fmt.Sprintf("%s called by %s transaction %d", op, state, txn.ID()))
	}
}

// checkTableLockPremise applies the isolation-level-dependent pre-checks for
// a table lock request.
func (lm *LockManager) checkTableLockPremise(txn *Transaction, mode LockMode) error {
	switch txn.IsolationLevel() {
	case RepeatableRead:
		if txn.State() == TxnShrinking {
			return lm.abort(txn, ReasonLockOnShrinking)
		}
	case ReadCommitted:
		if txn.State() == TxnShrinking && mode != Shared && mode != IntentionShared {
			return lm.abort(txn, ReasonLockOnShrinking)
		}
	case ReadUncommitted:
		if mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive {
			return lm.abort(txn, ReasonLockSharedOnReadUncommitted)
		}
		if txn.State() == TxnShrinking {
			return lm.abort(txn, ReasonLockOnShrinking)
		}
	}
	return nil
}

// grantLocked decides whether the request can be granted now: the request
// must be compatible with every granted holder; an in-flight upgrader has
// priority; otherwise FIFO order applies, earlier incompatible waiters block
// later ones.
func (q *lockRequestQueue) grantLocked(req *lockRequest) bool {
	for _, other := range q.requests {
		if other.granted && !Compatible(other.mode, req.mode) {
			return false
		}
	}

	if q.upgrading == req.txnID {
		q.upgrading = InvalidTxnID
		req.granted = true
		return true
	}
	if q.upgrading != InvalidTxnID {
		return false
	}

	for _, other := range q.requests {
		if other == req {
			req.granted = true
			return true
		}
		if !other.granted && !Compatible(other.mode, req.mode) {
			return false
		}
	}
	return false
}

// wait blocks on the queue until the request is granted. A transaction that
// observes itself aborted while waiting withdraws its request and returns a
// typed abort error.
func (lm *LockManager) wait(q *lockRequestQueue, req *lockRequest, txn *Transaction) error {
	for !q.grantLocked(req) {
		q.cond.Wait()
		if txn.State() == TxnAborted {
			if q.upgrading == req.txnID {
				q.upgrading = InvalidTxnID
			}
			q.removeLocked(req)
			q.cond.Broadcast()
			return newAbortError(txn.ID(), ReasonDeadlockVictim)
		}
	}
	return nil
}

// LockTable acquires (or upgrades to) the given table lock mode, blocking
// until it is granted or the transaction aborts.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, oid TableOID) error {
	checkTxnLive(txn, "LockTable")

	if err := lm.checkTableLockPremise(txn, mode); err != nil {
		return err
	}

	q := lm.tableQueue(oid)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.findLocked(txn.ID()); existing != nil {
		if !existing.granted {
			return lm.abort(txn, ReasonIncompatibleUpgrade)
		}
		if existing.mode == mode {
			return nil
		}
		if q.upgrading != InvalidTxnID {
			return lm.abort(txn, ReasonUpgradeConflict)
		}
		if !canUpgrade(existing.mode, mode) {
			return lm.abort(txn, ReasonIncompatibleUpgrade)
		}
		txn.RemoveTableLock(existing.mode, oid)
		q.removeLocked(existing)
		q.upgrading = txn.ID()
	}

	req := &lockRequest{txnID: txn.ID(), mode: mode, oid: oid}
	q.requests = append(q.requests, req)

	if err := lm.wait(q, req, txn); err != nil {
		return err
	}

	txn.AddTableLock(mode, oid)
	return nil
}

// UnlockTable releases the transaction's table lock, transitioning the 2PL
// state when the released mode counts under the transaction's isolation
// level. All row locks on the table must have been released first.
func (lm *LockManager) UnlockTable(txn *Transaction, oid TableOID) error {
	if txn.HoldsAnyRowLockOnTable(oid) {
		return lm.abort(txn, ReasonTableUnlockedBeforeUnlockingRows)
	}

	lm.tableMu.Lock()
	q, ok := lm.tables[oid]
	lm.tableMu.Unlock()
	if !ok {
		return lm.abort(txn, ReasonAttemptedUnlockButNoLockHeld)
	}

	q.mu.Lock()
	req := q.findLocked(txn.ID())
	if req == nil || !req.granted {
		q.mu.Unlock()
		return lm.abort(txn, ReasonAttemptedUnlockButNoLockHeld)
	}

	lm.maybeShrink(txn, req.mode)

	q.removeLocked(req)
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.RemoveTableLock(req.mode, oid)
	return nil
}

// maybeShrink applies the GROWING -> SHRINKING transition if releasing mode
// counts for two-phase locking under the isolation level: any S or X for
// REPEATABLE_READ, X only for READ_COMMITTED and READ_UNCOMMITTED.
func (lm *LockManager) maybeShrink(txn *Transaction, mode LockMode) {
	if txn.State() != TxnGrowing {
		return
	}
	switch txn.IsolationLevel() {
	case RepeatableRead:
		if mode == Shared || mode == Exclusive {
			txn.SetState(TxnShrinking)
		}
	case ReadCommitted, ReadUncommitted:
		if mode == Exclusive {
			txn.SetState(TxnShrinking)
		}
	}
}

// LockRow acquires (or upgrades to) a row lock. An exclusive row lock
// requires a write-intent table lock on the same table.
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, oid TableOID, rid RID) error {
	checkTxnLive(txn, "LockRow")

	if mode != Shared && mode != Exclusive {
		return lm.abort(txn, ReasonAttemptedIntentionLockOnRow)
	}
	if mode == Exclusive {
		if !txn.HoldsTableLock(Exclusive, oid) &&
			!txn.HoldsTableLock(IntentionExclusive, oid) &&
			!txn.HoldsTableLock(SharedIntentionExclusive, oid) {
			return lm.abort(txn, ReasonTableLockNotPresent)
		}
	}
	if txn.State() == TxnShrinking {
		if !(txn.IsolationLevel() == ReadCommitted && mode == Shared) {
			return lm.abort(txn, ReasonLockOnShrinking)
		}
	}

	q := lm.rowQueue(rid)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.findLocked(txn.ID()); existing != nil {
		if !existing.granted {
			return lm.abort(txn, ReasonIncompatibleUpgrade)
		}
		if existing.mode == mode {
			return nil
		}
		if mode == Shared {
			return lm.abort(txn, ReasonIncompatibleUpgrade)
		}
		if q.upgrading != InvalidTxnID {
			return lm.abort(txn, ReasonUpgradeConflict)
		}
		txn.RemoveRowLock(existing.mode, oid, rid)
		q.removeLocked(existing)
		q.upgrading = txn.ID()
	}

	req := &lockRequest{txnID: txn.ID(), mode: mode, oid: oid, rid: rid, onRow: true}
	q.requests = append(q.requests, req)

	if err := lm.wait(q, req, txn); err != nil {
		return err
	}

	txn.AddRowLock(mode, oid, rid)
	return nil
}

// UnlockRow releases the transaction's lock on the row.
func (lm *LockManager) UnlockRow(txn *Transaction, oid TableOID, rid RID) error {
	lm.rowMu.Lock()
	q, ok := lm.rows[rid]
	lm.rowMu.Unlock()
	if !ok {
		return lm.abort(txn, ReasonAttemptedUnlockButNoLockHeld)
	}

	q.mu.Lock()
	req := q.findLocked(txn.ID())
	if req == nil || !req.granted {
		q.mu.Unlock()
		return lm.abort(txn, ReasonAttemptedUnlockButNoLockHeld)
	}

	lm.maybeShrink(txn, req.mode)

	q.removeLocked(req)
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.RemoveRowLock(req.mode, oid, rid)
	return nil
}

// ReleaseAll drops every request the transaction still has in any queue,
// granted or waiting. Called by the transaction manager on commit and abort;
// no 2PL transitions apply.
func (lm *LockManager) ReleaseAll(txn *Transaction) {
	release := func(queues []*lockRequestQueue) {
		for _, q := range queues {
			q.mu.Lock()
			changed := false
			for i := 0; i < len(q.requests); {
				if q.requests[i].txnID == txn.ID() {
					q.requests = append(q.requests[:i], q.requests[i+1:]...)
					changed = true
					continue
				}
				i++
			}
			if q.upgrading == txn.ID() {
				q.upgrading = InvalidTxnID
				changed = true
			}
			if changed {
				q.cond.Broadcast()
			}
			q.mu.Unlock()
		}
	}

	lm.rowMu.Lock()
	rowQueues := make([]*lockRequestQueue, 0, len(lm.rows))
	for _, q := range lm.rows {
		rowQueues = append(rowQueues, q)
	}
	lm.rowMu.Unlock()
	release(rowQueues)

	lm.tableMu.Lock()
	tableQueues := make([]*lockRequestQueue, 0, len(lm.tables))
	for _, q := range lm.tables {
		tableQueues = append(tableQueues, q)
	}
	lm.tableMu.Unlock()
	release(tableQueues)
}

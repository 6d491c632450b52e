package graindb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForWaiters polls until the queue has the expected number of ungranted
// requests.
func waitForWaiters(t *testing.T, q *lockRequestQueue, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		waiting := 0
		for _, req := range q.requests {
			if !req.granted {
				waiting++
			}
		}
		return waiting == want
	}, 2*time.Second, time.Millisecond)
}

func TestDeadlockDetector_TwoTxnCycle(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)

	r1 := RID{PageID: 1, Slot: 1}
	r2 := RID{PageID: 1, Slot: 2}

	require.NoError(t, lockMgr.LockTable(t1, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockTable(t2, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockRow(t1, Exclusive, 1, r1))
	require.NoError(t, lockMgr.LockRow(t2, Exclusive, 1, r2))

	// t1 wants r2 (held by t2), t2 wants r1 (held by t1).
	t1Result := make(chan error, 1)
	t2Result := make(chan error, 1)
	go func() {
		t1Result <- lockMgr.LockRow(t1, Exclusive, 1, r2)
	}()
	go func() {
		t2Result <- lockMgr.LockRow(t2, Exclusive, 1, r1)
	}()

	waitForWaiters(t, lockMgr.rowQueue(r1), 1)
	waitForWaiters(t, lockMgr.rowQueue(r2), 1)

	var edges [][2]TxnID
	lockMgr.DetectOnce(func(e [][2]TxnID) {
		edges = e
	})
	assert.Equal(t, [][2]TxnID{
		{t1.ID(), t2.ID()},
		{t2.ID(), t1.ID()},
	}, edges)

	// The youngest transaction (largest id) is the victim.
	err := <-t2Result
	abortErr, ok := IsTxnAbort(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDeadlockVictim, abortErr.Reason)
	assert.Equal(t, TxnAborted, t2.State())

	// Once the victim's locks go, t1 completes.
	txnMgr.Abort(t2)
	require.NoError(t, <-t1Result)
	assert.True(t, t1.HoldsRowLock(Exclusive, 1, r2))

	require.NoError(t, lockMgr.UnlockRow(t1, 1, r1))
	require.NoError(t, lockMgr.UnlockRow(t1, 1, r2))
}

func TestDeadlockDetector_NoFalsePositives(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Exclusive, 1))

	done := make(chan error, 1)
	go func() {
		done <- lockMgr.LockTable(t2, Exclusive, 1)
	}()
	waitForWaiters(t, lockMgr.tableQueue(1), 1)

	// A single waiter is an edge but no cycle; nobody is aborted.
	var edges [][2]TxnID
	lockMgr.DetectOnce(func(e [][2]TxnID) {
		edges = e
	})
	assert.Equal(t, [][2]TxnID{{t2.ID(), t1.ID()}}, edges)
	assert.NotEqual(t, TxnAborted, t1.State())
	assert.NotEqual(t, TxnAborted, t2.State())

	require.NoError(t, lockMgr.UnlockTable(t1, 1))
	require.NoError(t, <-done)
	require.NoError(t, lockMgr.UnlockTable(t2, 1))
}

func TestDeadlockDetector_ThreeTxnCycleAbortsYoungest(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)
	t3 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockTable(t2, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockTable(t3, IntentionExclusive, 1))

	r1 := RID{PageID: 2, Slot: 1}
	r2 := RID{PageID: 2, Slot: 2}
	r3 := RID{PageID: 2, Slot: 3}
	require.NoError(t, lockMgr.LockRow(t1, Exclusive, 1, r1))
	require.NoError(t, lockMgr.LockRow(t2, Exclusive, 1, r2))
	require.NoError(t, lockMgr.LockRow(t3, Exclusive, 1, r3))

	results := make(map[TxnID]chan error)
	for _, pair := range []struct {
		txn *Transaction
		rid RID
	}{
		{t1, r2}, {t2, r3}, {t3, r1},
	} {
		ch := make(chan error, 1)
		results[pair.txn.ID()] = ch
		go func(txn *Transaction, rid RID) {
			ch <- lockMgr.LockRow(txn, Exclusive, 1, rid)
		}(pair.txn, pair.rid)
	}

	waitForWaiters(t, lockMgr.rowQueue(r1), 1)
	waitForWaiters(t, lockMgr.rowQueue(r2), 1)
	waitForWaiters(t, lockMgr.rowQueue(r3), 1)

	lockMgr.DetectOnce(nil)

	// t3 is the youngest on the 1 -> 2 -> 3 -> 1 cycle.
	err := <-results[t3.ID()]
	abortErr, ok := IsTxnAbort(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDeadlockVictim, abortErr.Reason)
	txnMgr.Abort(t3)

	// The remaining two are a chain, not a cycle: t2 gets r3, then t1
	// unblocks when t2 finishes.
	require.NoError(t, <-results[t2.ID()])
	require.NoError(t, txnMgr.Commit(t2))
	require.NoError(t, <-results[t1.ID()])
	require.NoError(t, txnMgr.Commit(t1))
}

func TestDeadlockDetector_BackgroundWorker(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	lockMgr.StartDeadlockDetection(10 * time.Millisecond)
	defer lockMgr.StopDeadlockDetection()

	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockTable(t2, IntentionExclusive, 1))

	r1 := RID{PageID: 3, Slot: 1}
	r2 := RID{PageID: 3, Slot: 2}
	require.NoError(t, lockMgr.LockRow(t1, Exclusive, 1, r1))
	require.NoError(t, lockMgr.LockRow(t2, Exclusive, 1, r2))

	t1Result := make(chan error, 1)
	t2Result := make(chan error, 1)
	go func() {
		t1Result <- lockMgr.LockRow(t1, Exclusive, 1, r2)
	}()
	go func() {
		t2Result <- lockMgr.LockRow(t2, Exclusive, 1, r1)
	}()

	// Within one detection period the cycle breaks on its own.
	select {
	case err := <-t2Result:
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonDeadlockVictim, abortErr.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock was never broken")
	}

	txnMgr.Abort(t2)
	require.NoError(t, <-t1Result)
	require.NoError(t, txnMgr.Commit(t1))
}

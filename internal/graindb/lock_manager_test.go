package graindb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager() (*LockManager, *TransactionManager) {
	txnMgr := NewTransactionManager(testLogger, nil)
	return NewLockManager(testLogger, txnMgr), txnMgr
}

func TestLockMode_Compatibility(t *testing.T) {
	t.Parallel()

	// held x want, in IS, IX, S, SIX, X order.
	expected := map[LockMode][]bool{
		IntentionShared:          {true, true, true, true, false},
		IntentionExclusive:       {true, true, false, false, false},
		Shared:                   {true, false, true, false, false},
		SharedIntentionExclusive: {true, false, false, false, false},
		Exclusive:                {false, false, false, false, false},
	}
	modes := []LockMode{IntentionShared, IntentionExclusive, Shared, SharedIntentionExclusive, Exclusive}
	for held, wants := range expected {
		for i, want := range wants {
			assert.Equal(t, want, Compatible(held, modes[i]), "%s vs %s", held, modes[i])
		}
	}
}

func TestLockManager_SharedLocksCoexist(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Shared, 1))
	require.NoError(t, lockMgr.LockTable(t2, Shared, 1))

	assert.True(t, t1.HoldsTableLock(Shared, 1))
	assert.True(t, t2.HoldsTableLock(Shared, 1))

	require.NoError(t, lockMgr.UnlockTable(t1, 1))
	require.NoError(t, lockMgr.UnlockTable(t2, 1))
}

func TestLockManager_UpgradeWaitsForConflictingHolder(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Shared, 1))
	require.NoError(t, lockMgr.LockTable(t2, Shared, 1))

	granted := make(chan error, 1)
	go func() {
		granted <- lockMgr.LockTable(t1, Exclusive, 1)
	}()

	// T1 must block while T2 still holds S.
	select {
	case err := <-granted:
		t.Fatalf("X lock granted while S held by another txn: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lockMgr.UnlockTable(t2, 1))

	select {
	case err := <-granted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade was never granted")
	}

	// Unlocking S under REPEATABLE_READ moved T2 to SHRINKING.
	assert.Equal(t, TxnShrinking, t2.State())
	assert.True(t, t1.HoldsTableLock(Exclusive, 1))
	assert.False(t, t1.HoldsTableLock(Shared, 1))

	require.NoError(t, lockMgr.UnlockTable(t1, 1))
}

func TestLockManager_UpgradeConflict(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)
	t3 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Shared, 1))
	require.NoError(t, lockMgr.LockTable(t2, Shared, 1))
	require.NoError(t, lockMgr.LockTable(t3, Shared, 1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocks: t2 and t3 still hold S.
		_ = lockMgr.LockTable(t1, Exclusive, 1)
	}()

	// Wait until t1 is registered as the queue's upgrader.
	q := lockMgr.tableQueue(1)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.upgrading == t1.ID()
	}, 2*time.Second, time.Millisecond)

	// A second upgrader is rejected outright.
	err := lockMgr.LockTable(t2, Exclusive, 1)
	abortErr, ok := IsTxnAbort(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUpgradeConflict, abortErr.Reason)
	assert.Equal(t, TxnAborted, t2.State())

	// Releasing the aborted txn's locks lets the upgrader proceed once t3
	// also unlocks.
	txnMgr.Abort(t2)
	require.NoError(t, lockMgr.UnlockTable(t3, 1))
	wg.Wait()
	assert.True(t, t1.HoldsTableLock(Exclusive, 1))
}

func TestLockManager_IncompatibleUpgrade(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Exclusive, 1))

	err := lockMgr.LockTable(t1, Shared, 1)
	abortErr, ok := IsTxnAbort(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncompatibleUpgrade, abortErr.Reason)
}

func TestLockManager_ReadUncommittedRejectsSharedModes(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()

	for _, mode := range []LockMode{Shared, IntentionShared, SharedIntentionExclusive} {
		txn := txnMgr.Begin(ReadUncommitted)
		err := lockMgr.LockTable(txn, mode, 1)
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok, "mode %s", mode)
		assert.Equal(t, ReasonLockSharedOnReadUncommitted, abortErr.Reason)
		assert.Equal(t, TxnAborted, txn.State())
	}

	txn := txnMgr.Begin(ReadUncommitted)
	require.NoError(t, lockMgr.LockTable(txn, IntentionExclusive, 1))
	require.NoError(t, lockMgr.LockTable(txn, Exclusive, 1))
}

func TestLockManager_TwoPhaseLocking(t *testing.T) {
	t.Parallel()

	t.Run("REPEATABLE_READ shrinks on S unlock and rejects further locks", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		require.NoError(t, lockMgr.LockTable(txn, Shared, 1))
		require.NoError(t, lockMgr.UnlockTable(txn, 1))
		assert.Equal(t, TxnShrinking, txn.State())

		err := lockMgr.LockTable(txn, Shared, 2)
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonLockOnShrinking, abortErr.Reason)
	})

	t.Run("READ_COMMITTED keeps growing on IS unlock, allows IS while shrinking", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(ReadCommitted)

		require.NoError(t, lockMgr.LockTable(txn, IntentionShared, 1))
		require.NoError(t, lockMgr.UnlockTable(txn, 1))
		assert.Equal(t, TxnGrowing, txn.State())

		require.NoError(t, lockMgr.LockTable(txn, IntentionExclusive, 2))
		require.NoError(t, lockMgr.LockRow(txn, Exclusive, 2, RID{PageID: 1, Slot: 1}))
		require.NoError(t, lockMgr.UnlockRow(txn, 2, RID{PageID: 1, Slot: 1}))
		assert.Equal(t, TxnShrinking, txn.State())

		// IS is still allowed while shrinking under READ_COMMITTED.
		require.NoError(t, lockMgr.LockTable(txn, IntentionShared, 3))

		// But X is not.
		err := lockMgr.LockTable(txn, Exclusive, 4)
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonLockOnShrinking, abortErr.Reason)
	})
}

func TestLockManager_RowLockPremises(t *testing.T) {
	t.Parallel()

	t.Run("Intention modes are rejected on rows", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		err := lockMgr.LockRow(txn, IntentionShared, 1, RID{PageID: 1, Slot: 1})
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonAttemptedIntentionLockOnRow, abortErr.Reason)
	})

	t.Run("X row lock requires a write-intent table lock", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		err := lockMgr.LockRow(txn, Exclusive, 1, RID{PageID: 1, Slot: 1})
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonTableLockNotPresent, abortErr.Reason)
	})

	t.Run("Table cannot unlock while its rows stay locked", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		rid := RID{PageID: 1, Slot: 1}
		require.NoError(t, lockMgr.LockTable(txn, IntentionExclusive, 1))
		require.NoError(t, lockMgr.LockRow(txn, Exclusive, 1, rid))

		err := lockMgr.UnlockTable(txn, 1)
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonTableUnlockedBeforeUnlockingRows, abortErr.Reason)
	})

	t.Run("Unlock without a hold", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		err := lockMgr.UnlockTable(txn, 9)
		abortErr, ok := IsTxnAbort(err)
		require.True(t, ok)
		assert.Equal(t, ReasonAttemptedUnlockButNoLockHeld, abortErr.Reason)
	})

	t.Run("S to X row upgrade works", func(t *testing.T) {
		lockMgr, txnMgr := newTestLockManager()
		txn := txnMgr.Begin(RepeatableRead)

		rid := RID{PageID: 1, Slot: 1}
		require.NoError(t, lockMgr.LockTable(txn, IntentionExclusive, 1))
		require.NoError(t, lockMgr.LockRow(txn, Shared, 1, rid))
		require.NoError(t, lockMgr.LockRow(txn, Exclusive, 1, rid))

		assert.True(t, txn.HoldsRowLock(Exclusive, 1, rid))
		assert.False(t, txn.HoldsRowLock(Shared, 1, rid))
	})
}

func TestLockManager_TerminalTxnPanics(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	txn := txnMgr.Begin(RepeatableRead)
	require.NoError(t, txnMgr.Commit(txn))

	require.Panics(t, func() {
		_ = lockMgr.LockTable(txn, Shared, 1)
	})
}

func TestLockManager_FIFOFairness(t *testing.T) {
	t.Parallel()

	lockMgr, txnMgr := newTestLockManager()
	t1 := txnMgr.Begin(RepeatableRead)
	t2 := txnMgr.Begin(RepeatableRead)
	t3 := txnMgr.Begin(RepeatableRead)

	require.NoError(t, lockMgr.LockTable(t1, Exclusive, 1))

	// t2 queues an X request, then t3 queues an S request behind it. When
	// t1 releases, t2 must win even though S would also be compatible.
	order := make(chan TxnID, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, lockMgr.LockTable(t2, Exclusive, 1))
		order <- t2.ID()
	}()

	q := lockMgr.tableQueue(1)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.requests) == 2
	}, 2*time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, lockMgr.LockTable(t3, Shared, 1))
		order <- t3.ID()
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.requests) == 3
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, lockMgr.UnlockTable(t1, 1))

	first := <-order
	assert.Equal(t, t2.ID(), first)

	require.NoError(t, lockMgr.UnlockTable(t2, 1))
	second := <-order
	assert.Equal(t, t3.ID(), second)
	wg.Wait()
}

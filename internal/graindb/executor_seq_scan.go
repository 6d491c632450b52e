package graindb

import "context"

// seqScanExecutor reads every live tuple of a table. Locking follows the
// isolation level: IS on the table and S per row, skipped entirely under
// READ_UNCOMMITTED; under READ_COMMITTED row locks are released right after
// the read and the table lock at exhaustion.
type seqScanExecutor struct {
	execCtx *ExecutorContext
	plan    *SeqScanPlan
	table   *TableInfo
	iter    TableIterator
	done    bool
}

func newSeqScanExecutor(execCtx *ExecutorContext, plan *SeqScanPlan) *seqScanExecutor {
	return &seqScanExecutor{execCtx: execCtx, plan: plan}
}

func (e *seqScanExecutor) Init(ctx context.Context) error {
	table, err := e.execCtx.Catalog.GetTable(e.plan.TableOID)
	if err != nil {
		return err
	}
	e.table = table
	e.iter = table.Heap.Iterator()
	e.done = false

	txn := e.execCtx.Txn
	if txn.IsolationLevel() == ReadUncommitted {
		return nil
	}
	if txn.HoldsTableLock(IntentionShared, e.plan.TableOID) {
		return nil
	}
	return e.execCtx.Lock.LockTable(txn, IntentionShared, e.plan.TableOID)
}

// lockRow takes the shared row lock unless the transaction already holds a
// lock on the row. Reports whether this call took a fresh lock.
func (e *seqScanExecutor) lockRow(rid RID) (bool, error) {
	txn := e.execCtx.Txn
	if txn.HoldsRowLock(Shared, e.plan.TableOID, rid) ||
		txn.HoldsRowLock(Exclusive, e.plan.TableOID, rid) {
		return false, nil
	}
	if err := e.execCtx.Lock.LockRow(txn, Shared, e.plan.TableOID, rid); err != nil {
		return false, err
	}
	return true, nil
}

func (e *seqScanExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.done {
		return nil, nil
	}
	txn := e.execCtx.Txn

	for {
		tuple, ok := e.iter.Next()
		if !ok {
			e.done = true
			if txn.IsolationLevel() == ReadCommitted &&
				txn.HoldsTableLock(IntentionShared, e.plan.TableOID) {
				if err := e.execCtx.Lock.UnlockTable(txn, e.plan.TableOID); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}

		locked := false
		if txn.IsolationLevel() != ReadUncommitted {
			var err error
			locked, err = e.lockRow(tuple.RID)
			if err != nil {
				return nil, err
			}
		}

		keep := e.plan.Predicate == nil || truthy(e.plan.Predicate.Evaluate(tuple, e.plan.Schema))

		if locked && txn.IsolationLevel() == ReadCommitted {
			if err := e.execCtx.Lock.UnlockRow(txn, e.plan.TableOID, tuple.RID); err != nil {
				return nil, err
			}
		}
		if keep {
			return tuple, nil
		}
	}
}

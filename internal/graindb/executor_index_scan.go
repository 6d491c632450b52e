package graindb

import "context"

// indexScanExecutor reads a table through an index, yielding tuples in key
// order. Row and table locking mirrors the sequential scan.
type indexScanExecutor struct {
	execCtx *ExecutorContext
	plan    *IndexScanPlan
	table   *TableInfo
	iter    IndexIterator
	done    bool
}

func newIndexScanExecutor(execCtx *ExecutorContext, plan *IndexScanPlan) *indexScanExecutor {
	return &indexScanExecutor{execCtx: execCtx, plan: plan}
}

func (e *indexScanExecutor) Init(ctx context.Context) error {
	table, err := e.execCtx.Catalog.GetTable(e.plan.TableOID)
	if err != nil {
		return err
	}
	index, err := e.execCtx.Catalog.GetIndex(e.plan.IndexOID)
	if err != nil {
		return err
	}
	e.table = table
	e.done = false

	iter, err := index.Index.Scan(ctx)
	if err != nil {
		return err
	}
	e.iter = iter

	txn := e.execCtx.Txn
	if txn.IsolationLevel() == ReadUncommitted {
		return nil
	}
	if txn.HoldsTableLock(IntentionShared, e.plan.TableOID) {
		return nil
	}
	return e.execCtx.Lock.LockTable(txn, IntentionShared, e.plan.TableOID)
}

func (e *indexScanExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.done {
		return nil, nil
	}
	txn := e.execCtx.Txn

	for {
		_, rid, ok, err := e.iter.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			e.done = true
			e.iter.Close()
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
			if !txn.HoldsRowLock(Shared, e.plan.TableOID, rid) &&
				!txn.HoldsRowLock(Exclusive, e.plan.TableOID, rid) {
				if err := e.execCtx.Lock.LockRow(txn, Shared, e.plan.TableOID, rid); err != nil {
					return nil, err
				}
				locked = true
			}
		}

		tuple, err := e.table.Heap.GetTuple(ctx, rid)
		if err != nil {
			return nil, err
		}

		keep := e.plan.Predicate == nil || truthy(e.plan.Predicate.Evaluate(tuple, e.plan.Schema))

		if locked && txn.IsolationLevel() == ReadCommitted {
			if err := e.execCtx.Lock.UnlockRow(txn, e.plan.TableOID, rid); err != nil {
				return nil, err
			}
		}
		if keep {
			return tuple, nil
		}
	}
}

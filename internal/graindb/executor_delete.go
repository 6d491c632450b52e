package graindb

import (
	"context"

	"go.uber.org/zap"
)

// deleteExecutor tombstones the child's tuples under IX/X locking and drops
// their index entries. A denied lock rolls back the tombstones and restores
// the index entries before the failure propagates.
type deleteExecutor struct {
	execCtx *ExecutorContext
	plan    *DeletePlan
	child   Executor
	table   *TableInfo
	emitted bool

	deletedRIDs []RID
	deletedKeys []indexEntry
}

func newDeleteExecutor(execCtx *ExecutorContext, plan *DeletePlan, child Executor) *deleteExecutor {
	return &deleteExecutor{execCtx: execCtx, plan: plan, child: child}
}

func (e *deleteExecutor) Init(ctx context.Context) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	table, err := e.execCtx.Catalog.GetTable(e.plan.TableOID)
	if err != nil {
		return err
	}
	e.table = table
	e.emitted = false
	e.deletedRIDs = nil
	e.deletedKeys = nil

	txn := e.execCtx.Txn
	if txn.HoldsTableLock(IntentionExclusive, e.plan.TableOID) ||
		txn.HoldsTableLock(Exclusive, e.plan.TableOID) ||
		txn.HoldsTableLock(SharedIntentionExclusive, e.plan.TableOID) {
		return nil
	}
	return e.execCtx.Lock.LockTable(txn, IntentionExclusive, e.plan.TableOID)
}

// rollback revives every tombstoned row and reinserts the index entries that
// were removed for them.
func (e *deleteExecutor) rollback(ctx context.Context) {
	for _, rid := range e.deletedRIDs {
		if err := e.table.Heap.RollbackDelete(ctx, rid); err != nil {
			e.execCtx.Logger.Error("delete rollback failed",
				zap.String("rid", rid.String()),
				zap.Error(err),
			)
		}
	}
	for _, entry := range e.deletedKeys {
		if err := entry.index.InsertEntry(ctx, entry.key, entry.rid, nil); err != nil {
			e.execCtx.Logger.Error("index rollback failed",
				zap.String("index", entry.index.Name()),
				zap.Error(err),
			)
		}
	}
	e.deletedRIDs = nil
	e.deletedKeys = nil
}

func (e *deleteExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.emitted {
		return nil, nil
	}
	e.emitted = true

	txn := e.execCtx.Txn
	count := int64(0)
	for {
		tuple, err := e.child.Next(ctx)
		if err != nil {
			e.rollback(ctx)
			return nil, err
		}
		if tuple == nil {
			break
		}
		rid := tuple.RID

		if !txn.HoldsRowLock(Exclusive, e.plan.TableOID, rid) {
			if err := e.execCtx.Lock.LockRow(txn, Exclusive, e.plan.TableOID, rid); err != nil {
				e.rollback(ctx)
				return nil, err
			}
		}

		if err := e.table.Heap.MarkDelete(ctx, rid); err != nil {
			e.rollback(ctx)
			return nil, err
		}
		e.deletedRIDs = append(e.deletedRIDs, rid)

		for _, indexInfo := range e.execCtx.Catalog.GetTableIndexes(e.table.Name) {
			key := tuple.Value(indexInfo.Index.KeyColumn())
			if err := indexInfo.Index.DeleteEntry(ctx, key, txn); err != nil {
				e.rollback(ctx)
				return nil, err
			}
			e.deletedKeys = append(e.deletedKeys, indexEntry{
				index: indexInfo.Index,
				key:   key,
				rid:   rid,
			})
		}
		count++
	}

	return NewTuple(NewInt(count)), nil
}

package graindb

import (
	"context"

	"go.uber.org/zap"
)

// insertExecutor pulls every child tuple into the table under IX/X locking
// and maintains the table's indexes. If any lock is denied mid-stream, every
// row already inserted by this call is physically removed again (heap and
// indexes) before the failure propagates.
type insertExecutor struct {
	execCtx *ExecutorContext
	plan    *InsertPlan
	child   Executor
	table   *TableInfo
	emitted bool

	insertedRIDs []RID
	insertedKeys []indexEntry
}

// indexEntry remembers an index mutation so a failed operator can undo it.
type indexEntry struct {
	index TableIndex
	key   Value
	rid   RID
}

func newInsertExecutor(execCtx *ExecutorContext, plan *InsertPlan, child Executor) *insertExecutor {
	return &insertExecutor{execCtx: execCtx, plan: plan, child: child}
}

func (e *insertExecutor) Init(ctx context.Context) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	table, err := e.execCtx.Catalog.GetTable(e.plan.TableOID)
	if err != nil {
		return err
	}
	e.table = table
	e.emitted = false
	e.insertedRIDs = nil
	e.insertedKeys = nil

	txn := e.execCtx.Txn
	if txn.HoldsTableLock(IntentionExclusive, e.plan.TableOID) ||
		txn.HoldsTableLock(Exclusive, e.plan.TableOID) ||
		txn.HoldsTableLock(SharedIntentionExclusive, e.plan.TableOID) {
		return nil
	}
	return e.execCtx.Lock.LockTable(txn, IntentionExclusive, e.plan.TableOID)
}

// rollback physically undoes this operator's work: apply-delete every
// inserted row and remove the index entries added for them.
func (e *insertExecutor) rollback(ctx context.Context) {
	for _, entry := range e.insertedKeys {
		if err := entry.index.DeleteEntry(ctx, entry.key, nil); err != nil {
			e.execCtx.Logger.Error("index rollback failed",
				zap.String("index", entry.index.Name()),
				zap.Error(err),
			)
		}
	}
	for _, rid := range e.insertedRIDs {
		if err := e.table.Heap.ApplyDelete(ctx, rid); err != nil {
			e.execCtx.Logger.Error("insert rollback failed",
				zap.String("rid", rid.String()),
				zap.Error(err),
			)
		}
	}
	e.insertedRIDs = nil
	e.insertedKeys = nil
}

func (e *insertExecutor) Next(ctx context.Context) (*Tuple, error) {
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

		rid, err := e.table.Heap.InsertTuple(ctx, tuple)
		if err != nil {
			e.rollback(ctx)
			return nil, err
		}
		e.insertedRIDs = append(e.insertedRIDs, rid)

		if err := e.execCtx.Lock.LockRow(txn, Exclusive, e.plan.TableOID, rid); err != nil {
			e.rollback(ctx)
			return nil, err
		}

		for _, indexInfo := range e.execCtx.Catalog.GetTableIndexes(e.table.Name) {
			key := tuple.Value(indexInfo.Index.KeyColumn())
			if err := indexInfo.Index.InsertEntry(ctx, key, rid, txn); err != nil {
				e.rollback(ctx)
				return nil, err
			}
			e.insertedKeys = append(e.insertedKeys, indexEntry{
				index: indexInfo.Index,
				key:   key,
				rid:   rid,
			})
		}
		count++
	}

	return NewTuple(NewInt(count)), nil
}

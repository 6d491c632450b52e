package graindb

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Executor is the pull contract every operator implements: Init once, then
// Next until it returns a nil tuple. Executors are single-threaded per
// transaction.
type Executor interface {
	Init(ctx context.Context) error
	Next(ctx context.Context) (*Tuple, error)
}

// ExecutorContext carries the services an operator needs.
type ExecutorContext struct {
	Logger  *zap.Logger
	Catalog *Catalog
	Lock    *LockManager
	Txns    *TransactionManager
	Txn     *Transaction
}

// NewExecutor builds the executor tree for a plan.
func NewExecutor(execCtx *ExecutorContext, plan Plan) (Executor, error) {
	switch p := plan.(type) {
	case *ValuesPlan:
		return newValuesExecutor(p), nil
	case *SeqScanPlan:
		return newSeqScanExecutor(execCtx, p), nil
	case *IndexScanPlan:
		return newIndexScanExecutor(execCtx, p), nil
	case *InsertPlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newInsertExecutor(execCtx, p, child), nil
	case *DeletePlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newDeleteExecutor(execCtx, p, child), nil
	case *NestedLoopJoinPlan:
		left, err := NewExecutor(execCtx, p.Left)
		if err != nil {
			return nil, err
		}
		right, err := NewExecutor(execCtx, p.Right)
		if err != nil {
			return nil, err
		}
		return newNestedLoopJoinExecutor(execCtx, p, left, right), nil
	case *NestedIndexJoinPlan:
		left, err := NewExecutor(execCtx, p.Left)
		if err != nil {
			return nil, err
		}
		return newNestedIndexJoinExecutor(execCtx, p, left), nil
	case *SortPlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newSortExecutor(execCtx, p, child), nil
	case *LimitPlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newLimitExecutor(execCtx, p, child), nil
	case *TopNPlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newTopNExecutor(execCtx, p, child), nil
	case *AggregationPlan:
		child, err := NewExecutor(execCtx, p.Child)
		if err != nil {
			return nil, err
		}
		return newAggregationExecutor(execCtx, p, child), nil
	default:
		return nil, fmt.Errorf("no executor for plan type %T", plan)
	}
}

// Execute runs a plan to completion and returns all produced tuples.
func Execute(ctx context.Context, execCtx *ExecutorContext, plan Plan) ([]*Tuple, error) {
	exec, err := NewExecutor(execCtx, plan)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx); err != nil {
		return nil, err
	}
	var out []*Tuple
	for {
		tuple, err := exec.Next(ctx)
		if err != nil {
			return nil, err
		}
		if tuple == nil {
			return out, nil
		}
		out = append(out, tuple)
	}
}

// compareOrderBys orders two tuples under the ordering terms; DESC terms
// invert the comparison.
func compareOrderBys(orderBys []OrderBy, schema *Schema, a, b *Tuple) int {
	for _, ob := range orderBys {
		va := ob.Expr.Evaluate(a, schema)
		vb := ob.Expr.Evaluate(b, schema)
		c := va.Compare(vb)
		if c == 0 {
			continue
		}
		if ob.Desc {
			return -c
		}
		return c
	}
	return 0
}

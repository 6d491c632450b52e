package graindb

import "context"

// nestedLoopJoinExecutor re-scans the right child for every left tuple. Lock
// acquisition is inherited from the children.
type nestedLoopJoinExecutor struct {
	execCtx *ExecutorContext
	plan    *NestedLoopJoinPlan
	left    Executor
	right   Executor

	leftTuple   *Tuple
	leftMatched bool
}

func newNestedLoopJoinExecutor(execCtx *ExecutorContext, plan *NestedLoopJoinPlan, left, right Executor) *nestedLoopJoinExecutor {
	return &nestedLoopJoinExecutor{execCtx: execCtx, plan: plan, left: left, right: right}
}

func (e *nestedLoopJoinExecutor) Init(ctx context.Context) error {
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	if err := e.right.Init(ctx); err != nil {
		return err
	}
	e.leftTuple = nil
	e.leftMatched = false
	return nil
}

// advanceLeft moves to the next outer tuple and restarts the inner scan.
func (e *nestedLoopJoinExecutor) advanceLeft(ctx context.Context) error {
	tuple, err := e.left.Next(ctx)
	if err != nil {
		return err
	}
	e.leftTuple = tuple
	e.leftMatched = false
	if tuple != nil {
		return e.right.Init(ctx)
	}
	return nil
}

func (e *nestedLoopJoinExecutor) nullPaddedRight() *Tuple {
	rightSchema := e.plan.Right.OutputSchema()
	values := make([]Value, rightSchema.ColumnCount())
	for i := range values {
		values[i] = NewNull()
	}
	return &Tuple{Values: values}
}

func (e *nestedLoopJoinExecutor) Next(ctx context.Context) (*Tuple, error) {
	leftSchema := e.plan.Left.OutputSchema()
	rightSchema := e.plan.Right.OutputSchema()

	if e.leftTuple == nil {
		if err := e.advanceLeft(ctx); err != nil {
			return nil, err
		}
	}

	for e.leftTuple != nil {
		rightTuple, err := e.right.Next(ctx)
		if err != nil {
			return nil, err
		}
		if rightTuple == nil {
			var emit *Tuple
			if e.plan.JoinType == LeftJoin && !e.leftMatched {
				emit = e.leftTuple.JoinWith(e.nullPaddedRight())
			}
			if err := e.advanceLeft(ctx); err != nil {
				return nil, err
			}
			if emit != nil {
				return emit, nil
			}
			continue
		}

		if e.plan.Predicate != nil {
			match := e.plan.Predicate.EvaluateJoin(e.leftTuple, leftSchema, rightTuple, rightSchema)
			if !truthy(match) {
				continue
			}
		}
		e.leftMatched = true
		return e.leftTuple.JoinWith(rightTuple), nil
	}
	return nil, nil
}

// nestedIndexJoinExecutor probes an index on the inner table with a key
// computed from each outer tuple, then fetches the matching rows from the
// inner heap.
type nestedIndexJoinExecutor struct {
	execCtx *ExecutorContext
	plan    *NestedIndexJoinPlan
	left    Executor

	innerTable *TableInfo
	innerIndex *IndexInfo

	leftTuple *Tuple
	pending   []RID
}

func newNestedIndexJoinExecutor(execCtx *ExecutorContext, plan *NestedIndexJoinPlan, left Executor) *nestedIndexJoinExecutor {
	return &nestedIndexJoinExecutor{execCtx: execCtx, plan: plan, left: left}
}

func (e *nestedIndexJoinExecutor) Init(ctx context.Context) error {
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	table, err := e.execCtx.Catalog.GetTable(e.plan.InnerTableOID)
	if err != nil {
		return err
	}
	index, err := e.execCtx.Catalog.GetIndex(e.plan.IndexOID)
	if err != nil {
		return err
	}
	e.innerTable = table
	e.innerIndex = index
	e.leftTuple = nil
	e.pending = nil
	return nil
}

func (e *nestedIndexJoinExecutor) nullPaddedInner() *Tuple {
	values := make([]Value, e.plan.InnerSchema.ColumnCount())
	for i := range values {
		values[i] = NewNull()
	}
	return &Tuple{Values: values}
}

func (e *nestedIndexJoinExecutor) Next(ctx context.Context) (*Tuple, error) {
	leftSchema := e.plan.Left.OutputSchema()

	for {
		if len(e.pending) > 0 {
			rid := e.pending[0]
			e.pending = e.pending[1:]
			inner, err := e.innerTable.Heap.GetTuple(ctx, rid)
			if err != nil {
				return nil, err
			}
			return e.leftTuple.JoinWith(inner), nil
		}

		tuple, err := e.left.Next(ctx)
		if err != nil {
			return nil, err
		}
		if tuple == nil {
			return nil, nil
		}
		e.leftTuple = tuple

		key := e.plan.KeyExpr.Evaluate(tuple, leftSchema)
		rids, err := e.innerIndex.Index.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(rids) == 0 {
			if e.plan.JoinType == LeftJoin {
				return tuple.JoinWith(e.nullPaddedInner()), nil
			}
			continue
		}
		e.pending = rids
	}
}

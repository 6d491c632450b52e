package graindb

import (
	"context"
	"sort"
)

// sortExecutor fully buffers its child at Init and emits in order.
type sortExecutor struct {
	execCtx *ExecutorContext
	plan    *SortPlan
	child   Executor

	buffered []*Tuple
	next     int
}

func newSortExecutor(execCtx *ExecutorContext, plan *SortPlan, child Executor) *sortExecutor {
	return &sortExecutor{execCtx: execCtx, plan: plan, child: child}
}

func (e *sortExecutor) Init(ctx context.Context) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	e.buffered = nil
	e.next = 0

	for {
		tuple, err := e.child.Next(ctx)
		if err != nil {
			return err
		}
		if tuple == nil {
			break
		}
		e.buffered = append(e.buffered, tuple)
	}

	schema := e.plan.Child.OutputSchema()
	sort.SliceStable(e.buffered, func(i, j int) bool {
		return compareOrderBys(e.plan.OrderBys, schema, e.buffered[i], e.buffered[j]) < 0
	})
	return nil
}

func (e *sortExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.next >= len(e.buffered) {
		return nil, nil
	}
	tuple := e.buffered[e.next]
	e.next++
	return tuple, nil
}

// limitExecutor truncates its child after N tuples.
type limitExecutor struct {
	execCtx *ExecutorContext
	plan    *LimitPlan
	child   Executor
	emitted int
}

func newLimitExecutor(execCtx *ExecutorContext, plan *LimitPlan, child Executor) *limitExecutor {
	return &limitExecutor{execCtx: execCtx, plan: plan, child: child}
}

func (e *limitExecutor) Init(ctx context.Context) error {
	e.emitted = 0
	return e.child.Init(ctx)
}

func (e *limitExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.emitted >= e.plan.N {
		return nil, nil
	}
	tuple, err := e.child.Next(ctx)
	if err != nil || tuple == nil {
		return nil, err
	}
	e.emitted++
	return tuple, nil
}

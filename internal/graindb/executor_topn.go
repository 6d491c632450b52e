package graindb

import (
	"context"

	"github.com/google/btree"
)

// topNItem wraps a buffered tuple for the bounded ordered buffer. The
// sequence number makes duplicate ordering keys distinct so none are lost.
type topNItem struct {
	tuple *Tuple
	exec  *topNExecutor
	seq   int
}

func (a *topNItem) Less(than btree.Item) bool {
	b := than.(*topNItem)
	schema := a.exec.plan.Child.OutputSchema()
	c := compareOrderBys(a.exec.plan.OrderBys, schema, a.tuple, b.tuple)
	if c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// topNExecutor keeps the N smallest tuples under the orderings in a bounded
// in-memory B-tree while draining the child, then emits them in order.
type topNExecutor struct {
	execCtx *ExecutorContext
	plan    *TopNPlan
	child   Executor

	result []*Tuple
	next   int
}

func newTopNExecutor(execCtx *ExecutorContext, plan *TopNPlan, child Executor) *topNExecutor {
	return &topNExecutor{execCtx: execCtx, plan: plan, child: child}
}

func (e *topNExecutor) Init(ctx context.Context) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	e.result = nil
	e.next = 0

	buffer := btree.New(8)
	seq := 0
	for {
		tuple, err := e.child.Next(ctx)
		if err != nil {
			return err
		}
		if tuple == nil {
			break
		}
		buffer.ReplaceOrInsert(&topNItem{tuple: tuple, exec: e, seq: seq})
		seq++
		if buffer.Len() > e.plan.N {
			buffer.DeleteMax()
		}
	}

	e.result = make([]*Tuple, 0, buffer.Len())
	buffer.Ascend(func(item btree.Item) bool {
		e.result = append(e.result, item.(*topNItem).tuple)
		return true
	})
	return nil
}

func (e *topNExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.next >= len(e.result) {
		return nil, nil
	}
	tuple := e.result[e.next]
	e.next++
	return tuple, nil
}

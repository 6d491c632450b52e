package graindb

import (
	"context"
	"strings"
)

// aggGroup is one hash-table entry: the group-by key values and the running
// aggregate values.
type aggGroup struct {
	groupBys   []Value
	aggregates []Value
}

// aggregationExecutor builds a hash table keyed by the group-by tuple while
// draining the child, then emits one tuple per group. With no group-by terms
// and no input, a single tuple of initial aggregate values comes out.
type aggregationExecutor struct {
	execCtx *ExecutorContext
	plan    *AggregationPlan
	child   Executor

	groups []*aggGroup
	next   int
}

func newAggregationExecutor(execCtx *ExecutorContext, plan *AggregationPlan, child Executor) *aggregationExecutor {
	return &aggregationExecutor{execCtx: execCtx, plan: plan, child: child}
}

// initialAggregates returns the per-group starting values: 0 for COUNT(*),
// NULL for everything else.
func (e *aggregationExecutor) initialAggregates() []Value {
	values := make([]Value, len(e.plan.AggTypes))
	for i, aggType := range e.plan.AggTypes {
		if aggType == CountStarAggregate {
			values[i] = NewInt(0)
		} else {
			values[i] = NewNull()
		}
	}
	return values
}

// combine folds one input value into a running aggregate.
func combine(aggType AggregationType, current, input Value) Value {
	switch aggType {
	case CountStarAggregate:
		return NewInt(current.Int + 1)
	case CountAggregate:
		if input.IsNull() {
			return current
		}
		if current.IsNull() {
			return NewInt(1)
		}
		return NewInt(current.Int + 1)
	case SumAggregate:
		if input.IsNull() {
			return current
		}
		if current.IsNull() {
			return input
		}
		if current.Kind == KindFloat || input.Kind == KindFloat {
			return NewFloat(current.asFloat() + input.asFloat())
		}
		return NewInt(current.Int + input.Int)
	case MinAggregate:
		if input.IsNull() {
			return current
		}
		if current.IsNull() || input.Compare(current) < 0 {
			return input
		}
		return current
	case MaxAggregate:
		if input.IsNull() {
			return current
		}
		if current.IsNull() || input.Compare(current) > 0 {
			return input
		}
		return current
	}
	return current
}

func (e *aggregationExecutor) Init(ctx context.Context) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	e.groups = nil
	e.next = 0

	schema := e.plan.Child.OutputSchema()
	table := make(map[string]*aggGroup)

	for {
		tuple, err := e.child.Next(ctx)
		if err != nil {
			return err
		}
		if tuple == nil {
			break
		}

		groupBys := make([]Value, len(e.plan.GroupBys))
		var keyBuilder strings.Builder
		for i, expr := range e.plan.GroupBys {
			groupBys[i] = expr.Evaluate(tuple, schema)
			groupBys[i].encode(&keyBuilder)
		}
		key := keyBuilder.String()

		group, ok := table[key]
		if !ok {
			group = &aggGroup{groupBys: groupBys, aggregates: e.initialAggregates()}
			table[key] = group
			e.groups = append(e.groups, group)
		}

		for i, aggType := range e.plan.AggTypes {
			var input Value
			if e.plan.Aggregates[i] != nil {
				input = e.plan.Aggregates[i].Evaluate(tuple, schema)
			}
			group.aggregates[i] = combine(aggType, group.aggregates[i], input)
		}
	}

	if len(e.groups) == 0 && len(e.plan.GroupBys) == 0 {
		e.groups = append(e.groups, &aggGroup{aggregates: e.initialAggregates()})
	}
	return nil
}

func (e *aggregationExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.next >= len(e.groups) {
		return nil, nil
	}
	group := e.groups[e.next]
	e.next++

	values := make([]Value, 0, len(group.groupBys)+len(group.aggregates))
	values = append(values, group.groupBys...)
	values = append(values, group.aggregates...)
	return &Tuple{Values: values}, nil
}

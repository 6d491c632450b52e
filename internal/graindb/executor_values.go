package graindb

import "context"

// valuesExecutor emits the plan's literal rows.
type valuesExecutor struct {
	plan *ValuesPlan
	next int
}

func newValuesExecutor(plan *ValuesPlan) *valuesExecutor {
	return &valuesExecutor{plan: plan}
}

func (e *valuesExecutor) Init(ctx context.Context) error {
	e.next = 0
	return nil
}

func (e *valuesExecutor) Next(ctx context.Context) (*Tuple, error) {
	if e.next >= len(e.plan.Rows) {
		return nil, nil
	}
	row := e.plan.Rows[e.next]
	e.next++
	values := make([]Value, len(row))
	copy(values, row)
	return &Tuple{Values: values}, nil
}

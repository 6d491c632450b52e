package graindb

// Optimize applies the plan rewrites bottom-up. The only rule is
// sort+limit -> top-N: a limit directly over a sort collapses into a TopN
// node keeping the limit's output schema and the sort's input.
func Optimize(plan Plan) Plan {
	switch p := plan.(type) {
	case *InsertPlan:
		return &InsertPlan{TableOID: p.TableOID, Child: Optimize(p.Child)}
	case *DeletePlan:
		return &DeletePlan{TableOID: p.TableOID, Child: Optimize(p.Child)}
	case *NestedLoopJoinPlan:
		return &NestedLoopJoinPlan{
			Left:      Optimize(p.Left),
			Right:     Optimize(p.Right),
			Predicate: p.Predicate,
			JoinType:  p.JoinType,
		}
	case *NestedIndexJoinPlan:
		return &NestedIndexJoinPlan{
			Left:          Optimize(p.Left),
			InnerTableOID: p.InnerTableOID,
			IndexOID:      p.IndexOID,
			KeyExpr:       p.KeyExpr,
			JoinType:      p.JoinType,
			InnerSchema:   p.InnerSchema,
		}
	case *SortPlan:
		return &SortPlan{Child: Optimize(p.Child), OrderBys: p.OrderBys}
	case *TopNPlan:
		return &TopNPlan{Child: Optimize(p.Child), OrderBys: p.OrderBys, N: p.N}
	case *AggregationPlan:
		return &AggregationPlan{
			Child:      Optimize(p.Child),
			GroupBys:   p.GroupBys,
			Aggregates: p.Aggregates,
			AggTypes:   p.AggTypes,
			Schema:     p.Schema,
		}
	case *LimitPlan:
		child := Optimize(p.Child)
		if sortPlan, ok := child.(*SortPlan); ok {
			return &TopNPlan{
				Child:    sortPlan.Child,
				OrderBys: sortPlan.OrderBys,
				N:        p.N,
			}
		}
		return &LimitPlan{Child: child, N: p.N}
	default:
		return plan
	}
}

package graindb

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// The wait-for graph is rebuilt from scratch on every detection pass: one
// edge per (waiter, holder) pair whose modes conflict on the same queue.

func (lm *LockManager) addEdge(waiter, holder TxnID) {
	adj := lm.waitsFor[waiter]
	for _, id := range adj {
		if id == holder {
			return
		}
	}
	lm.waitsFor[waiter] = append(adj, holder)
}

func (lm *LockManager) removeNode(txnID TxnID) {
	delete(lm.waitsFor, txnID)
	for waiter, adj := range lm.waitsFor {
		for i, id := range adj {
			if id == txnID {
				lm.waitsFor[waiter] = append(adj[:i], adj[i+1:]...)
				break
			}
		}
		if len(lm.waitsFor[waiter]) == 0 {
			delete(lm.waitsFor, waiter)
		}
	}
}

// edgesLocked returns the current wait-for edges as (waiter, holder) pairs. Only
// meaningful between graph build and teardown inside a detection pass; tests
// use it through DetectOnce's callback.
func (lm *LockManager) edgesLocked() [][2]TxnID {
	var edges [][2]TxnID
	for waiter, adj := range lm.waitsFor {
		for _, holder := range adj {
			edges = append(edges, [2]TxnID{waiter, holder})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

func (lm *LockManager) collectEdges(queues []*lockRequestQueue) {
	for _, q := range queues {
		q.mu.Lock()
		for _, waiter := range q.requests {
			if waiter.granted {
				continue
			}
			for _, holder := range q.requests {
				if holder.granted && !Compatible(holder.mode, waiter.mode) {
					lm.addEdge(waiter.txnID, holder.txnID)
				}
			}
		}
		q.mu.Unlock()
	}
}

// hasCycle runs an iterative DFS from every node in ascending txn id order
// and reports the first cycle found together with its youngest (largest id)
// member.
func (lm *LockManager) hasCycle() (TxnID, bool) {
	if len(lm.waitsFor) == 0 {
		return 0, false
	}

	starts := make([]TxnID, 0, len(lm.waitsFor))
	for id := range lm.waitsFor {
		starts = append(starts, id)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, start := range starts {
		if victim, ok := lm.searchCycleFrom(start); ok {
			return victim, true
		}
	}
	return 0, false
}

// searchCycleFrom walks the graph from start with an explicit stack. Each
// stack frame tracks how far into the node's adjacency list the walk got, so
// the current path can be recovered when a back-edge closes a cycle.
func (lm *LockManager) searchCycleFrom(start TxnID) (TxnID, bool) {
	type frame struct {
		node TxnID
		next int
	}

	stack := []frame{{node: start}}
	onPath := map[TxnID]int{start: 0}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		adj := lm.waitsFor[top.node]
		if top.next >= len(adj) {
			delete(onPath, top.node)
			stack = stack[:len(stack)-1]
			continue
		}
		neighbor := adj[top.next]
		top.next++

		if depth, ok := onPath[neighbor]; ok {
			// Cycle: everything on the path from neighbor to top.
			victim := neighbor
			for i := depth; i < len(stack); i++ {
				if stack[i].node > victim {
					victim = stack[i].node
				}
			}
			return victim, true
		}
		onPath[neighbor] = len(stack)
		stack = append(stack, frame{node: neighbor})
	}
	return 0, false
}

// DetectOnce runs a single deadlock-detection pass: rebuild the wait-for
// graph from the live queues, abort the youngest member of every cycle, wake
// all waiters and tear the graph down. The optional inspect callback observes
// the freshly built edges (used by tests).
func (lm *LockManager) DetectOnce(inspect func(edges [][2]TxnID)) {
	lm.graphMu.Lock()
	defer lm.graphMu.Unlock()

	lm.waitsFor = make(map[TxnID][]TxnID)

	lm.tableMu.Lock()
	tableQueues := make([]*lockRequestQueue, 0, len(lm.tables))
	for _, q := range lm.tables {
		tableQueues = append(tableQueues, q)
	}
	lm.tableMu.Unlock()
	lm.collectEdges(tableQueues)

	lm.rowMu.Lock()
	rowQueues := make([]*lockRequestQueue, 0, len(lm.rows))
	for _, q := range lm.rows {
		rowQueues = append(rowQueues, q)
	}
	lm.rowMu.Unlock()
	lm.collectEdges(rowQueues)

	for _, adj := range lm.waitsFor {
		sort.Slice(adj, func(i, j int) bool { return adj[i] < adj[j] })
	}

	if inspect != nil {
		inspect(lm.edgesLocked())
	}

	for {
		victim, ok := lm.hasCycle()
		if !ok {
			break
		}
		lm.logger.Info("deadlock detected, aborting victim",
			zap.Int64("txn_id", int64(victim)),
		)
		if txn := lm.txns.Get(victim); txn != nil {
			txn.SetState(TxnAborted)
		}
		lm.removeNode(victim)

		for _, q := range tableQueues {
			q.cond.Broadcast()
		}
		for _, q := range rowQueues {
			q.cond.Broadcast()
		}
	}

	lm.waitsFor = make(map[TxnID][]TxnID)
}

// StartDeadlockDetection launches the background detector at the given
// interval. Stop it with StopDeadlockDetection.
func (lm *LockManager) StartDeadlockDetection(interval time.Duration) {
	if lm.detectorStop != nil {
		return
	}
	lm.detectorStop = make(chan struct{})
	lm.detectorDone = make(chan struct{})

	go func() {
		defer close(lm.detectorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.detectorStop:
				return
			case <-ticker.C:
				lm.DetectOnce(nil)
			}
		}
	}()
}

func (lm *LockManager) StopDeadlockDetection() {
	if lm.detectorStop == nil {
		return
	}
	close(lm.detectorStop)
	<-lm.detectorDone
	lm.detectorStop = nil
	lm.detectorDone = nil
}

package engine

import (
	"context"
	"time"

	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/types"
)

// markDirtyLocked puts id back into the pending/dirty state and
// recursively propagates to every node downstream of it. It is
// idempotent: a node already dirty is left untouched, which both
// avoids redundant ResetExecution calls and terminates the recursion
// on a graph with shared descendants.
func (e *Engine) markDirtyLocked(id types.NodeID) {
	if e.dirty.Has(id) {
		return
	}
	rec, ok := e.nodes[id]
	if !ok {
		return
	}
	delete(e.executed, id)
	delete(e.failed, id)
	delete(e.outputs, id)
	rec.state = types.StatePending
	e.dirty.Add(id)
	rec.wrapper.ResetExecution()
	e.PublishExecutionState(id, types.StatePending, nil, false)
	metrics.DirtyPropagationsTotal.Inc()

	for _, linkID := range e.outLinks[id] {
		e.markDirtyLocked(e.links[linkID].ToNode)
	}
}

// dispatchLocked launches every dirty node whose predecessors have all
// executed, up to the execution limit, then reports completion if
// nothing is left running. Dirty nodes are considered in insertion
// order so that re-dispatch is deterministic run to run.
func (e *Engine) dispatchLocked() {
	if e.paused || e.stopping {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchLatency)

	free := e.executionLimit - len(e.executing)
	for _, id := range e.dirty.Snapshot() {
		if free <= 0 {
			break
		}
		if !e.canExecuteLocked(id) {
			continue
		}
		rec := e.nodes[id]
		e.dirty.Remove(id)
		e.executing[id] = true
		rec.state = types.StateExecuting
		free--
		e.PublishExecutionState(id, types.StateExecuting, nil, false)
		e.launchExecute(id, rec)
	}
	metrics.NodesExecuting.Set(float64(len(e.executing)))
	e.reportStateCountsLocked()
	if len(e.executing) == 0 {
		if e.onComplete != nil {
			e.onComplete()
		}
		outcome := "success"
		if len(e.failed) > 0 {
			outcome = "failure"
		}
		metrics.RunsCompletedTotal.WithLabelValues(outcome).Inc()
	}
}

// reportStateCountsLocked refreshes the per-state node gauge; called
// after every dispatch pass, the one point where every node's state is
// guaranteed settled.
func (e *Engine) reportStateCountsLocked() {
	counts := map[types.ExecutionState]int{}
	for _, rec := range e.nodes {
		counts[rec.state]++
	}
	for _, state := range []types.ExecutionState{types.StatePending, types.StateExecuting, types.StateExecuted, types.StateFailed} {
		metrics.NodesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// canExecuteLocked requires every distinct predecessor to be in the
// executed set -- a predecessor that is merely present (pending,
// executing, or failed) blocks the dependent, so one failure stalls
// its entire downstream rather than feeding it stale or absent data.
func (e *Engine) canExecuteLocked(id types.NodeID) bool {
	seen := map[types.NodeID]bool{}
	for _, linkID := range e.inLinks[id] {
		from := e.links[linkID].FromNode
		if seen[from] {
			continue
		}
		seen[from] = true
		if !e.executed[from] {
			return false
		}
	}
	return true
}

// launchExecute builds the node's input set from its links and
// injected inputs while still on the scheduler goroutine, reloads its
// persisted properties, then hands the actual (possibly slow) call to
// the user's Execute hook to its own goroutine. The goroutine reports
// back through submitAsync so the result is applied on the scheduler
// goroutine exactly like every other mutation.
func (e *Engine) launchExecute(id types.NodeID, rec *nodeRecord) {
	inputs := e.buildInputsLocked(id)
	rec.wrapper.ReloadProperties()
	nw := rec.wrapper

	go func() {
		start := time.Now()
		outputs, err := nw.Execute(context.Background(), inputs)
		metrics.NodeExecutionDuration.Observe(time.Since(start).Seconds())
		e.submitAsync(func() {
			e.completeExecuteLocked(id, outputs, err)
		})
	}()
}

func (e *Engine) buildInputsLocked(id types.NodeID) types.Inputs {
	inputs := types.Inputs{}
	for _, linkID := range e.inLinks[id] {
		link := e.links[linkID]
		fromOutputs, ok := e.outputs[link.FromNode]
		if !ok {
			continue
		}
		if value, ok := fromOutputs[link.FromPort]; ok {
			inputs[link.ToPort] = append(inputs[link.ToPort], value)
		}
	}
	for port, values := range e.injected[id] {
		inputs[port] = append(inputs[port], values...)
	}
	return inputs
}

// completeExecuteLocked applies one node's execution result: it moves
// the node into executed or failed, caches fresh outputs, fires output
// listeners, and re-dispatches so newly eligible nodes (including ones
// this node unblocked) get a chance to run.
func (e *Engine) completeExecuteLocked(id types.NodeID, outputs types.Outputs, err error) {
	rec, ok := e.nodes[id]
	if !ok {
		// node was removed while its execution was in flight
		return
	}
	delete(e.executing, id)

	if err != nil {
		e.failed[id] = err
		rec.state = types.StateFailed
		e.PublishExecutionState(id, types.StateFailed, err, false)
		metrics.NodesFailedTotal.Inc()
	} else {
		e.executed[id] = true
		rec.state = types.StateExecuted
		e.outputs[id] = outputs
		e.PublishExecutionState(id, types.StateExecuted, nil, false)
		metrics.NodesExecutedTotal.Inc()
		for port, value := range outputs {
			for _, listener := range e.listeners[id][port] {
				listener(value)
			}
		}
	}
	e.dispatchLocked()
}

// CountFailed returns the number of nodes currently in the failed
// state, used by the manager to decide whether a run ended cleanly.
func (e *Engine) CountFailed() int {
	count := 0
	e.submit(func() {
		count = len(e.failed)
	})
	return count
}

package dag

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/daer"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/snapshot"
)

// ComputeOrderKey derives a deterministic scheduling priority for a
// node from its own ID and how many dependencies it declared. Nodes
// becoming ready at the same moment are drained from the frontier in
// this order, so two runs of the same graph schedule identically
// regardless of goroutine timing — the same guarantee the teacher's
// workHeap/ComputeOrderKey gives per-edge graph routing, generalized
// here to per-node DAG readiness.
func ComputeOrderKey(nodeID string, depCount int) uint64 {
	h := sha256.New()
	h.Write([]byte(nodeID))
	depBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(depBytes, uint32(depCount))
	h.Write(depBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// FailurePolicy controls what happens to the rest of a graph when one
// node fails.
type FailurePolicy int

const (
	// FailFast cancels all pending (not-yet-started) nodes the moment
	// any node fails; in-flight nodes are allowed to finish. This is
	// the default.
	FailFast FailurePolicy = iota

	// Isolate lets every branch run to its own conclusion: only the
	// failed node's dependents are skipped (transitively), independent
	// branches are unaffected.
	Isolate
)

// ErrNodeFailed wraps the first node failure an Execute run observed.
type ErrNodeFailed struct {
	NodeID string
	Report daer.ExecutionReport
}

func (e *ErrNodeFailed) Error() string {
	return fmt.Sprintf("dag: node %q failed: %s", e.NodeID, e.Report.FailureDetail)
}

// workItem is one ready-to-run node waiting in the frontier.
type workItem struct {
	nodeID   string
	orderKey uint64
}

type workHeap []workItem

func (h workHeap) Len() int            { return len(h) }
func (h workHeap) Less(i, j int) bool  { return h[i].orderKey < h[j].orderKey }
func (h workHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x interface{}) { *h = append(*h, x.(workItem)) }
func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// frontier is a mutex-guarded priority queue of ready nodes, draining
// in deterministic OrderKey order to a bounded pool of workers.
type frontier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  workHeap
	closed bool
}

func newFrontier() *frontier {
	f := &frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *frontier) push(item workItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	heap.Push(&f.items, item)
	f.cond.Signal()
}

// pop blocks until an item is available or the frontier is closed,
// returning ok=false in the latter case.
func (f *frontier) pop() (workItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.items.Len() == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.items.Len() == 0 {
		return workItem{}, false
	}
	return heap.Pop(&f.items).(workItem), true
}

func (f *frontier) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// Executor drives a TaskGraph's nodes through their own Engine
// executions, gated on dependency completion, bounded by
// MaxConcurrency concurrent node executions.
type Executor struct {
	Graph          *TaskGraph
	EventLog       eventlog.Log
	SnapshotStore  snapshot.Store
	MaxConcurrency int
	OnFailure      FailurePolicy
}

// NewExecutor builds an Executor sharing one EventLog/SnapshotStore
// across every node in graph, so each node's execution_id
// (graphExecutionID + "/" + nodeID) lives in the same backend and a
// resumed Execute call can tell which nodes already finished.
func NewExecutor(graph *TaskGraph, log eventlog.Log, store snapshot.Store, maxConcurrency int) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Executor{Graph: graph, EventLog: log, SnapshotStore: store, MaxConcurrency: maxConcurrency}
}

// Execute runs every node in the graph to completion (or until a
// failure under FailFast), returning each node's ExecutionReport keyed
// by node ID. Calling Execute again with the same graphExecutionID
// prefix resumes: nodes already at EXECUTION_COMPLETED are skipped
// (idempotently re-reported) by the same mechanism Engine.Run uses for
// any single execution.
func (ex *Executor) Execute(ctx context.Context, graphExecutionID string) (map[string]daer.ExecutionReport, error) {
	order, err := ex.Graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return map[string]daer.ExecutionReport{}, nil
	}

	indegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, id := range order {
		n, _ := ex.Graph.Node(id)
		indegree[id] = len(n.Deps)
		for _, dep := range n.Deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var (
		mu        sync.Mutex
		reports   = make(map[string]daer.ExecutionReport, len(order))
		outputs   = make(map[string]interface{}, len(order))
		skipped   = make(map[string]bool)
		failed    error
		remaining = len(order)
	)

	fr := newFrontier()
	for _, id := range order {
		if indegree[id] == 0 {
			fr.push(workItem{nodeID: id, orderKey: ComputeOrderKey(id, 0)})
		}
	}

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := func() {
		defer wg.Done()
		for {
			item, ok := fr.pop()
			if !ok {
				return
			}

			mu.Lock()
			if skipped[item.nodeID] {
				remaining--
				for _, dep := range dependents[item.nodeID] {
					indegree[dep]--
					if indegree[dep] == 0 {
						dn, _ := ex.Graph.Node(dep)
						fr.push(workItem{nodeID: dep, orderKey: ComputeOrderKey(dep, len(dn.Deps))})
					}
				}
				done := remaining == 0
				mu.Unlock()
				if done {
					fr.close()
				}
				continue
			}
			mu.Unlock()

			// runCtx only gates the pending-dispatch loop: a FailFast
			// cancellation must stop nodes that haven't started yet
			// without reaching into ones already handed to runNode, so
			// this is the only place runCtx is consulted.
			if runCtx.Err() != nil {
				mu.Lock()
				remaining--
				done := remaining == 0
				mu.Unlock()
				if done {
					fr.close()
				}
				continue
			}

			mu.Lock()
			n, _ := ex.Graph.Node(item.nodeID)
			depOutputs := make(map[string]interface{}, len(n.Deps))
			for _, dep := range n.Deps {
				depOutputs[dep] = outputs[dep]
			}
			mu.Unlock()

			report, runErr := ex.runNode(ctx, graphExecutionID, n, depOutputs)

			mu.Lock()
			remaining--
			if runErr != nil {
				if failed == nil {
					failed = runErr
				}
				if ex.OnFailure == Isolate {
					ex.markDescendantsSkipped(item.nodeID, dependents, skipped)
				}
			} else {
				reports[item.nodeID] = report
				outputs[item.nodeID] = report.FinalOutput
				if report.Status != daer.StatusSuccess {
					if failed == nil {
						failed = &ErrNodeFailed{NodeID: item.nodeID, Report: report}
					}
					if ex.OnFailure == Isolate {
						ex.markDescendantsSkipped(item.nodeID, dependents, skipped)
					}
				}
			}

			if failed != nil && ex.OnFailure == FailFast {
				done := remaining == 0
				mu.Unlock()
				cancel()
				fr.close()
				if done {
					return
				}
				continue
			}

			for _, dep := range dependents[item.nodeID] {
				indegree[dep]--
				if indegree[dep] == 0 {
					dn, _ := ex.Graph.Node(dep)
					fr.push(workItem{nodeID: dep, orderKey: ComputeOrderKey(dep, len(dn.Deps))})
				}
			}
			done := remaining == 0
			mu.Unlock()
			if done {
				fr.close()
			}
		}
	}

	workers := ex.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(order) {
		workers = len(order)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	wg.Wait()

	return reports, failed
}

// markDescendantsSkipped transitively marks id's dependents as skipped
// under Isolate policy, so a failed branch doesn't stall the whole
// graph but also doesn't run nodes whose input it would have supplied.
func (ex *Executor) markDescendantsSkipped(id string, dependents map[string][]string, skipped map[string]bool) {
	var visit func(string)
	visit = func(cur string) {
		for _, child := range dependents[cur] {
			if skipped[child] {
				continue
			}
			skipped[child] = true
			visit(child)
		}
	}
	visit(id)
}

func (ex *Executor) runNode(ctx context.Context, graphExecutionID string, n TaskNode, depOutputs map[string]interface{}) (daer.ExecutionReport, error) {
	var task interface{}
	if n.BuildTask != nil {
		task = n.BuildTask(depOutputs)
	}

	opts := append([]interface{}{}, n.EngineOptions...)
	opts = append(opts, daer.WithEventLog(ex.EventLog), daer.WithSnapshotStore(ex.SnapshotStore))

	eng, err := daer.New(n.Adapter, opts...)
	if err != nil {
		return daer.ExecutionReport{}, fmt.Errorf("dag: build engine for node %q: %w", n.ID, err)
	}

	nodeExecID := graphExecutionID + "/" + n.ID
	report, err := eng.Run(ctx, nodeExecID, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return daer.ExecutionReport{}, nil
		}
		return daer.ExecutionReport{}, fmt.Errorf("dag: run node %q: %w", n.ID, err)
	}
	return report, nil
}

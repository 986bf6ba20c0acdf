package dag_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dshills/daer"
	"github.com/dshills/daer/adapter"
	"github.com/dshills/daer/dag"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/snapshot"
	"github.com/stretchr/testify/require"
)

func echoAdapter(name string, output string) daer.AgentAdapter {
	return adapter.NewFuncAdapter(name, "v1", func(_ context.Context, _ daer.StepContext, _ daer.ExecutionState) (daer.StepResult, error) {
		return daer.StepResult{Output: output, Tokens: 1, Done: true}, nil
	})
}

func failingAdapter(name, detail string) daer.AgentAdapter {
	return adapter.NewFuncAdapter(name, "v1", func(_ context.Context, _ daer.StepContext, _ daer.ExecutionState) (daer.StepResult, error) {
		return daer.StepResult{}, errors.New(detail)
	})
}

func TestTaskGraph_DetectsCycle(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "a", Deps: []string{"b"}}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "b", Deps: []string{"a"}}))

	err := g.Validate()
	require.ErrorIs(t, err, dag.ErrCycleDetected)
}

func TestTaskGraph_TopologicalOrderRespectsDependencies(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "A"}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Deps: []string{"A"}}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "C", Deps: []string{"A"}}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "D", Deps: []string{"B", "C"}}))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["A"], pos["B"])
	require.Less(t, pos["A"], pos["C"])
	require.Less(t, pos["B"], pos["D"])
	require.Less(t, pos["C"], pos["D"])
}

func TestTaskGraph_UnknownDependencyRejected(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "a", Deps: []string{"ghost"}}))

	err := g.Validate()
	require.ErrorIs(t, err, dag.ErrUnknownDependency)
}

func TestExecutor_FanOutFanInPropagatesOutputs(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "A", Adapter: echoAdapter("A", "a-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Deps: []string{"A"}, Adapter: echoAdapter("B", "b-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "C", Deps: []string{"A"}, Adapter: echoAdapter("C", "c-out")}))

	var capturedD map[string]interface{}
	require.NoError(t, g.AddNode(dag.TaskNode{
		ID:   "D",
		Deps: []string{"B", "C"},
		BuildTask: func(depOutputs map[string]interface{}) interface{} {
			capturedD = depOutputs
			return fmt.Sprintf("%v+%v", depOutputs["B"], depOutputs["C"])
		},
		Adapter: echoAdapter("D", "d-out"),
	}))

	store := snapshot.NewMemStore()
	ex := dag.NewExecutor(g, eventlog.NewMemLog(), store, 4)
	reports, err := ex.Execute(context.Background(), "graph-1")
	require.NoError(t, err)

	require.Equal(t, daer.StatusSuccess, reports["A"].Status)
	require.Equal(t, daer.StatusSuccess, reports["D"].Status)
	require.Equal(t, "b-out", capturedD["B"])
	require.Equal(t, "c-out", capturedD["C"])
	require.Equal(t, "d-out", reports["D"].FinalOutput)

	// The task BuildTask produced is what D's execution was started with.
	dSnap, err := store.Get(context.Background(), "graph-1/D")
	require.NoError(t, err)
	require.Equal(t, "b-out+c-out", dSnap.Task)
}

func TestExecutor_FailFastSkipsDownstreamButLetsSiblingFinish(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "A", Adapter: echoAdapter("A", "a-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Deps: []string{"A"}, Adapter: failingAdapter("B", "boom")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "C", Deps: []string{"A"}, Adapter: echoAdapter("C", "c-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "D", Deps: []string{"B", "C"}, Adapter: echoAdapter("D", "d-out")}))

	ex := dag.NewExecutor(g, eventlog.NewMemLog(), snapshot.NewMemStore(), 4)
	reports, err := ex.Execute(context.Background(), "graph-2")

	require.Error(t, err)
	var nodeErr *dag.ErrNodeFailed
	require.ErrorAs(t, err, &nodeErr)
	require.Equal(t, "B", nodeErr.NodeID)

	_, dScheduled := reports["D"]
	require.False(t, dScheduled, "D must never be scheduled once B fails under FailFast")

	cReport, cRan := reports["C"]
	require.True(t, cRan, "C is independent of B and must be allowed to finish")
	require.Equal(t, daer.StatusSuccess, cReport.Status)
}

func TestExecutor_FailFastLetsInFlightNodeFinishDespiteCancellation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slowAdapter := adapter.NewFuncAdapter("C", "v1", func(ctx context.Context, _ daer.StepContext, _ daer.ExecutionState) (daer.StepResult, error) {
		close(started)
		select {
		case <-release:
			return daer.StepResult{Output: "c-out", Tokens: 1, Done: true}, nil
		case <-ctx.Done():
			return daer.StepResult{}, ctx.Err()
		}
	})

	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Adapter: failingAdapter("B", "boom")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "C", Adapter: slowAdapter}))

	ex := dag.NewExecutor(g, eventlog.NewMemLog(), snapshot.NewMemStore(), 4)

	done := make(chan struct {
		reports map[string]daer.ExecutionReport
		err     error
	})
	go func() {
		reports, err := ex.Execute(context.Background(), "graph-inflight")
		done <- struct {
			reports map[string]daer.ExecutionReport
			err     error
		}{reports, err}
	}()

	<-started
	// Give B's failure time to reach the FailFast branch and cancel the
	// dispatch context while C is still mid-run.
	time.Sleep(20 * time.Millisecond)
	close(release)

	result := <-done
	require.Error(t, result.err)

	cReport, cRan := result.reports["C"]
	require.True(t, cRan, "C was already in flight when B failed and must be allowed to finish")
	require.Equal(t, daer.StatusSuccess, cReport.Status, "C's ctx must not have been canceled mid-run")
}

func TestExecutor_IsolatePolicyLetsUnrelatedBranchesFinish(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "A", Adapter: echoAdapter("A", "a-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Deps: []string{"A"}, Adapter: failingAdapter("B", "boom")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "E", Adapter: echoAdapter("E", "e-out")})) // independent root

	require.NoError(t, g.AddNode(dag.TaskNode{ID: "F", Deps: []string{"B"}, Adapter: echoAdapter("F", "f-out")}))

	ex := dag.NewExecutor(g, eventlog.NewMemLog(), snapshot.NewMemStore(), 4)
	ex.OnFailure = dag.Isolate

	reports, err := ex.Execute(context.Background(), "graph-4")
	require.Error(t, err)

	_, fScheduled := reports["F"]
	require.False(t, fScheduled, "F depends on the failed node B and must be skipped")

	require.Equal(t, daer.StatusSuccess, reports["E"].Status, "E is unrelated to the failed branch and must still run")
}

func TestExecutor_ResumeSkipsAlreadyCompletedNodes(t *testing.T) {
	g := dag.NewTaskGraph()
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "A", Adapter: echoAdapter("A", "a-out")}))
	require.NoError(t, g.AddNode(dag.TaskNode{ID: "B", Deps: []string{"A"}, Adapter: echoAdapter("B", "b-out")}))

	log := eventlog.NewMemLog()
	store := snapshot.NewMemStore()

	ex := dag.NewExecutor(g, log, store, 2)
	first, err := ex.Execute(context.Background(), "graph-3")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, first["B"].Status)

	second, err := ex.Execute(context.Background(), "graph-3")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, second["B"].Status)
	require.Equal(t, first["B"].FinalOutput, second["B"].FinalOutput)
}

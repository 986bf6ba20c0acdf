// Package dag builds on the root Engine to schedule a graph of
// dependent task executions: each node is its own AgentAdapter
// execution, gated on its declared dependencies reaching a terminal
// success event before it is allowed to start.
package dag

import (
	"errors"
	"fmt"

	"github.com/dshills/daer"
)

// ErrCycleDetected is returned by Validate when the declared
// dependencies do not form a DAG.
var ErrCycleDetected = errors.New("dag: cycle detected")

// ErrUnknownDependency is returned when a node names a dependency ID
// not present in the graph.
var ErrUnknownDependency = errors.New("dag: unknown dependency")

// ErrDuplicateNode is returned when two nodes share an ID.
var ErrDuplicateNode = errors.New("dag: duplicate node id")

// TaskBuilder constructs the task value passed to a node's adapter,
// given the final_output of each of its dependencies (keyed by
// dependency node ID). Nodes with no dependencies receive an empty map.
type TaskBuilder func(depOutputs map[string]interface{}) interface{}

// TaskNode is one schedulable unit in a TaskGraph.
type TaskNode struct {
	// ID must be unique within the graph; it also forms the suffix of
	// this node's execution_id (graphExecutionID + "/" + ID).
	ID string

	// Deps are the node IDs that must reach EXECUTION_COMPLETED(success)
	// before this node is scheduled.
	Deps []string

	// Adapter drives this node's execution.
	Adapter daer.AgentAdapter

	// BuildTask constructs this node's task argument from its
	// dependencies' outputs. A nil BuildTask passes nil as the task.
	BuildTask TaskBuilder

	// EngineOptions configures the per-node Engine (policy, tools,
	// emitter, ...). The Executor always pins EventLog/SnapshotStore
	// itself so every node in a graph shares one backend.
	EngineOptions []interface{}
}

// TaskGraph is a validated set of TaskNodes with no cycles.
type TaskGraph struct {
	nodes map[string]TaskNode
	order []string // insertion order, for stable iteration
}

// NewTaskGraph creates an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{nodes: make(map[string]TaskNode)}
}

// AddNode registers a node. Dependencies may reference nodes not yet
// added — validity is only checked by Validate, so nodes can be added
// in any order.
func (g *TaskGraph) AddNode(n TaskNode) error {
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Node returns the node registered under id.
func (g *TaskGraph) Node(id string) (TaskNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// TopologicalOrder runs Kahn's algorithm over the declared dependency
// edges and returns a valid execution order, or ErrCycleDetected /
// ErrUnknownDependency if the graph is malformed.
func (g *TaskGraph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))

	for id := range g.nodes {
		indegree[id] = 0
	}
	for id, n := range g.nodes {
		for _, dep := range n.Deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: node %q depends on %q", ErrUnknownDependency, id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return out, nil
}

// Validate reports whether the graph is acyclic and every dependency
// resolves to a registered node, without returning the order.
func (g *TaskGraph) Validate() error {
	_, err := g.TopologicalOrder()
	return err
}

// Package graph implements a small execution graph for sequential agent
// workflows with conditional edges. Unlike a DAG runner it tolerates cycles:
// a condition node may route back to an earlier node, and a max-visit guard
// bounds how often any node can re-run.
package graph

import (
	"context"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
)

// State represents the execution state passed between nodes
type State map[string]any

// NodeFunc is the function executed by a node
type NodeFunc func(context.Context, State) (State, error)

// ConditionFunc evaluates a condition and returns the branch label to follow
type ConditionFunc func(context.Context, State) (string, error)

// Node represents a node in the execution graph
type Node struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc
	Condition ConditionFunc     // Only for condition nodes
	Next      string            // Successor for regular nodes
	Branches  map[string]string // For condition nodes: branch label -> next node
}

// Graph represents an execution flow graph
type Graph struct {
	nodes     map[string]*Node
	startNode string
	maxVisits int
}

// Execute runs the graph from the start node until an end node returns.
// Each step either executes the current node and follows its single outgoing
// edge, or evaluates a condition node and follows the chosen branch. A node
// revisited more than maxVisits times aborts the run; callers size the guard
// from their own loop bound.
func (g *Graph) Execute(ctx context.Context, initial State) (State, error) {
	if g.startNode == "" {
		return nil, fmt.Errorf("start node not set")
	}

	state := initial
	if state == nil {
		state = make(State)
	}

	visits := make(map[string]int)
	current := g.startNode
	for {
		node, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("node %s not found", current)
		}
		visits[current]++
		if visits[current] > g.maxVisits {
			return nil, fmt.Errorf("node %s exceeded %d visits", current, g.maxVisits)
		}

		if node.Type == NodeTypeCondition {
			label, err := node.Condition(ctx, state)
			if err != nil {
				return nil, fmt.Errorf("condition %s: %w", node.Name, err)
			}
			next, ok := node.Branches[label]
			if !ok {
				return nil, fmt.Errorf("condition %s: no branch for %q", node.Name, label)
			}
			current = next
			continue
		}

		next, err := node.Execute(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name, err)
		}
		state = next

		if node.Type == NodeTypeEnd {
			return state, nil
		}
		if node.Next == "" {
			return nil, fmt.Errorf("node %s has no successor", node.Name)
		}
		current = node.Next
	}
}

// SetMaxVisits sets the maximum number of times any single node may run.
func (g *Graph) SetMaxVisits(maxVisits int) {
	if maxVisits > 0 {
		g.maxVisits = maxVisits
	}
}

// Builder helps build graphs fluently
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new graph builder
func NewBuilder() *Builder {
	return &Builder{
		graph: &Graph{
			nodes:     make(map[string]*Node),
			maxVisits: 10,
		},
	}
}

// AddNode adds a node to the graph
func (b *Builder) AddNode(name string, nodeType NodeType, execute NodeFunc) *Builder {
	if name == "" {
		panic("node name cannot be empty")
	}
	if execute == nil {
		panic(fmt.Sprintf("node %s must have non-nil Execute function", name))
	}
	if _, exists := b.graph.nodes[name]; exists {
		panic(fmt.Sprintf("node %s already exists", name))
	}
	b.graph.nodes[name] = &Node{Name: name, Type: nodeType, Execute: execute}
	if nodeType == NodeTypeStart {
		b.graph.startNode = name
	}
	return b
}

// AddConditionNode adds a condition node with labelled branches.
func (b *Builder) AddConditionNode(name string, condition ConditionFunc, branches map[string]string) *Builder {
	if condition == nil {
		panic(fmt.Sprintf("condition node %s must have non-nil Condition function", name))
	}
	if _, exists := b.graph.nodes[name]; exists {
		panic(fmt.Sprintf("node %s already exists", name))
	}
	b.graph.nodes[name] = &Node{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		Branches:  branches,
	}
	return b
}

// AddEdge connects a regular node to its successor.
func (b *Builder) AddEdge(from, to string) *Builder {
	if node, exists := b.graph.nodes[from]; exists {
		node.Next = to
	}
	return b
}

// SetStart sets the start node
func (b *Builder) SetStart(name string) *Builder {
	if _, exists := b.graph.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	b.graph.startNode = name
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder) SetMaxVisits(maxVisits int) *Builder {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Build returns the constructed graph
func (b *Builder) Build() *Graph {
	return b.graph
}

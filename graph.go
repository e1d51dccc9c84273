package waitflow

import (
	"fmt"
	"sort"
)

// StepGraph records the steps of a definition and the transitions each
// step declares. A step with no declared transitions may goto any step.
type StepGraph struct {
	EntryPoint string
	Nodes      map[string]*GraphNode
}

// GraphNode represents a step in the graph
type GraphNode struct {
	Step string
	Next []string
}

// NewStepGraph creates an empty graph
func NewStepGraph() *StepGraph {
	return &StepGraph{
		Nodes: make(map[string]*GraphNode),
	}
}

// AddNode adds a step to the graph. The first node becomes the entry point.
func (g *StepGraph) AddNode(step string) {
	if _, exists := g.Nodes[step]; !exists {
		g.Nodes[step] = &GraphNode{
			Step: step,
			Next: []string{},
		}
	}

	if g.EntryPoint == "" {
		g.EntryPoint = step
	}
}

// AddEdge declares that from may goto to
func (g *StepGraph) AddEdge(from, to string) error {
	fromNode, exists := g.Nodes[from]
	if !exists {
		return fmt.Errorf("source step %s not found", from)
	}

	if _, exists := g.Nodes[to]; !exists {
		return fmt.Errorf("target step %s not found", to)
	}

	for _, n := range fromNode.Next {
		if n == to {
			return nil
		}
	}
	fromNode.Next = append(fromNode.Next, to)
	return nil
}

// SetEntryPoint sets the step new instances start at
func (g *StepGraph) SetEntryPoint(step string) error {
	if _, exists := g.Nodes[step]; !exists {
		return fmt.Errorf("step %s not found in graph", step)
	}
	g.EntryPoint = step
	return nil
}

// Has reports whether the step exists
func (g *StepGraph) Has(step string) bool {
	_, ok := g.Nodes[step]
	return ok
}

// CanTransition reports whether from may goto to. The empty target
// (finish) is always allowed.
func (g *StepGraph) CanTransition(from, to string) bool {
	if to == "" {
		return true
	}
	if !g.Has(to) {
		return false
	}
	node, ok := g.Nodes[from]
	if !ok {
		return false
	}
	if len(node.Next) == 0 {
		return true
	}
	for _, n := range node.Next {
		if n == to {
			return true
		}
	}
	return false
}

// Validate validates the graph structure. Cycles are allowed: a step may
// route back to an earlier step.
func (g *StepGraph) Validate() error {
	if g.EntryPoint == "" {
		return fmt.Errorf("step graph has no entry point")
	}

	if _, exists := g.Nodes[g.EntryPoint]; !exists {
		return fmt.Errorf("entry point %s not found in graph", g.EntryPoint)
	}

	for name, node := range g.Nodes {
		for _, next := range node.Next {
			if _, ok := g.Nodes[next]; !ok {
				return fmt.Errorf("step %s declares unknown transition %s", name, next)
			}
		}
	}

	return nil
}

// Unreachable returns the declared-only unreachable steps, sorted. Steps
// reachable through an undeclared (open) node count as reachable.
func (g *StepGraph) Unreachable() []string {
	reachable := make(map[string]bool)
	open := false
	var visit func(string)
	visit = func(step string) {
		if reachable[step] {
			return
		}
		reachable[step] = true
		node := g.Nodes[step]
		if len(node.Next) == 0 {
			open = true
		}
		for _, next := range node.Next {
			visit(next)
		}
	}
	if g.EntryPoint != "" {
		visit(g.EntryPoint)
	}
	if open {
		return nil
	}

	var out []string
	for step := range g.Nodes {
		if !reachable[step] {
			out = append(out, step)
		}
	}
	sort.Strings(out)
	return out
}

// Clone creates a deep copy of the graph
func (g *StepGraph) Clone() *StepGraph {
	clone := &StepGraph{
		EntryPoint: g.EntryPoint,
		Nodes:      make(map[string]*GraphNode),
	}

	for step, node := range g.Nodes {
		clone.Nodes[step] = &GraphNode{
			Step: node.Step,
			Next: append([]string{}, node.Next...),
		}
	}

	return clone
}

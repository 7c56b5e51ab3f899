package workflow

import (
	"errors"
	"fmt"
	"slices"
)

// EdgeFunc picks the next target from the merged post-gate state.
type EdgeFunc func(state WorkflowState) string

// Graph is the compiled topology: router, fan-out branches, join, gate and a
// conditional edge to either a terminal node or the pause target.
type Graph struct {
	nodes       map[string]Node
	router      Router
	join        string
	gate        string
	edge        EdgeFunc
	edgeTargets []string
	pause       string
}

// Builder assembles a Graph. Errors are collected and reported by Compile.
type Builder struct {
	g    Graph
	errs []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{g: Graph{nodes: map[string]Node{}}}
}

// AddNode registers a node under its name.
func (b *Builder) AddNode(n Node) *Builder {
	if n == nil || n.Name() == "" {
		b.errs = append(b.errs, errors.New("node must have a name"))
		return b
	}
	if _, exists := b.g.nodes[n.Name()]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %q registered twice", n.Name()))
		return b
	}
	b.g.nodes[n.Name()] = n
	return b
}

// SetRouter sets the conditional entry point.
func (b *Builder) SetRouter(r Router) *Builder {
	b.g.router = r
	return b
}

// SetJoin names the node run once the barrier releases.
func (b *Builder) SetJoin(name string) *Builder {
	b.g.join = name
	return b
}

// SetGate names the gate node.
func (b *Builder) SetGate(name string) *Builder {
	b.g.gate = name
	return b
}

// AddConditionalEdge attaches the edge evaluated after the gate. targets
// enumerates every value fn may return.
func (b *Builder) AddConditionalEdge(from string, fn EdgeFunc, targets ...string) *Builder {
	if b.g.edge != nil {
		b.errs = append(b.errs, errors.New("conditional edge already set"))
		return b
	}
	if from != b.g.gate {
		b.errs = append(b.errs, fmt.Errorf("conditional edge must leave the gate, got %q", from))
	}
	b.g.edge = fn
	b.g.edgeTargets = slices.Clone(targets)
	return b
}

// SetPauseTarget names the edge target that suspends the run instead of
// executing a node.
func (b *Builder) SetPauseTarget(name string) *Builder {
	b.g.pause = name
	return b
}

// Compile validates the topology and returns the Graph.
func (b *Builder) Compile() (*Graph, error) {
	errs := slices.Clone(b.errs)
	g := b.g

	if g.router == nil {
		errs = append(errs, errors.New("router is required"))
	}
	errs = append(errs, g.checkRole(g.join, RoleJoin, "join"))
	errs = append(errs, g.checkRole(g.gate, RoleGate, "gate"))
	if g.edge == nil {
		errs = append(errs, errors.New("conditional edge is required"))
	}
	if g.pause == "" {
		errs = append(errs, errors.New("pause target is required"))
	} else if !slices.Contains(g.edgeTargets, g.pause) {
		errs = append(errs, fmt.Errorf("pause target %q is not an edge target", g.pause))
	}
	for _, t := range g.edgeTargets {
		if t == g.pause {
			continue
		}
		errs = append(errs, g.checkRole(t, RoleTerminal, "edge target"))
	}
	if lister, ok := g.router.(interface{ Branches() []string }); ok {
		for _, name := range lister.Branches() {
			errs = append(errs, g.checkRole(name, RoleGeneration, "branch"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}
	nodes := make(map[string]Node, len(g.nodes))
	for k, v := range g.nodes {
		nodes[k] = v
	}
	g.nodes = nodes
	return &g, nil
}

func (g *Graph) checkRole(name string, role Role, what string) error {
	if name == "" {
		return fmt.Errorf("%s is required", what)
	}
	n, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("%s %q is not registered", what, name)
	}
	if n.Role() != role {
		return fmt.Errorf("%s %q has role %s, want %s", what, name, n.Role(), role)
	}
	return nil
}

// Node returns a registered node.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// PauseTarget returns the name of the pause edge target.
func (g *Graph) PauseTarget() string { return g.pause }

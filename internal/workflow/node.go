package workflow

import "context"

// Role classifies a node by the position it may take in the graph.
type Role int

const (
	// RoleGeneration nodes are fan-out branches.
	RoleGeneration Role = iota
	// RoleJoin is the passthrough node run once the barrier is released.
	RoleJoin
	// RoleGate assigns risk and precedes the conditional edge.
	RoleGate
	// RoleTerminal ends a run.
	RoleTerminal
)

func (r Role) String() string {
	switch r {
	case RoleGeneration:
		return "generation"
	case RoleJoin:
		return "join"
	case RoleGate:
		return "gate"
	case RoleTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Node is a unit of work turning a state snapshot into a partial update.
// Implementations must not retain or mutate the state they receive.
type Node interface {
	Name() string
	Role() Role
	Run(ctx context.Context, state WorkflowState) (Update, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc struct {
	name string
	role Role
	fn   func(ctx context.Context, state WorkflowState) (Update, error)
}

// NewNode builds a Node from a function.
func NewNode(name string, role Role, fn func(ctx context.Context, state WorkflowState) (Update, error)) *NodeFunc {
	return &NodeFunc{name: name, role: role, fn: fn}
}

func (n *NodeFunc) Name() string { return n.name }

func (n *NodeFunc) Role() Role { return n.role }

func (n *NodeFunc) Run(ctx context.Context, state WorkflowState) (Update, error) {
	return n.fn(ctx, state)
}

// Passthrough returns a join node that contributes nothing.
func Passthrough(name string) Node {
	return NewNode(name, RoleJoin, func(context.Context, WorkflowState) (Update, error) {
		return Update{}, nil
	})
}

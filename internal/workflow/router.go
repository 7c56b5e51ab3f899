package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Router computes, from the inputs, the set of branch nodes to run
// concurrently. The returned set is fixed for the whole run.
type Router interface {
	Route(in Inputs) ([]string, error)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(in Inputs) ([]string, error)

func (f RouterFunc) Route(in Inputs) ([]string, error) { return f(in) }

// ModuleRouter selects one branch per requested module plus a mandatory
// branch that always runs.
type ModuleRouter struct {
	mandatory string
	modules   map[string]string
}

// NewModuleRouter creates a router. modules maps a request module name to
// the branch node implementing it.
func NewModuleRouter(mandatory string, modules map[string]string) *ModuleRouter {
	m := make(map[string]string, len(modules))
	for k, v := range modules {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &ModuleRouter{mandatory: mandatory, modules: m}
}

// Route returns the deduplicated, sorted participant set. Unknown modules
// are rejected rather than silently dropped.
func (r *ModuleRouter) Route(in Inputs) ([]string, error) {
	set := map[string]struct{}{r.mandatory: {}}
	for _, mod := range in.Modules {
		key := strings.ToLower(strings.TrimSpace(mod))
		node, ok := r.modules[key]
		if !ok {
			return nil, fmt.Errorf("router: unknown module %q", mod)
		}
		set[node] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Mandatory returns the always-run branch.
func (r *ModuleRouter) Mandatory() string { return r.mandatory }

// Branches returns every branch the router can select.
func (r *ModuleRouter) Branches() []string {
	set := map[string]struct{}{r.mandatory: {}}
	for _, node := range r.modules {
		set[node] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

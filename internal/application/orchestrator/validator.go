package orchestrator

import (
	"fmt"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/gammazero/toposort"
)

// CapabilityChecker reports whether a capability has a registered worker
type CapabilityChecker interface {
	HasCapability(name string) bool
}

// Validator validates graph structures
type Validator struct {
	capabilities CapabilityChecker
}

// NewValidator creates a new graph validator. A nil checker skips the
// capability check.
func NewValidator(capabilities CapabilityChecker) *Validator {
	return &Validator{capabilities: capabilities}
}

// Validate checks a graph spec and builds its runtime graph. No task is
// executed when an error is returned.
func (v *Validator) Validate(spec domain.GraphSpec) (*Graph, error) {
	if len(spec.Tasks) == 0 {
		return nil, domain.Invalidf("graph must have at least one task")
	}

	index := make(map[string]int, len(spec.Tasks))
	for i, t := range spec.Tasks {
		if t.ID == "" {
			return nil, domain.Invalidf("task at position %d has no id", i)
		}
		if _, exists := index[t.ID]; exists {
			return nil, domain.Invalidf("duplicate task id: %s", t.ID)
		}
		if t.Capability == "" {
			return nil, domain.Invalidf("task %s has no capability", t.ID)
		}
		index[t.ID] = i
	}

	g := newGraph(spec, index)
	for i, t := range spec.Tasks {
		seen := make(map[int]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, &domain.UnknownDependencyError{TaskID: t.ID, Dependency: dep}
			}
			if j == i {
				return nil, &domain.CyclicGraphError{Cycle: []string{t.ID, t.ID}}
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.addEdge(j, i)
		}
	}

	order, err := v.topologicalOrder(g)
	if err != nil {
		return nil, err
	}
	g.order = order

	if v.capabilities != nil {
		for _, t := range spec.Tasks {
			if !v.capabilities.HasCapability(t.Capability) {
				return nil, &domain.UnknownCapabilityError{TaskID: t.ID, Capability: t.Capability}
			}
		}
	}

	return g, nil
}

// topologicalOrder sorts task indices so every task follows its dependencies
func (v *Validator) topologicalOrder(g *Graph) ([]int, error) {
	edges := make([]toposort.Edge, 0, len(g.tasks))
	for i := range g.tasks {
		for _, j := range g.dependencies[i] {
			edges = append(edges, toposort.Edge{j, i})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &domain.CyclicGraphError{Cycle: g.findCycle()}
	}

	order := make([]int, 0, len(g.tasks))
	placed := make([]bool, len(g.tasks))
	for _, node := range sorted {
		i, ok := node.(int)
		if !ok {
			return nil, fmt.Errorf("unexpected node type %T in topological order", node)
		}
		order = append(order, i)
		placed[i] = true
	}

	// tasks without any edge never appear in the edge list
	for i := range g.tasks {
		if !placed[i] {
			order = append(order, i)
		}
	}

	return order, nil
}

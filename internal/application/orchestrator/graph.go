package orchestrator

import (
	"github.com/aescanero/taskmesh/pkg/domain"
)

// Graph owns the tasks of one run. Edges are index based: dependents[i]
// lists the tasks that depend on task i and remaining[i] counts the
// dependencies task i still waits for.
type Graph struct {
	tasks        []*domain.Task
	index        map[string]int
	dependencies [][]int
	dependents   [][]int
	remaining    []int
	order        []int
}

func newGraph(spec domain.GraphSpec, index map[string]int) *Graph {
	g := &Graph{
		tasks:        make([]*domain.Task, len(spec.Tasks)),
		index:        index,
		dependencies: make([][]int, len(spec.Tasks)),
		dependents:   make([][]int, len(spec.Tasks)),
		remaining:    make([]int, len(spec.Tasks)),
	}
	for i, t := range spec.Tasks {
		g.tasks[i] = domain.NewTask(t)
	}
	return g
}

func (g *Graph) addEdge(dependency, dependent int) {
	g.dependencies[dependent] = append(g.dependencies[dependent], dependency)
	g.dependents[dependency] = append(g.dependents[dependency], dependent)
	g.remaining[dependent]++
}

// Len returns the number of tasks
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Task returns a task by id
func (g *Graph) Task(id string) (*domain.Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// Order returns task ids in topological order
func (g *Graph) Order() []string {
	ids := make([]string, len(g.order))
	for k, i := range g.order {
		ids[k] = g.tasks[i].ID
	}
	return ids
}

// roots returns the indices of tasks with no dependencies in declaration order
func (g *Graph) roots() []int {
	var roots []int
	for i, n := range g.remaining {
		if n == 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// outstanding returns the ids of tasks that are not terminal
func (g *Graph) outstanding() []string {
	var ids []string
	for _, i := range g.order {
		if !g.tasks[i].Status.IsTerminal() {
			ids = append(ids, g.tasks[i].ID)
		}
	}
	return ids
}

// findCycle returns one cycle as a path of task ids whose last element
// repeats the first.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.tasks))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = grey
		stack = append(stack, i)
		for _, j := range g.dependencies[i] {
			switch color[j] {
			case grey:
				start := 0
				for k, n := range stack {
					if n == j {
						start = k
						break
					}
				}
				path := make([]string, 0, len(stack)-start+1)
				for _, n := range stack[start:] {
					path = append(path, g.tasks[n].ID)
				}
				return append(path, g.tasks[j].ID)
			case white:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range g.tasks {
		if color[i] == white {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

package orchestrator

import (
	"errors"
	"testing"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capabilitySet map[string]bool

func (c capabilitySet) HasCapability(name string) bool { return c[name] }

func task(id, capability string, deps ...string) domain.TaskSpec {
	return domain.TaskSpec{ID: id, Capability: capability, Dependencies: deps}
}

func TestValidator_Errors(t *testing.T) {
	v := NewValidator(capabilitySet{"render": true, "analyze": true})

	tests := []struct {
		name    string
		spec    domain.GraphSpec
		wantErr error
	}{
		{"empty graph", domain.GraphSpec{}, domain.ErrInvalidGraph},
		{"empty id", domain.GraphSpec{Tasks: []domain.TaskSpec{task("", "render")}}, domain.ErrInvalidGraph},
		{"duplicate id", domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "render"), task("a", "analyze")}}, domain.ErrInvalidGraph},
		{"empty capability", domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "")}}, domain.ErrInvalidGraph},
		{"unknown dependency", domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "render", "ghost")}}, domain.ErrUnknownDependency},
		{"self dependency", domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "render", "a")}}, domain.ErrCyclicGraph},
		{"cycle", domain.GraphSpec{Tasks: []domain.TaskSpec{
			task("a", "render", "c"),
			task("b", "render", "a"),
			task("c", "render", "b"),
		}}, domain.ErrCyclicGraph},
		{"unknown capability", domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "teleport")}}, domain.ErrUnknownCapability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := v.Validate(tt.spec)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidator_CycleWitness(t *testing.T) {
	v := NewValidator(nil)

	_, err := v.Validate(domain.GraphSpec{Tasks: []domain.TaskSpec{
		task("root", "render"),
		task("a", "render", "root", "c"),
		task("b", "render", "a"),
		task("c", "render", "b"),
	}})

	var cycleErr *domain.CyclicGraphError
	require.ErrorAs(t, err, &cycleErr)
	require.Len(t, cycleErr.Cycle, 4)
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[3])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Cycle[:3])
	assert.Contains(t, err.Error(), " -> ")
}

func TestValidator_UnknownDependencyDetails(t *testing.T) {
	_, err := NewValidator(nil).Validate(domain.GraphSpec{Tasks: []domain.TaskSpec{task("a", "render", "ghost")}})

	var depErr *domain.UnknownDependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "a", depErr.TaskID)
	assert.Equal(t, "ghost", depErr.Dependency)
}

func TestValidator_BuildsGraph(t *testing.T) {
	v := NewValidator(capabilitySet{"render": true, "analyze": true, "document": true})

	g, err := v.Validate(domain.GraphSpec{Tasks: []domain.TaskSpec{
		task("doc", "document", "render", "analyze", "render"),
		task("render", "render"),
		task("analyze", "analyze"),
		task("lonely", "render"),
	}})
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []int{1, 2, 3}, g.roots())
	// the duplicated dependency counts once
	assert.Equal(t, 2, g.remaining[0])

	order := g.Order()
	require.Len(t, order, 4)
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["render"], pos["doc"])
	assert.Less(t, pos["analyze"], pos["doc"])
	assert.Contains(t, order, "lonely")

	doc, ok := g.Task("doc")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, doc.Status)
}

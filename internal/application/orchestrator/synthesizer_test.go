package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, specs ...domain.TaskSpec) *Graph {
	t.Helper()
	g, err := NewValidator(nil).Validate(domain.GraphSpec{Tasks: specs})
	require.NoError(t, err)
	return g
}

func setStatus(t *testing.T, g *Graph, id string, status domain.TaskStatus) {
	t.Helper()
	task, ok := g.Task(id)
	require.True(t, ok)
	task.Status = status
	switch status {
	case domain.TaskStatusCompleted:
		task.Output = json.RawMessage(`"ok"`)
	case domain.TaskStatusFailed:
		task.Error = &domain.Failure{Kind: domain.FailureKindPermanent, Message: "boom"}
	case domain.TaskStatusSkipped:
		task.Error = &domain.Failure{Kind: domain.FailureKindDependencyFailed, Message: "dependency failed"}
	}
}

func TestSynthesize_NotQuiescent(t *testing.T) {
	g := buildGraph(t, task("a", "render"), task("b", "render", "a"))
	setStatus(t, g, "a", domain.TaskStatusCompleted)

	_, err := Synthesize("run", g, time.Now(), time.Now())

	var nqErr *domain.NotQuiescentError
	require.ErrorAs(t, err, &nqErr)
	assert.Equal(t, []string{"b"}, nqErr.Outstanding)
	assert.ErrorIs(t, err, domain.ErrNotQuiescent)
}

func TestSynthesize_Status(t *testing.T) {
	optional := func(spec domain.TaskSpec) domain.TaskSpec {
		spec.Optional = true
		return spec
	}

	tests := []struct {
		name     string
		specs    []domain.TaskSpec
		statuses map[string]domain.TaskStatus
		want     domain.RunStatus
	}{
		{
			name:     "all completed",
			specs:    []domain.TaskSpec{task("a", "render"), task("b", "render")},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusCompleted, "b": domain.TaskStatusCompleted},
			want:     domain.RunStatusSuccess,
		},
		{
			name:     "optional failure does not matter",
			specs:    []domain.TaskSpec{task("a", "render"), optional(task("b", "render"))},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusCompleted, "b": domain.TaskStatusFailed},
			want:     domain.RunStatusSuccess,
		},
		{
			name:     "some required failed",
			specs:    []domain.TaskSpec{task("a", "render"), task("b", "render"), task("c", "render", "b")},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusCompleted, "b": domain.TaskStatusFailed, "c": domain.TaskStatusSkipped},
			want:     domain.RunStatusPartialSuccess,
		},
		{
			name:     "no required completed",
			specs:    []domain.TaskSpec{task("a", "render"), optional(task("b", "render"))},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusFailed, "b": domain.TaskStatusCompleted},
			want:     domain.RunStatusFailure,
		},
		{
			name:     "only optional, all failed",
			specs:    []domain.TaskSpec{optional(task("a", "render")), optional(task("b", "render"))},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusFailed, "b": domain.TaskStatusFailed},
			want:     domain.RunStatusFailure,
		},
		{
			name:     "only optional, some failed",
			specs:    []domain.TaskSpec{optional(task("a", "render")), optional(task("b", "render"))},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusCompleted, "b": domain.TaskStatusFailed},
			want:     domain.RunStatusPartialSuccess,
		},
		{
			name:     "only optional, all completed",
			specs:    []domain.TaskSpec{optional(task("a", "render")), optional(task("b", "render"))},
			statuses: map[string]domain.TaskStatus{"a": domain.TaskStatusCompleted, "b": domain.TaskStatusCompleted},
			want:     domain.RunStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.specs...)
			for id, status := range tt.statuses {
				setStatus(t, g, id, status)
			}

			result, err := Synthesize("run-1", g, time.Now(), time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "run-1", result.RunID)
			assert.Len(t, result.Tasks, len(tt.specs))
		})
	}
}

func TestSynthesize_TopologicalListing(t *testing.T) {
	g := buildGraph(t, task("c", "render", "b"), task("b", "render", "a"), task("a", "render"))
	for _, id := range []string{"a", "b", "c"} {
		setStatus(t, g, id, domain.TaskStatusCompleted)
	}

	result, err := Synthesize("run", g, time.Now(), time.Now())
	require.NoError(t, err)

	ids := make([]string, len(result.Tasks))
	for i, r := range result.Tasks {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 3, result.Counts[domain.TaskStatusCompleted])
}

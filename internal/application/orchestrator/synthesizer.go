package orchestrator

import (
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// Synthesize collects the terminal task states of a quiescent graph into a
// single result. Task failures are part of the result, never an error.
func Synthesize(runID string, g *Graph, startedAt, finishedAt time.Time) (*domain.GraphResult, error) {
	if outstanding := g.outstanding(); len(outstanding) > 0 {
		return nil, &domain.NotQuiescentError{Outstanding: outstanding}
	}

	result := &domain.GraphResult{
		RunID:      runID,
		Tasks:      make([]domain.TaskResult, 0, len(g.tasks)),
		Counts:     make(map[domain.TaskStatus]int),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	var required, requiredCompleted, completed int
	for _, i := range g.order {
		t := g.tasks[i]
		result.Tasks = append(result.Tasks, domain.ResultOf(t))
		result.Counts[t.Status]++

		if t.Status == domain.TaskStatusCompleted {
			completed++
		}
		if !t.Optional {
			required++
			if t.Status == domain.TaskStatusCompleted {
				requiredCompleted++
			}
		}
	}

	// a graph of optional tasks only is judged over all of them
	if required == 0 {
		required, requiredCompleted = len(g.tasks), completed
	}
	result.Status = overallStatus(required, requiredCompleted)

	return result, nil
}

func overallStatus(total, completed int) domain.RunStatus {
	switch {
	case completed == total:
		return domain.RunStatusSuccess
	case completed > 0:
		return domain.RunStatusPartialSuccess
	default:
		return domain.RunStatusFailure
	}
}

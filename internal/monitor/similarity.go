package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/types"
)

// defaultSimilarLimit applies when the caller passes no limit.
const defaultSimilarLimit = 10

// SimilarExecution pairs a record with its cosine similarity to the
// query vector.
type SimilarExecution struct {
	Record     *types.ExecutionRecord `json:"record"`
	Similarity float64                `json:"similarity"`
}

// SimilarExecutions returns the k stored executions whose embeddings
// are most similar to the query vector, best first. Similarity is
// computed in Go over a streamed scan; at the row counts a single
// routing host produces this beats maintaining an index.
func (m *Monitor) SimilarExecutions(ctx context.Context, embedding []float32, k int) ([]SimilarExecution, error) {
	if len(embedding) != types.EmbeddingDim {
		return nil, errors.NewInvalidValue("embedding", len(embedding), "wrong vector length")
	}
	if k <= 0 {
		k = defaultSimilarLimit
	}

	type scored struct {
		taskID string
		score  float64
	}
	var candidates []scored

	err := m.store.ForEachEmbedding(ctx, time.Time{}, "", func(taskID string, vec []float32) error {
		candidates = append(candidates, scored{
			taskID: taskID,
			score:  types.CosineSimilarity(embedding, vec),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].taskID < candidates[j].taskID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]SimilarExecution, 0, len(candidates))
	for _, c := range candidates {
		rec, err := m.store.GetExecution(ctx, c.taskID)
		if err != nil {
			// Row removed between scan and fetch; skip it.
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, SimilarExecution{Record: rec, Similarity: c.score})
	}

	return results, nil
}

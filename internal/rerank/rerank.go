package rerank

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"quiz-rag/internal/config"
	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
)

// Reranker reorders retrieval candidates by relevance to a query, most
// relevant first. Implementations return a new slice and never mutate the input.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error)
}

// New builds the reranker selected by cfg.
func New(cfg config.RerankConfig, policy helper.RetryPolicy) (Reranker, error) {
	heuristic := NewHeuristic(cfg.Language, cfg.StopWords)
	switch cfg.Strategy {
	case "", "heuristic":
		return heuristic, nil
	case "model":
		return NewModel(NewHTTPScorer(cfg.ScorerURL, cfg.Timeout), policy, heuristic), nil
	default:
		return nil, fmt.Errorf("%w: unknown rerank strategy %q", models.ErrInput, cfg.Strategy)
	}
}

// Dedupe drops candidates whose trimmed content repeats an earlier one.
func Dedupe(candidates []models.Candidate) []models.Candidate {
	seen := make(map[[sha256.Size]byte]struct{}, len(candidates))
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		sum := sha256.Sum256([]byte(strings.TrimSpace(c.Content)))
		if _, dup := seen[sum]; dup {
			continue
		}
		seen[sum] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sortByScore(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

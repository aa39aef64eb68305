package rerank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
)

// Scorer returns one relevance score per text for the (query, text) pairs.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Model reranks with a learned relevance scorer. When the scorer keeps
// failing, candidates are ranked by the fallback heuristic instead.
type Model struct {
	scorer   Scorer
	retry    helper.RetryPolicy
	fallback *Heuristic
}

func NewModel(scorer Scorer, policy helper.RetryPolicy, fallback *Heuristic) *Model {
	return &Model{scorer: scorer, retry: policy, fallback: fallback}
}

func (m *Model) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	out := Dedupe(candidates)
	if len(out) == 0 {
		return out, nil
	}

	texts := make([]string, len(out))
	for i, c := range out {
		texts[i] = c.Content
	}

	var scores []float64
	err := m.retry.Do(ctx, "rerank", func(ctx context.Context) error {
		s, err := m.scorer.Score(ctx, query, texts)
		if err != nil {
			return err
		}
		if len(s) != len(texts) {
			return fmt.Errorf("scorer returned %d scores for %d texts", len(s), len(texts))
		}
		scores = s
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if m.fallback == nil {
			return nil, fmt.Errorf("%w: rerank: %w", models.ErrService, err)
		}
		log.Warn().Err(err).Msg("Relevance scorer unavailable, using heuristic ranking")
		return m.fallback.Rerank(ctx, query, out)
	}

	for i := range out {
		out[i].Score = scores[i]
	}
	sortByScore(out)
	return out, nil
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type scoreResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// HTTPScorer calls a cross-encoder service exposing POST /rerank, such as
// text-embeddings-inference serving a reranker model.
type HTTPScorer struct {
	client *resty.Client
}

func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPScorer{client: client}
}

func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	var results []scoreResult
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(scoreRequest{Query: query, Texts: texts}).
		SetResult(&results).
		Post("/rerank")
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rerank request: status %s", resp.Status())
	}

	if len(results) != len(texts) {
		return nil, fmt.Errorf("rerank response has %d scores for %d texts", len(results), len(texts))
	}
	scores := make([]float64, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank response index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

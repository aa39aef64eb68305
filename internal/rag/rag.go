package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"quiz-rag/internal/models"
	"quiz-rag/internal/rerank"
)

// Index is the read side of a vector index.
type Index interface {
	SearchByVector(ctx context.Context, vector []float32, k int, filter models.Filter) ([]models.Candidate, error)
}

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// RetrieveOptions narrows a retrieval. Zero values fall back to the RAG defaults.
type RetrieveOptions struct {
	Subject       string
	Unit          string
	K             int
	CandidatePool int
}

// RAG retrieves the passages most relevant to a query: it embeds the query,
// fetches a candidate pool from the index, reranks it and keeps the top k.
type RAG struct {
	index    Index
	embedder QueryEmbedder
	reranker rerank.Reranker
	k        int
	pool     int
}

func NewRAG(index Index, embedder QueryEmbedder, reranker rerank.Reranker, k, pool int) *RAG {
	if k <= 0 {
		k = 3
	}
	return &RAG{index: index, embedder: embedder, reranker: reranker, k: k, pool: max(pool, k)}
}

// Retrieve returns at most k candidates, most relevant first. An index with
// no matching passages yields an empty slice and no error.
func (r *RAG) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]models.Candidate, error) {
	k := opts.K
	if k <= 0 {
		k = r.k
	}
	pool := max(opts.CandidatePool, r.pool, k)

	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := models.Filter{}
	if opts.Subject != "" {
		filter[models.MetaSubject] = opts.Subject
	}
	if opts.Unit != "" {
		filter[models.MetaUnit] = opts.Unit
	}

	candidates, err := r.index.SearchByVector(ctx, vec, pool, filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if len(candidates) == 0 {
		log.Info().Str("query", truncate(query, 50)).Interface("filter", filter).Msg("No candidates found")
		return []models.Candidate{}, nil
	}

	if r.reranker != nil {
		if candidates, err = r.reranker.Rerank(ctx, query, candidates); err != nil {
			return nil, err
		}
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	log.Debug().Str("query", truncate(query, 50)).Int("retrieved", len(candidates)).Msg("Retrieved documents")
	return candidates, nil
}

// FormatContext renders candidates as numbered reference blocks separated by
// a blank line:
//
//	[Reference 1] (subject: S, unit: U)
//	<content>
func FormatContext(candidates []models.Candidate) string {
	parts := make([]string, 0, len(candidates))
	for i, c := range candidates {
		var labels []string
		if s := c.Metadata[models.MetaSubject]; s != "" {
			labels = append(labels, "subject: "+s)
		}
		if u := c.Metadata[models.MetaUnit]; u != "" {
			labels = append(labels, "unit: "+u)
		}

		header := fmt.Sprintf("[Reference %d]", i+1)
		if len(labels) > 0 {
			header += " (" + strings.Join(labels, ", ") + ")"
		}
		parts = append(parts, header+"\n"+c.Content)
	}
	return strings.Join(parts, models.ContextSeparator)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
)

// wordCounter counts whitespace-separated words as tokens.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fakeClient struct {
	mu         sync.Mutex
	batches    [][]string
	queries    int
	failFirst  int
	failAlways bool
	short      bool
}

func (f *fakeClient) fail() bool {
	if f.failAlways {
		return true
	}
	if f.failFirst > 0 {
		f.failFirst--
		return true
	}
	return false
}

func (f *fakeClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.fail() {
		return nil, errors.New("503 service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.fail() {
		return nil, errors.New("timeout")
	}
	return []float32{float32(len(text)), 2}, nil
}

func fastRetry() helper.RetryPolicy {
	return helper.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestEmbedder(client *fakeClient, opts ...Option) *Embedder {
	opts = append([]Option{WithRetryPolicy(fastRetry()), WithTokenCounter(wordCounter{})}, opts...)
	return New(client, "text-embedding-ada-002", opts...)
}

func TestEmbedBatchEmpty(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmbedder(client)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Empty(t, client.batches)
}

func TestEmbedBatchKeepsOrderAcrossBatches(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmbedder(client, WithBatchSize(2), WithBatchDelay(time.Millisecond))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, client.batches)
}

func TestEmbedBatchRetriesTransientFailure(t *testing.T) {
	client := &fakeClient{failFirst: 2}
	e := newTestEmbedder(client)

	vecs, err := e.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, client.batches, 3)
}

func TestEmbedBatchFailsAfterRetries(t *testing.T) {
	client := &fakeClient{failAlways: true}
	e := newTestEmbedder(client)

	vecs, err := e.EmbedBatch(context.Background(), []string{"x"})
	assert.Nil(t, vecs)
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.ErrorIs(t, err, models.ErrService)
	assert.Len(t, client.batches, 3)
}

func TestEmbedBatchRejectsShortResponse(t *testing.T) {
	client := &fakeClient{short: true}
	e := newTestEmbedder(client)

	_, err := e.EmbedBatch(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
}

func TestEmbedOne(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmbedder(client, WithCache(4))

	_, err := e.EmbedOne(context.Background(), "  ")
	assert.ErrorIs(t, err, models.ErrEmptyInput)
	assert.ErrorIs(t, err, models.ErrInput)

	v1, err := e.EmbedOne(context.Background(), "photosynthesis")
	require.NoError(t, err)
	v2, err := e.EmbedOne(context.Background(), "photosynthesis")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, client.queries)
}

func TestEmbedOneWithoutCacheCallsEveryTime(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmbedder(client, WithCache(0))

	for i := 0; i < 2; i++ {
		_, err := e.EmbedOne(context.Background(), "cell")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, client.queries)
}

func TestEstimateCost(t *testing.T) {
	e := newTestEmbedder(&fakeClient{})

	assert.Equal(t, Estimate{}, e.EstimateCost(nil))

	est := e.EstimateCost([]string{"one two", "three four five"})
	assert.Equal(t, 5, est.TotalTokens)
	assert.Equal(t, 2, est.Count)
	assert.InDelta(t, 0.0000005, est.EstimatedCostUSD, 1e-12)

	small := New(&fakeClient{}, "text-embedding-3-small", WithTokenCounter(wordCounter{}))
	assert.InDelta(t, 0.00002, small.EstimateCost([]string{strings.Repeat("w ", 1000)}).EstimatedCostUSD, 1e-12)
}

func TestValidateLength(t *testing.T) {
	e := newTestEmbedder(&fakeClient{})
	assert.True(t, e.ValidateLength("short text"))
	assert.False(t, e.ValidateLength(strings.Repeat("w ", MaxInputTokens+1)))
}

func TestSplitForLimit(t *testing.T) {
	e := newTestEmbedder(&fakeClient{})

	assert.Nil(t, e.SplitForLimit("   ", 5))
	assert.Equal(t, []string{"fits in one."}, e.SplitForLimit(" fits in one. ", 5))

	pieces := e.SplitForLimit("One two three. Four five. Six seven eight nine.", 5)
	assert.Equal(t, []string{"One two three. Four five.", "Six seven eight nine."}, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, wordCounter{}.Count(p), 5)
	}
}

func TestSplitForLimitBreaksLongSentence(t *testing.T) {
	e := newTestEmbedder(&fakeClient{})

	pieces := e.SplitForLimit("a b c d e f g.", 3)
	assert.Equal(t, []string{"a b c", "d e f", "g."}, pieces)
}

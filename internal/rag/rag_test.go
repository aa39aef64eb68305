package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rag/internal/chromemdb"
	"quiz-rag/internal/models"
	"quiz-rag/internal/rerank"
)

// tableEmbedder maps known texts to fixed vectors.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

var corpus = []struct {
	content, subject, unit string
	vec                    []float32
}{
	{"세포는 생명체를 구성하는 기본 단위이다.", "과학", "세포", []float32{1, 0, 0}},
	{"세포막은 물질의 출입을 조절한다.", "과학", "세포", []float32{0.8, 0.2, 0}},
	{"일차방정식은 미지수가 하나인 방정식이다.", "수학", "방정식", []float32{0, 1, 0}},
	{"식물은 빛을 이용해 양분을 만든다.", "과학", "광합성", []float32{0.3, 0, 0.7}},
}

func newIndex(t *testing.T) *chromemdb.VectorDBManager {
	t.Helper()
	idx, err := chromemdb.NewVectorDBManager(chromemdb.Options{CollectionName: "rag_test", InMemory: true, Dimension: 3})
	require.NoError(t, err)

	chunks := make([]models.Chunk, len(corpus))
	vecs := make([][]float32, len(corpus))
	for i, c := range corpus {
		chunks[i] = models.Chunk{Content: c.content, Metadata: map[string]string{models.MetaSubject: c.subject, models.MetaUnit: c.unit}}
		vecs[i] = c.vec
	}
	_, err = idx.Add(context.Background(), chunks, vecs)
	require.NoError(t, err)
	return idx
}

func newEmbedder() *tableEmbedder {
	e := &tableEmbedder{vectors: map[string][]float32{}}
	for _, c := range corpus {
		e.vectors[c.content] = c.vec
	}
	return e
}

func TestRetrieveReturnsMatchingDocumentFirst(t *testing.T) {
	r := NewRAG(newIndex(t), newEmbedder(), rerank.NewHeuristic("ko", nil), 3, 10)

	for _, c := range corpus {
		got, err := r.Retrieve(context.Background(), c.content, RetrieveOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, c.content, got[0].Content)
		assert.LessOrEqual(t, len(got), 3)
	}
}

func TestRetrieveFiltersBySubjectAndUnit(t *testing.T) {
	r := NewRAG(newIndex(t), newEmbedder(), rerank.NewHeuristic("ko", nil), 3, 10)

	got, err := r.Retrieve(context.Background(), corpus[0].content, RetrieveOptions{Subject: "과학", Unit: "세포", K: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, "세포", c.Metadata[models.MetaUnit])
	}
}

func TestRetrieveEmptyIsNotAnError(t *testing.T) {
	r := NewRAG(newIndex(t), newEmbedder(), nil, 3, 10)

	got, err := r.Retrieve(context.Background(), "역사", RetrieveOptions{Subject: "역사"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	r := NewRAG(newIndex(t), newEmbedder(), nil, 2, 10)

	got, err := r.Retrieve(context.Background(), corpus[0].content, RetrieveOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrievePropagatesEmbeddingError(t *testing.T) {
	r := NewRAG(newIndex(t), &tableEmbedder{err: models.ErrEmbeddingService}, nil, 3, 10)

	_, err := r.Retrieve(context.Background(), "q", RetrieveOptions{})
	assert.True(t, errors.Is(err, models.ErrService))
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	got := FormatContext([]models.Candidate{
		{Content: "first passage", Metadata: map[string]string{models.MetaSubject: "과학", models.MetaUnit: "세포"}},
		{Content: "second passage", Metadata: map[string]string{models.MetaSubject: "수학"}},
		{Content: "third passage"},
	})
	want := "[Reference 1] (subject: 과학, unit: 세포)\nfirst passage\n\n" +
		"[Reference 2] (subject: 수학)\nsecond passage\n\n" +
		"[Reference 3]\nthird passage"
	assert.Equal(t, want, got)
}

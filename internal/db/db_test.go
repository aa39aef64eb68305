package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rag/internal/config"
	"quiz-rag/internal/models"
)

func TestVectorValue(t *testing.T) {
	v, err := Vector{1, 0.5, -2}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,0.5,-2]", v)

	v, err = Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVectorScan(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan([]byte("[1,0.25,-3]")))
	assert.Equal(t, Vector{1, 0.25, -3}, v)

	require.NoError(t, v.Scan("[]"))
	assert.Equal(t, Vector{}, v)

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)

	assert.Error(t, v.Scan(42))
	assert.Error(t, v.Scan("[1,x]"))
}

func TestConnectDBRequiresDSN(t *testing.T) {
	_, err := ConnectDB(config.DatabaseConfig{})
	assert.ErrorIs(t, err, models.ErrInput)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RAG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RAG_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, config.DatabaseConfig{Driver: "pgdriver", DSN: dsn, Table: "quiz_rag_test_chunks"})
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	t.Cleanup(func() {
		_ = s.DropDocuments(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, []models.Chunk{{Content: "x"}}, nil)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	ids, err := s.Add(ctx,
		[]models.Chunk{
			{Content: "cells", Metadata: map[string]string{models.MetaSubject: "science", models.MetaUnit: "cells", models.MetaSourceFile: "bio.txt"}},
			{Content: "equations", Metadata: map[string]string{models.MetaSubject: "math", models.MetaUnit: "algebra", models.MetaSourceFile: "math.txt"}},
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
	)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	got, err := s.SearchByVector(ctx, []float32{1, 0.1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Greater(t, got[0].SimilarityScore, got[1].SimilarityScore)

	got, err = s.SearchByVector(ctx, []float32{1, 0, 0}, 5, models.Filter{models.MetaSubject: "math"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "equations", got[0].Content)

	require.NoError(t, s.UpdateMetadata(ctx, ids[1], map[string]string{models.MetaSubject: "math", models.MetaUnit: "functions"}))
	assert.ErrorIs(t, s.UpdateMetadata(ctx, "missing", nil), models.ErrInput)

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, []string{"cells", "functions"}, info.Units)

	n, err := s.DeleteByMetadata(ctx, models.Filter{models.MetaSubject: "science"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rag/internal/models"
	"quiz-rag/internal/rag"
)

type fakeRetriever struct {
	mu      sync.Mutex
	docs    []models.Candidate
	err     error
	queries []string
	opts    []rag.RetrieveOptions
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, opts rag.RetrieveOptions) ([]models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	return f.docs, f.err
}

// scriptedLLM returns the queued responses in order, then validResponse().
type scriptedLLM struct {
	mu      sync.Mutex
	script  []any
	prompts []string
}

func (s *scriptedLLM) GenerateStructured(_ context.Context, prompt string, _ int) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.script) == 0 {
		return validResponse(), nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	switch v := next.(type) {
	case error:
		return nil, v
	case map[string]any:
		return v, nil
	}
	panic(fmt.Sprintf("unexpected script entry %T", next))
}

func validResponse() map[string]any {
	return map[string]any{
		"question":       "  세포의 기본 단위는?  ",
		"options":        []any{"세포", "조직", "기관", "기관계", "개체"},
		"correct_answer": float64(1),
		"explanation":    "생명체를 구성하는 기본 단위는 세포이다.",
		"hint":           " 가장 작은 단위 ",
	}
}

func contextDocs() []models.Candidate {
	return []models.Candidate{{
		Content:  "세포는 생명체를 구성하는 기본 단위이다.",
		Metadata: map[string]string{models.MetaSubject: "과학", models.MetaUnit: "세포"},
	}}
}

func TestGenerateOneSuccess(t *testing.T) {
	ret := &fakeRetriever{docs: contextDocs()}
	llm := &scriptedLLM{}
	g := NewGenerator(ret, llm)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	q, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "세포의 기본 단위는?", q.Question)
	assert.Equal(t, "가장 작은 단위", q.Hint)
	assert.Equal(t, 1, q.CorrectAnswer)
	assert.Equal(t, "과학_세포_medium_1", q.ID)
	assert.Equal(t, fixed, q.GeneratedAt)

	assert.Equal(t, []string{"과학 세포 개념"}, ret.queries)
	assert.Equal(t, rag.RetrieveOptions{Subject: "과학", Unit: "세포", K: 3}, ret.opts[0])
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "[Reference 1] (subject: 과학, unit: 세포)")
	assert.Contains(t, llm.prompts[0], models.ScienceRules)
	assert.Len(t, g.History(), 1)
}

func TestGenerateOneCustomQuery(t *testing.T) {
	ret := &fakeRetriever{docs: contextDocs()}
	g := NewGenerator(ret, &scriptedLLM{})

	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "세포막의 역할")
	require.NoError(t, err)
	assert.Equal(t, []string{"세포막의 역할"}, ret.queries)
}

func TestGenerateOneNoContext(t *testing.T) {
	llm := &scriptedLLM{}
	g := NewGenerator(&fakeRetriever{}, llm)

	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
	assert.ErrorIs(t, err, models.ErrNoContext)
	assert.ErrorIs(t, err, models.ErrEmptyResult)
	assert.Empty(t, llm.prompts)
	assert.Empty(t, g.History())
}

func TestGenerateOneRejectsInvalidDifficulty(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{})
	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.Difficulty("extreme"), "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGenerateOneValidationFailureIsNotRecorded(t *testing.T) {
	bad := validResponse()
	bad["options"] = []any{"a", "b", "c", "d"}
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{script: []any{bad}})

	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyHard, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, g.History())
}

func TestGenerateOneCoercesCorrectAnswer(t *testing.T) {
	asString := validResponse()
	asString["correct_answer"] = " 4 "
	garbage := validResponse()
	garbage["correct_answer"] = "four"
	fractional := validResponse()
	fractional["correct_answer"] = 2.7
	outOfRange := validResponse()
	outOfRange["correct_answer"] = float64(6)

	g := NewGenerator(&fakeRetriever{docs: contextDocs()},
		&scriptedLLM{script: []any{asString, garbage, fractional, outOfRange}})

	for _, want := range []int{4, 1, 2} {
		q, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
		require.NoError(t, err)
		assert.Equal(t, want, q.CorrectAnswer)
	}
	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGenerateOnePropagatesLLMErrors(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()},
		&scriptedLLM{script: []any{models.ErrMalformedResponse}})

	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
	assert.ErrorIs(t, err, models.ErrMalformedResponse)
}

func TestGenerateBatchAllSucceed(t *testing.T) {
	ret := &fakeRetriever{docs: contextDocs()}
	g := NewGenerator(ret, &scriptedLLM{})

	qs, err := g.GenerateBatch(context.Background(), "수학", "방정식", 3, models.DifficultyMedium)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, []string{"수학 방정식 개념", "수학 방정식 예제", "수학 방정식 응용"}, ret.queries)
	assert.Equal(t, "수학_방정식_medium_3", qs[2].ID)
}

func TestGenerateBatchSkipsFailures(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()},
		&scriptedLLM{script: []any{errors.New("generation error")}})

	qs, err := g.GenerateBatch(context.Background(), "수학", "방정식", 3, models.DifficultyMedium)
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestGenerateBatchNoContextYieldsEmpty(t *testing.T) {
	g := NewGenerator(&fakeRetriever{}, &scriptedLLM{})

	qs, err := g.GenerateBatch(context.Background(), "수학", "방정식", 2, models.DifficultyEasy)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestGenerateBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{})

	qs, err := g.GenerateBatch(ctx, "수학", "방정식", 3, models.DifficultyEasy)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, qs)
}

func TestQueryVariantCycles(t *testing.T) {
	assert.Equal(t, "a b 개념", QueryVariant("a", "b", 0))
	assert.Equal(t, "a b 원리", QueryVariant("a", "b", 7))
	assert.Equal(t, "a b 개념", QueryVariant("a", "b", 8))
	assert.Equal(t, "a b 예제", QueryVariant("a", "b", 9))
}

func TestHistoryIsBounded(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{})

	for i := 0; i < DefaultHistoryLimit+1; i++ {
		_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
		require.NoError(t, err)
	}

	h := g.History()
	require.Len(t, h, DefaultHistoryLimit)
	assert.Equal(t, "과학_세포_easy_2", h[0].ID)
	assert.Equal(t, "과학_세포_easy_1001", h[len(h)-1].ID)
}

func TestStatistics(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{})
	empty := g.Statistics()
	assert.Zero(t, empty.TotalQuestions)
	assert.Empty(t, empty.BySubject)

	_, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
	require.NoError(t, err)
	_, err = g.GenerateOne(context.Background(), "과학", "광합성", models.DifficultyHard, "")
	require.NoError(t, err)
	_, err = g.GenerateOne(context.Background(), "수학", "방정식", models.DifficultyHard, "")
	require.NoError(t, err)

	s := g.Statistics()
	assert.Equal(t, 3, s.TotalQuestions)
	assert.Equal(t, map[string]int{"과학": 2, "수학": 1}, s.BySubject)
	assert.Equal(t, map[string]int{"easy": 1, "hard": 2}, s.ByDifficulty)
	assert.Equal(t, map[string]int{"세포": 1, "광합성": 1, "방정식": 1}, s.ByUnit)
	assert.Len(t, s.GenerationTimes, 3)
}

func TestBuildPromptSubjectRules(t *testing.T) {
	math := BuildPrompt("수학", "일차방정식", models.DifficultyHard, "ctx")
	assert.Contains(t, math, models.MathRules)
	assert.Contains(t, math, models.DifficultyGuidelines[models.DifficultyHard])
	assert.Contains(t, math, "<context>\nctx\n</context>")

	assert.Contains(t, BuildPrompt("Science", "cells", models.DifficultyEasy, "ctx"), models.ScienceRules)

	general := BuildPrompt("국어", "시", models.DifficultyEasy, "ctx")
	assert.NotContains(t, general, models.MathRules)
	assert.NotContains(t, general, models.ScienceRules)
	assert.True(t, strings.Contains(general, `"correct_answer"`))
}

func TestGenerateOneConcurrentCallers(t *testing.T) {
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, &scriptedLLM{}, WithHistoryLimit(50))

	const workers, perWorker = 20, 5
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q, err := g.GenerateOne(context.Background(), "과학", "세포", models.DifficultyEasy, "")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[q.ID] = struct{}{}
				mu.Unlock()
				_ = g.Statistics()
				_ = g.History()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers*perWorker)
	assert.Len(t, g.History(), 50)
	assert.Equal(t, 50, g.Statistics().TotalQuestions)
	for _, q := range g.History() {
		assert.Contains(t, ids, q.ID)
	}
}

func TestPromptDoesNotCallModel(t *testing.T) {
	llm := &scriptedLLM{}
	g := NewGenerator(&fakeRetriever{docs: contextDocs()}, llm)

	prompt, err := g.Prompt(context.Background(), "과학", "세포", models.DifficultyHard, "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "세포는 생명체를 구성하는 기본 단위이다.")
	assert.Empty(t, llm.prompts)
	assert.Empty(t, g.History())

	_, err = g.Prompt(context.Background(), "과학", "세포", models.Difficulty("extreme"), "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

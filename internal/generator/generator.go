package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quiz-rag/internal/models"
	"quiz-rag/internal/rag"
)

const (
	DefaultRetrievalK   = 3
	DefaultHistoryLimit = 1000
	// QuestionMaxTokens caps the completion of one question request.
	QuestionMaxTokens = 1500
)

// Retriever supplies context passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts rag.RetrieveOptions) ([]models.Candidate, error)
}

// StructuredLLM returns a decoded JSON object for a prompt.
type StructuredLLM interface {
	GenerateStructured(ctx context.Context, prompt string, maxTokens int) (map[string]any, error)
}

// Generator produces validated multiple-choice questions from retrieved
// textbook context and keeps a bounded history of accepted questions.
type Generator struct {
	retriever    Retriever
	llm          StructuredLLM
	k            int
	historyLimit int
	now          func() time.Time

	mu       sync.Mutex
	history  []models.QuestionRecord
	accepted int
}

type Option func(*Generator)

func WithRetrievalK(k int) Option {
	return func(g *Generator) {
		if k > 0 {
			g.k = k
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.historyLimit = n
		}
	}
}

func NewGenerator(retriever Retriever, llm StructuredLLM, opts ...Option) *Generator {
	g := &Generator{
		retriever:    retriever,
		llm:          llm,
		k:            DefaultRetrievalK,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prompt retrieves context for subject and unit and returns the question
// prompt GenerateOne would send. customQuery replaces the default retrieval
// query when non-empty.
func (g *Generator) Prompt(ctx context.Context, subject, unit string, difficulty models.Difficulty, customQuery string) (string, error) {
	if !difficulty.Valid() {
		return "", fmt.Errorf("%w: difficulty must be easy, medium or hard, got %q", models.ErrValidation, difficulty)
	}

	query := customQuery
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery(subject, unit)
	}

	docs, err := g.retriever.Retrieve(ctx, query, rag.RetrieveOptions{Subject: subject, Unit: unit, K: g.k})
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("%w for %s - %s", models.ErrNoContext, subject, unit)
	}
	log.Debug().Str("query", query).Int("documents", len(docs)).Msg("Context retrieved")

	return BuildPrompt(subject, unit, difficulty, rag.FormatContext(docs)), nil
}

// GenerateOne asks the model for one question built on retrieved context and
// validates it. Rejected questions are not recorded.
func (g *Generator) GenerateOne(ctx context.Context, subject, unit string, difficulty models.Difficulty, customQuery string) (models.QuestionRecord, error) {
	prompt, err := g.Prompt(ctx, subject, unit, difficulty, customQuery)
	if err != nil {
		return models.QuestionRecord{}, err
	}
	resp, err := g.llm.GenerateStructured(ctx, prompt, QuestionMaxTokens)
	if err != nil {
		return models.QuestionRecord{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := clean(resp, subject, unit, difficulty)
	if err != nil {
		return models.QuestionRecord{}, err
	}
	g.accepted++
	record.ID = fmt.Sprintf("%s_%s_%s_%d", subject, unit, difficulty, g.accepted)
	record.GeneratedAt = g.now()
	g.appendLocked(record)

	log.Info().Str("subject", subject).Str("unit", unit).Str("difficulty", string(difficulty)).Str("id", record.ID).Msg("Generated question")
	return record, nil
}

// GenerateBatch asks for count questions, rotating the retrieval query so
// consecutive items draw on different passages. Failed items are skipped;
// the batch stops early once failures reach twice count. Context
// cancellation ends the batch and is returned with the questions so far.
func (g *Generator) GenerateBatch(ctx context.Context, subject, unit string, count int, difficulty models.Difficulty) ([]models.QuestionRecord, error) {
	questions := make([]models.QuestionRecord, 0, max(count, 0))
	maxFailures := count * 2
	failures := 0

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return questions, err
		}
		q, err := g.GenerateOne(ctx, subject, unit, difficulty, QueryVariant(subject, unit, i))
		if err != nil {
			failures++
			log.Warn().Err(err).Int("item", i+1).Int("count", count).Msg("Failed to generate question")
			if failures >= maxFailures {
				log.Error().Int("failures", failures).Msg("Too many failures, stopping batch generation")
				break
			}
			continue
		}
		questions = append(questions, q)
		log.Info().Msgf("Generated question %d/%d", i+1, count)
	}

	log.Info().Msgf("Batch generation completed: %d/%d questions generated", len(questions), count)
	return questions, nil
}

// Statistics aggregates the retained history by subject, difficulty and unit.
func (g *Generator) Statistics() models.Statistics {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := models.Statistics{
		TotalQuestions:  len(g.history),
		BySubject:       map[string]int{},
		ByDifficulty:    map[string]int{},
		ByUnit:          map[string]int{},
		GenerationTimes: make([]time.Time, 0, len(g.history)),
	}
	for _, q := range g.history {
		stats.BySubject[q.Subject]++
		stats.ByDifficulty[string(q.Difficulty)]++
		stats.ByUnit[q.Unit]++
		stats.GenerationTimes = append(stats.GenerationTimes, q.GeneratedAt)
	}
	return stats
}

// History returns a copy of the retained questions, oldest first.
func (g *Generator) History() []models.QuestionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.QuestionRecord(nil), g.history...)
}

func (g *Generator) appendLocked(q models.QuestionRecord) {
	g.history = append(g.history, q)
	if over := len(g.history) - g.historyLimit; over > 0 {
		g.history = append(g.history[:0:0], g.history[over:]...)
	}
}

// DefaultQuery is the retrieval query used when no custom query is given.
func DefaultQuery(subject, unit string) string {
	return fmt.Sprintf("%s %s %s", subject, unit, models.DefaultQuerySuffix)
}

// QueryVariant is the retrieval query for the i-th item of a batch.
func QueryVariant(subject, unit string, i int) string {
	return fmt.Sprintf("%s %s %s", subject, unit, models.QueryVariants[i%len(models.QueryVariants)])
}

package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"quiz-rag/internal/config"
	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
	"quiz-rag/internal/tokenizer"
)

const (
	DefaultBatchSize = 100
	// MaxInputTokens is the input limit of ada-002 and the text-embedding-3 family.
	MaxInputTokens = 8191
)

// pricePer1K is USD per 1,000 input tokens.
var pricePer1K = map[string]float64{
	"text-embedding-ada-002": 0.0001,
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
}

const defaultPriceModel = "text-embedding-ada-002"

// Estimate is the projected cost of embedding a set of texts.
type Estimate struct {
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Count            int     `json:"count"`
}

// Embedder turns texts into vectors through a langchaingo embedding client.
// Batches are all-or-nothing: a batch that keeps failing after the retry
// policy is exhausted fails the whole call.
type Embedder struct {
	client    embeddings.Embedder
	model     string
	batchSize int
	limiter   *rate.Limiter
	retry     helper.RetryPolicy
	counter   tokenizer.Counter
	cache     *lru.Cache[string, []float32]
	maxTokens int
}

type Option func(*Embedder)

func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchDelay spaces consecutive batches by at least d.
func WithBatchDelay(d time.Duration) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithRetryPolicy(p helper.RetryPolicy) Option {
	return func(e *Embedder) { e.retry = p }
}

func WithTokenCounter(c tokenizer.Counter) Option {
	return func(e *Embedder) { e.counter = c }
}

// WithCache keeps the vectors of the last size single-text lookups.
func WithCache(size int) Option {
	return func(e *Embedder) {
		if size <= 0 {
			e.cache = nil
			return
		}
		cache, err := lru.New[string, []float32](size)
		if err != nil {
			log.Warn().Err(err).Msg("Embedding cache disabled")
			return
		}
		e.cache = cache
	}
}

func New(client embeddings.Embedder, model string, opts ...Option) *Embedder {
	e := &Embedder{
		client:    client,
		model:     model,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		retry:     helper.DefaultRetryPolicy(),
		maxTokens: MaxInputTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = tokenizer.New(model)
	}
	return e
}

// NewFromConfig builds the provider client named in cfg and wraps it.
func NewFromConfig(cfg config.EmbedConfig, policy helper.RetryPolicy) (*Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating embedder")

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case "ollama":
		client, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		client, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedding client: %w", cfg.Provider, err)
	}

	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return New(impl, cfg.Model,
		WithBatchSize(cfg.BatchSize),
		WithBatchDelay(cfg.BatchDelay),
		WithRetryPolicy(policy),
		WithCache(cfg.CacheSize),
	), nil
}

func (e *Embedder) Model() string { return e.model }

// EmbedBatch returns one vector per text in input order. Empty input yields an
// empty result without calling the provider.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var out [][]float32
		err := e.retry.Do(ctx, "embed batch", func(ctx context.Context) error {
			res, err := e.client.EmbedDocuments(ctx, batch)
			if err != nil {
				return err
			}
			if len(res) != len(batch) {
				return fmt.Errorf("provider returned %d vectors for %d texts", len(res), len(batch))
			}
			out = res
			return nil
		})
		if err != nil {
			log.Error().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("Embedding batch failed")
			return nil, fmt.Errorf("%w: batch at %d: %w", models.ErrEmbeddingService, start, err)
		}
		vectors = append(vectors, out...)
		log.Debug().Int("done", end).Int("total", len(texts)).Msg("Embedded batch")
	}
	return vectors, nil
}

// EmbedOne embeds a single query text, consulting the cache first.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyInput
	}
	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
	}

	var vec []float32
	err := e.retry.Do(ctx, "embed query", func(ctx context.Context) error {
		res, err := e.client.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vec = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	if e.cache != nil {
		e.cache.Add(text, vec)
	}
	return vec, nil
}

func (e *Embedder) CountTokens(text string) int {
	return e.counter.Count(text)
}

// EstimateCost prices texts with the model's per-1K-token rate. Unknown
// models are priced as ada-002.
func (e *Embedder) EstimateCost(texts []string) Estimate {
	price, ok := pricePer1K[e.model]
	if !ok {
		price = pricePer1K[defaultPriceModel]
	}
	est := Estimate{Count: len(texts)}
	for _, t := range texts {
		est.TotalTokens += e.counter.Count(t)
	}
	est.EstimatedCostUSD = float64(est.TotalTokens) / 1000 * price
	return est
}

// ValidateLength reports whether text fits the model's input limit.
func (e *Embedder) ValidateLength(text string) bool {
	return e.counter.Count(text) <= e.maxTokens
}

func (e *Embedder) MaxTokens() int { return e.maxTokens }

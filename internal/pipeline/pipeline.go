package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"quiz-rag/internal/chromemdb"
	"quiz-rag/internal/config"
	"quiz-rag/internal/db"
	"quiz-rag/internal/embedding"
	"quiz-rag/internal/generator"
	"quiz-rag/internal/llmservice"
	"quiz-rag/internal/models"
	"quiz-rag/internal/parser"
	"quiz-rag/internal/rag"
	"quiz-rag/internal/rerank"
)

// VectorIndex is the storage contract shared by the chromem and pgvector backends.
type VectorIndex interface {
	rag.Index
	Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) ([]string, error)
	Info(ctx context.Context) (models.IndexInfo, error)
	Clear(ctx context.Context) error
	DeleteByMetadata(ctx context.Context, filter models.Filter) (int, error)
	UpdateMetadata(ctx context.Context, id string, md map[string]string) error
	Close() error
}

// Snapshotter is implemented by backends that can export and import their contents.
type Snapshotter interface {
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) error
}

// IngestResult summarizes one processed source file.
type IngestResult struct {
	SourceFile       string  `json:"source_file"`
	ChunkCount       int     `json:"chunk_count"`
	TokenCount       int     `json:"token_count"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Status is a snapshot of the index, model usage and question history.
type Status struct {
	Index     models.IndexInfo  `json:"index"`
	Usage     llmservice.Usage  `json:"usage"`
	Questions models.Statistics `json:"questions"`
}

// GenerationEstimate projects the model cost of a generate request before
// any question is requested. PerQuestion is priced on the first item's prompt.
type GenerationEstimate struct {
	Count        int                     `json:"count"`
	PerQuestion  llmservice.CostEstimate `json:"per_question"`
	TotalCostUSD float64                 `json:"total_cost_usd"`
}

// Pipeline wires chunking, embedding, storage, retrieval and generation.
// Requests are processed synchronously; concurrent ingests into the same
// index are not coordinated.
type Pipeline struct {
	chunker   *parser.Chunker
	embedder  *embedding.Embedder
	index     VectorIndex
	retriever *rag.RAG
	llm       *llmservice.Client
	generator *generator.Generator
	assessor  *generator.Assessor
}

// Components are the collaborators a Pipeline is assembled from.
type Components struct {
	Chunker  *parser.Chunker
	Embedder *embedding.Embedder
	Index    VectorIndex
	Reranker rerank.Reranker
	LLM      *llmservice.Client
	RAG      config.RAGConfig
}

func New(c Components) *Pipeline {
	retriever := rag.NewRAG(c.Index, c.Embedder, c.Reranker, c.RAG.RetrievalK, c.RAG.CandidatePool)
	return &Pipeline{
		chunker:   c.Chunker,
		embedder:  c.Embedder,
		index:     c.Index,
		retriever: retriever,
		llm:       c.LLM,
		generator: generator.NewGenerator(retriever, c.LLM,
			generator.WithRetrievalK(c.RAG.RetrievalK),
			generator.WithHistoryLimit(c.RAG.HistoryLimit),
		),
		assessor: generator.NewAssessor(c.LLM),
	}
}

// NewFromConfig builds every component named in cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewFromConfig(cfg.EmbedLLM, cfg.Retry)
	if err != nil {
		return nil, err
	}
	llm, err := llmservice.NewFromConfig(cfg.LLM, cfg.Retry)
	if err != nil {
		return nil, err
	}
	reranker, err := rerank.New(cfg.Rerank, cfg.Retry)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return New(Components{
		Chunker:  chunker,
		Embedder: embedder,
		Index:    index,
		Reranker: reranker,
		LLM:      llm,
		RAG:      cfg.RAG,
	}), nil
}

// OpenIndex opens the vector index backend selected by cfg.RAG.Backend.
func OpenIndex(ctx context.Context, cfg *config.Config) (VectorIndex, error) {
	switch cfg.RAG.Backend {
	case "", "chromem":
		idx, err := chromemdb.NewVectorDBManager(chromemdb.Options{
			DBPath:         cfg.RAG.DBPath,
			CollectionName: cfg.RAG.CollectionName,
			InMemory:       cfg.RAG.InMemory,
			Compress:       cfg.RAG.Compress,
			EncryptionKey:  cfg.RAG.EncryptionKey,
			Dimension:      cfg.EmbedLLM.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "pgvector":
		store, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", models.ErrInput, cfg.RAG.Backend)
	}
}

// ProcessSource loads, chunks, embeds and stores one source file.
func (p *Pipeline) ProcessSource(ctx context.Context, path, subject, unit string) (IngestResult, error) {
	text, err := parser.LoadText(path)
	if err != nil {
		return IngestResult{}, err
	}

	contents := p.fitEmbeddingLimit(p.chunker.Chunk(parser.Preprocess(text)))
	if len(contents) == 0 {
		return IngestResult{}, fmt.Errorf("%w: %s has no usable text", models.ErrInput, path)
	}

	source := filepath.Base(path)
	docs := p.chunker.Documents(contents, map[string]string{
		models.MetaSubject:    subject,
		models.MetaUnit:       unit,
		models.MetaSourceFile: source,
	})

	est := p.embedder.EstimateCost(contents)
	log.Info().Str("source", source).Int("chunks", len(docs)).Int("tokens", est.TotalTokens).
		Float64("estimated_cost_usd", est.EstimatedCostUSD).Msg("Embedding chunks")

	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return IngestResult{}, err
	}
	if _, err := p.index.Add(ctx, docs, vectors); err != nil {
		return IngestResult{}, err
	}

	log.Info().Str("source", source).Str("subject", subject).Str("unit", unit).Int("chunks", len(docs)).Msg("Processed source")
	return IngestResult{
		SourceFile:       source,
		ChunkCount:       len(docs),
		TokenCount:       est.TotalTokens,
		EstimatedCostUSD: est.EstimatedCostUSD,
	}, nil
}

// fitEmbeddingLimit splits any chunk the embedding model cannot accept whole.
func (p *Pipeline) fitEmbeddingLimit(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if p.embedder.ValidateLength(c) {
			out = append(out, c)
			continue
		}
		parts := p.embedder.SplitForLimit(c, p.embedder.MaxTokens())
		log.Warn().Int("parts", len(parts)).Msg("Chunk exceeds embedding limit, splitting")
		out = append(out, parts...)
	}
	return out
}

func (p *Pipeline) GenerateOne(ctx context.Context, subject, unit string, difficulty models.Difficulty, customQuery string) (models.QuestionRecord, error) {
	return p.generator.GenerateOne(ctx, subject, unit, difficulty, customQuery)
}

func (p *Pipeline) GenerateBatch(ctx context.Context, subject, unit string, count int, difficulty models.Difficulty) ([]models.QuestionRecord, error) {
	return p.generator.GenerateBatch(ctx, subject, unit, count, difficulty)
}

// EstimateGeneration retrieves context and prices the resulting prompt
// without calling the model.
func (p *Pipeline) EstimateGeneration(ctx context.Context, subject, unit string, count int, difficulty models.Difficulty, customQuery string) (GenerationEstimate, error) {
	if count < 1 {
		return GenerationEstimate{}, fmt.Errorf("%w: count must be at least 1", models.ErrInput)
	}
	prompt, err := p.generator.Prompt(ctx, subject, unit, difficulty, customQuery)
	if err != nil {
		return GenerationEstimate{}, err
	}
	per := p.llm.EstimateCost(prompt, generator.QuestionMaxTokens)
	return GenerationEstimate{
		Count:        count,
		PerQuestion:  per,
		TotalCostUSD: math.Round(per.TotalCostUSD*float64(count)*1e6) / 1e6,
	}, nil
}

// Search returns the reranked passages for query without generating anything.
func (p *Pipeline) Search(ctx context.Context, query string, opts rag.RetrieveOptions) ([]models.Candidate, error) {
	return p.retriever.Retrieve(ctx, query, opts)
}

func (p *Pipeline) Statistics() models.Statistics {
	return p.generator.Statistics()
}

func (p *Pipeline) History() []models.QuestionRecord {
	return p.generator.History()
}

func (p *Pipeline) Usage() llmservice.Usage {
	return p.llm.Usage()
}

// ResetUsage zeroes the model usage counters.
func (p *Pipeline) ResetUsage() {
	p.llm.ResetUsage()
}

func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	info, err := p.index.Info(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Index: info, Usage: p.llm.Usage(), Questions: p.generator.Statistics()}, nil
}

func (p *Pipeline) Clear(ctx context.Context) error {
	return p.index.Clear(ctx)
}

func (p *Pipeline) Delete(ctx context.Context, filter models.Filter) (int, error) {
	return p.index.DeleteByMetadata(ctx, filter)
}

func (p *Pipeline) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	return p.index.UpdateMetadata(ctx, id, md)
}

func (p *Pipeline) Export(ctx context.Context, path string) error {
	s, ok := p.index.(Snapshotter)
	if !ok {
		return fmt.Errorf("%w: backend does not support snapshots", models.ErrInput)
	}
	return s.Export(ctx, path)
}

func (p *Pipeline) Import(ctx context.Context, path string) error {
	s, ok := p.index.(Snapshotter)
	if !ok {
		return fmt.Errorf("%w: backend does not support snapshots", models.ErrInput)
	}
	return s.Import(ctx, path)
}

func (p *Pipeline) Close() error {
	return p.index.Close()
}

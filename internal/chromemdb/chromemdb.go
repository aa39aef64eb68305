package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
)

const memoryLocation = ":memory:"

// Options configures a VectorDBManager.
type Options struct {
	DBPath         string
	CollectionName string
	InMemory       bool
	Compress       bool
	// EncryptionKey protects exported snapshots. Empty disables encryption;
	// otherwise it must be 32 bytes.
	EncryptionKey string
	// Dimension is the vector length every stored document must have.
	// Zero adopts the length of the first added batch.
	Dimension int
}

// VectorDBManager stores chunk vectors in a chromem-go collection. Writes are
// persisted immediately when the database is disk-backed.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	dim           int
}

// Vectors are always supplied by the caller, so the collection never embeds text itself.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must carry an embedding")
}

// NewVectorDBManager opens (or creates) the database and its collection.
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(opts.DBPath); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(opts.DBPath, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		name:          opts.CollectionName,
		dbPath:        opts.DBPath,
		inMemory:      opts.InMemory,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
		dim:           opts.Dimension,
	}
	if err := m.openCollection(); err != nil {
		return nil, err
	}
	log.Debug().Str("collection", m.name).Str("location", m.Location()).Int("count", m.collection.Count()).Msg("Vector index ready")
	return m, nil
}

func (m *VectorDBManager) openCollection() error {
	c, err := m.db.GetOrCreateCollection(m.name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return nil
}

// Location identifies where the index lives.
func (m *VectorDBManager) Location() string {
	if m.inMemory {
		return memoryLocation
	}
	return m.dbPath
}

// Add stores one document per chunk. Chunks without an ID get a new UUID.
// The assigned IDs are returned in input order.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) ([]string, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", models.ErrShapeMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	dim := m.dim
	if dim <= 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, index dimension is %d", models.ErrInput, i, len(v), dim)
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		id := ch.ID
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		docs = append(docs, chromem.Document{
			ID:        id,
			Content:   ch.Content,
			Metadata:  models.CloneMetadata(ch.Metadata),
			Embedding: vectors[i],
		})
		ids = append(ids, id)
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	m.dim = dim
	log.Debug().Int("added", len(docs)).Int("count", m.collection.Count()).Msg("Stored documents")
	return ids, nil
}

// SearchByVector returns up to k documents ordered by descending cosine
// similarity. A non-empty filter restricts results to exact metadata matches.
func (m *VectorDBManager) SearchByVector(ctx context.Context, vector []float32, k int, filter models.Filter) ([]models.Candidate, error) {
	n := min(k, m.collection.Count())
	if n <= 0 {
		return []models.Candidate{}, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := m.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		candidates = append(candidates, models.Candidate{
			ID:              r.ID,
			Content:         r.Content,
			Metadata:        models.CloneMetadata(r.Metadata),
			SimilarityScore: sim,
			Distance:        1 - sim,
			Score:           sim,
		})
	}
	return candidates, nil
}

// Info counts the collection and collects subject, unit and source sets from
// a sample of at most models.InfoSampleSize documents.
func (m *VectorDBManager) Info(ctx context.Context) (models.IndexInfo, error) {
	info := models.IndexInfo{
		Collection:  m.name,
		Location:    m.Location(),
		Count:       m.collection.Count(),
		Subjects:    []string{},
		Units:       []string{},
		SourceFiles: []string{},
	}
	if info.Count == 0 || m.dim <= 0 {
		return info, nil
	}

	// chromem has no listing API; a query with a basis vector ranks every document.
	probe := make([]float32, m.dim)
	probe[0] = 1
	sample, err := m.collection.QueryEmbedding(ctx, probe, min(info.Count, models.InfoSampleSize), nil, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.IndexInfo{}, ctxErr
		}
		return models.IndexInfo{}, fmt.Errorf("%w: stored vectors do not match index dimension %d: %v", models.ErrInput, m.dim, err)
	}

	subjects, units, sources := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for _, r := range sample {
		addNonEmpty(subjects, r.Metadata[models.MetaSubject])
		addNonEmpty(units, r.Metadata[models.MetaUnit])
		addNonEmpty(sources, r.Metadata[models.MetaSourceFile])
	}
	info.Subjects = sortedKeys(subjects)
	info.Units = sortedKeys(units)
	info.SourceFiles = sortedKeys(sources)
	return info, nil
}

// Clear drops every document in the collection.
func (m *VectorDBManager) Clear(ctx context.Context) error {
	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := m.openCollection(); err != nil {
		return err
	}
	log.Info().Str("collection", m.name).Msg("Cleared vector index")
	return nil
}

// DeleteByMetadata removes documents matching filter and returns how many were removed.
func (m *VectorDBManager) DeleteByMetadata(ctx context.Context, filter models.Filter) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: delete filter must not be empty", models.ErrInput)
	}
	before := m.collection.Count()
	if err := m.collection.Delete(ctx, filter, nil); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	deleted := before - m.collection.Count()
	log.Info().Interface("filter", filter).Int("deleted", deleted).Msg("Deleted documents")
	return deleted, nil
}

// UpdateMetadata replaces the metadata of one document. Adding a document
// under an existing ID overwrites it in place, so a failed write leaves the
// stored document untouched.
func (m *VectorDBManager) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	doc, err := m.collection.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: no document %q: %v", models.ErrInput, id, err)
	}
	doc.Metadata = models.CloneMetadata(md)
	if err := m.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to re-add document %s: %w", id, err)
	}
	return nil
}

// SnapshotPath is the default export file for this collection.
func (m *VectorDBManager) SnapshotPath() string {
	dir := m.dbPath
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, m.name+".chromem")
}

// Export writes the collection to path, encrypted when a key is configured.
func (m *VectorDBManager) Export(ctx context.Context, path string) error {
	if path == "" {
		path = m.SnapshotPath()
	}
	log.Debug().Str("collection", m.name).Str("path", path).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one stored at path.
func (m *VectorDBManager) Import(ctx context.Context, path string) error {
	if path == "" {
		path = m.SnapshotPath()
	}
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.name, noEmbedding)
	if c == nil {
		return fmt.Errorf("%w: snapshot %s has no collection %q", models.ErrInput, path, m.name)
	}
	m.collection = c
	log.Info().Str("collection", m.name).Int("count", c.Count()).Msg("Imported collection")
	return nil
}

func (m *VectorDBManager) Close() error { return nil }

func addNonEmpty(set map[string]struct{}, v string) {
	if v != "" {
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

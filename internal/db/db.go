package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"quiz-rag/internal/config"
	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
)

// Vector is a pgvector column value in its text form "[a,b,c]".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("parse vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// Document is one stored chunk.
type Document struct {
	bun.BaseModel `bun:"alias:d"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb,notnull"`
	Embedding     Vector            `bun:"embedding,notnull,type:vector"`
	Distance      float64           `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection pool with the driver named in cfg.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database dsn is required", models.ErrInput)
	}
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.DSN)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Store is a pgvector-backed vector index with the same contract as the
// chromem index. Similarity is 1 - cosine distance.
type Store struct {
	db    *bun.DB
	table string
}

func NewStore(db *bun.DB, table string) *Store {
	if table == "" {
		table = "textbook_chunks"
	}
	return &Store{db: db, table: table}
}

// Open connects, creates the table when missing and returns the store.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := NewStore(NewDB(sqldb, cfg.Debug), cfg.Table)
	if err := s.InitDB(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := s.db.NewCreateTable().Model((*Document)(nil)).ModelTableExpr("?", bun.Ident(s.table)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Location() string { return s.table }

func (s *Store) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) ([]string, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", models.ErrShapeMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	docs := make([]Document, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		id := ch.ID
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		docs = append(docs, Document{
			ID:        id,
			Content:   ch.Content,
			Metadata:  models.CloneMetadata(ch.Metadata),
			Embedding: Vector(vectors[i]),
		})
		ids = append(ids, id)
	}

	if _, err := s.db.NewInsert().Model(&docs).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", err)
	}
	log.Debug().Int("added", len(docs)).Str("table", s.table).Msg("Stored documents")
	return ids, nil
}

func (s *Store) SearchByVector(ctx context.Context, vector []float32, k int, filter models.Filter) ([]models.Candidate, error) {
	if k <= 0 {
		return []models.Candidate{}, nil
	}
	var docs []Document
	q := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("id", "content", "metadata").
		ColumnExpr("embedding <=> ? AS distance", Vector(vector))
	q = applyFilter(q, filter)
	err := q.OrderExpr("distance ASC").Limit(k).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(docs))
	for _, d := range docs {
		sim := 1 - d.Distance
		candidates = append(candidates, models.Candidate{
			ID:              d.ID,
			Content:         d.Content,
			Metadata:        d.Metadata,
			SimilarityScore: sim,
			Distance:        d.Distance,
			Score:           sim,
		})
	}
	return candidates, nil
}

func (s *Store) Info(ctx context.Context) (models.IndexInfo, error) {
	info := models.IndexInfo{Collection: s.table, Location: s.Location()}
	count, err := s.db.NewSelect().TableExpr("? AS d", bun.Ident(s.table)).Count(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to count documents: %w", err)
	}
	info.Count = count

	var sample []Document
	err = s.db.NewSelect().
		Model(&sample).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("metadata").
		Limit(models.InfoSampleSize).
		Scan(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to sample metadata: %w", err)
	}

	subjects, units, sources := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for _, d := range sample {
		addNonEmpty(subjects, d.Metadata[models.MetaSubject])
		addNonEmpty(units, d.Metadata[models.MetaUnit])
		addNonEmpty(sources, d.Metadata[models.MetaSourceFile])
	}
	info.Subjects = sortedKeys(subjects)
	info.Units = sortedKeys(units)
	info.SourceFiles = sortedKeys(sources)
	return info, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.NewTruncateTable().Table(s.table).Exec(ctx); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) DeleteByMetadata(ctx context.Context, filter models.Filter) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: delete filter must not be empty", models.ErrInput)
	}
	q := s.db.NewDelete().Model((*Document)(nil)).ModelTableExpr("? AS d", bun.Ident(s.table))
	for _, k := range sortedFilterKeys(filter) {
		q = q.Where("d.metadata ->> ? = ?", k, filter[k])
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UpdateMetadata deletes and re-inserts the row inside one transaction.
func (s *Store) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		doc := new(Document)
		err := tx.NewSelect().Model(doc).ModelTableExpr("? AS d", bun.Ident(s.table)).
			Column("id", "content", "metadata", "embedding").
			Where("d.id = ?", id).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: no document %q", models.ErrInput, id)
			}
			return err
		}
		if _, err := tx.NewDelete().Model((*Document)(nil)).ModelTableExpr("? AS d", bun.Ident(s.table)).Where("d.id = ?", id).Exec(ctx); err != nil {
			return err
		}
		doc.Metadata = models.CloneMetadata(md)
		_, err = tx.NewInsert().Model(doc).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx)
		return err
	})
}

// DropDocuments removes the table entirely.
func (s *Store) DropDocuments(ctx context.Context) error {
	_, err := s.db.NewDropTable().Table(s.table).IfExists().Exec(ctx)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func applyFilter(q *bun.SelectQuery, filter models.Filter) *bun.SelectQuery {
	for _, k := range sortedFilterKeys(filter) {
		q = q.Where("d.metadata ->> ? = ?", k, filter[k])
	}
	return q
}

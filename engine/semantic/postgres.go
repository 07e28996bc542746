package semantic

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/WessleyAI/regcheck/engine/domain"
)

const insertBatch = 100

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ChunkRow is the table layout of one chunk.
type ChunkRow struct {
	ChunkID        string `gorm:"primaryKey"`
	DocumentName   string
	SourceFileHash string
	PageNumber     *int
	ChunkIndex     int
	Content        string
	ChunkType      string
	TokenCount     int
	WordCount      int
	Metadata       datatypes.JSONMap
	Embedding      pgvector.Vector
	CreatedAt      time.Time
}

type scoredRow struct {
	ChunkRow   `gorm:"embedded"`
	Similarity float64
}

// PostgresStore keeps chunks in a pgvector table named after its dimension.
// Writes for one document run in a transaction.
type PostgresStore struct {
	db    *gorm.DB
	table string
	dim   int
}

// OpenPostgres connects with dsn and returns a store for dim-length vectors
// in table <base>_<dim>.
func OpenPostgres(dsn, base string, dim int) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, domain.Wrap(domain.ErrVectorStore, "open postgres", err)
	}
	return NewPostgres(db, base, dim)
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB, base string, dim int) (*PostgresStore, error) {
	if !identRe.MatchString(base) || dim <= 0 {
		return nil, domain.NewValidationError("table", PartitionName(base, dim), domain.ErrInvalidConfig)
	}
	table := PartitionName(base, dim)
	return &PostgresStore{db: db, table: table, dim: dim}, nil
}

func (s *PostgresStore) Dimension() int { return s.dim }

// Close closes the connection pool behind the gorm handle.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, "close postgres", err)
	}
	return sqlDB.Close()
}

// Table returns the partition name.
func (s *PostgresStore) Table() string { return s.table }

// Migrate creates the extension, table and indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id text PRIMARY KEY,
			document_name text NOT NULL,
			source_file_hash text NOT NULL,
			page_number integer,
			chunk_index integer NOT NULL,
			content text NOT NULL,
			chunk_type text NOT NULL,
			token_count integer NOT NULL DEFAULT 0,
			word_count integer NOT NULL DEFAULT 0,
			metadata jsonb,
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_document_idx ON %[1]s (document_name)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_type_idx ON %[1]s (chunk_type)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops)`, s.table),
	}
	db := s.db.WithContext(ctx)
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return domain.Wrap(domain.ErrVectorStore, "migrate "+s.table, err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateWrite(chunks, s.dim, ""); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Table(s.table).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chunk_id"}}, UpdateAll: true}).
		CreateInBatches(toRows(chunks), insertBatch).Error
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, fmt.Sprintf("upsert %d rows", len(chunks)), err)
	}
	return nil
}

func (s *PostgresStore) DeleteByDocument(ctx context.Context, document string) error {
	err := s.db.WithContext(ctx).Table(s.table).Where("document_name = ?", document).Delete(&ChunkRow{}).Error
	if err != nil {
		return domain.WrapDocument(domain.ErrVectorStore, "delete", document, err)
	}
	return nil
}

func (s *PostgresStore) ReplaceDocument(ctx context.Context, document string, chunks []domain.Chunk) error {
	if err := validateWrite(chunks, s.dim, document); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table).Where("document_name = ?", document).Delete(&ChunkRow{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Table(s.table).CreateInBatches(toRows(chunks), insertBatch).Error
	})
	if err != nil {
		return domain.WrapDocument(domain.ErrVectorStore, "replace", document, err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, vec []float32, topK int, types []domain.ChunkType) ([]domain.RetrievedResult, error) {
	if err := validateQuery(vec, s.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	qv := pgvector.NewVector(vec)
	q := s.db.WithContext(ctx).Table(s.table).
		Select("*, 1 - (embedding <=> ?) AS similarity", qv)
	if len(types) > 0 {
		q = q.Where("chunk_type IN ?", typeStrings(types))
	}
	var rows []scoredRow
	err := q.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{qv}}}).
		Limit(topK).
		Find(&rows).Error
	if err != nil {
		return nil, domain.Wrap(domain.ErrVectorStore, "search", err)
	}
	results := make([]domain.RetrievedResult, len(rows))
	for i, r := range rows {
		results[i] = domain.RetrievedResult{Chunk: r.toChunk(), Score: similarity(r.Similarity)}
	}
	return rankResults(results, topK), nil
}

func (s *PostgresStore) FileHashFor(ctx context.Context, document string) (string, bool, error) {
	var hashes []string
	err := s.db.WithContext(ctx).Table(s.table).
		Where("document_name = ?", document).
		Limit(1).
		Pluck("source_file_hash", &hashes).Error
	if err != nil {
		return "", false, domain.WrapDocument(domain.ErrVectorStore, "file hash", document, err)
	}
	if len(hashes) == 0 {
		return "", false, nil
	}
	return hashes[0], true, nil
}

func (s *PostgresStore) Status(ctx context.Context) (Status, error) {
	var docs []struct {
		Name     string
		FileHash string
		Chunks   int
	}
	err := s.db.WithContext(ctx).Table(s.table).
		Select("document_name AS name, MAX(source_file_hash) AS file_hash, COUNT(*) AS chunks").
		Group("document_name").
		Order("document_name").
		Scan(&docs).Error
	if err != nil {
		return Status{}, domain.Wrap(domain.ErrVectorStore, "status", err)
	}
	st := Status{Backend: "postgres", Partition: s.table, Dimension: s.dim}
	for _, d := range docs {
		st.TotalChunks += d.Chunks
		st.Documents = append(st.Documents, DocumentStatus{Name: d.Name, FileHash: d.FileHash, Chunks: d.Chunks})
	}
	return st, nil
}

func toRows(chunks []domain.Chunk) []ChunkRow {
	rows := make([]ChunkRow, len(chunks))
	for i, c := range chunks {
		var meta datatypes.JSONMap
		if len(c.Metadata) > 0 {
			meta = make(datatypes.JSONMap, len(c.Metadata))
			for k, v := range c.Metadata {
				meta[k] = v
			}
		}
		rows[i] = ChunkRow{
			ChunkID:        c.ID,
			DocumentName:   c.DocumentName,
			SourceFileHash: c.SourceFileHash,
			PageNumber:     c.PageNumber,
			ChunkIndex:     c.Index,
			Content:        c.Content,
			ChunkType:      string(c.Type),
			TokenCount:     c.TokenCount,
			WordCount:      c.WordCount,
			Metadata:       meta,
			Embedding:      pgvector.NewVector(c.Embedding),
		}
	}
	return rows
}

func (r ChunkRow) toChunk() domain.Chunk {
	c := domain.Chunk{
		ID:             r.ChunkID,
		DocumentName:   r.DocumentName,
		SourceFileHash: r.SourceFileHash,
		PageNumber:     r.PageNumber,
		Index:          r.ChunkIndex,
		Content:        r.Content,
		Type:           domain.ChunkType(r.ChunkType),
		TokenCount:     r.TokenCount,
		WordCount:      r.WordCount,
		Embedding:      r.Embedding.Slice(),
	}
	if len(r.Metadata) > 0 {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = fmt.Sprint(v)
		}
	}
	return c
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

type ChunkRecord struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            int64           `bun:"id,pk"`
	Source        string          `bun:"source,notnull"`
	Title         string          `bun:"title"`
	Position      int             `bun:"position,notnull"`
	TextExcerpt   string          `bun:"text_excerpt,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	UploadedAt    *time.Time      `bun:"uploaded_at"`
	FilePath      string          `bun:"file_path"`
	Distance      float64         `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver. No connection is
// made until the first query.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, models.ConfigurationError("database url is required")
	}
	switch cfg.Driver {
	case "pgdriver", "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL))), nil
	case "pq":
		return sql.Open("postgres", cfg.URL)
	case "pgx":
		return sql.Open("pgx", cfg.URL)
	default:
		return nil, models.ConfigurationError("unknown database driver %q", cfg.Driver)
	}
}

// Store is a pgvector-backed chunk index.
type Store struct {
	db        *bun.DB
	dimension int
}

func NewStore(db *bun.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

// Open connects with cfg and wraps the connection in a Store.
func Open(cfg *config.DatabaseConfig, dimension int) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(NewDB(sqldb, cfg.Debug), dimension), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
	id bigint PRIMARY KEY,
	source text NOT NULL,
	title text,
	position integer NOT NULL,
	text_excerpt text NOT NULL,
	embedding vector(%d) NOT NULL,
	uploaded_at timestamptz,
	file_path text
)`, s.dimension)
}

// EnsureSchema installs the vector extension and creates the chunks table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const op = "db.EnsureSchema"
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to enable pgvector: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to create chunks table: %w", err))
	}
	return nil
}

// Upsert writes chunks in one statement, replacing rows with the same id.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) error {
	const op = "db.Upsert"
	if len(chunks) == 0 {
		return nil
	}

	records := make([]ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return models.NewError(models.KindIndex, op,
				fmt.Errorf("%w: chunk %d has %d, want %d", models.ErrDimensionMismatch, c.ID, len(c.Embedding), s.dimension))
		}
		records = append(records, recordFromChunk(c))
	}

	_, err := s.upsertQuery(&records).Exec(ctx)
	if err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to store chunks: %w", err))
	}
	log.Debug().Int("rows", len(records)).Msg("Upserted chunks")
	return nil
}

func (s *Store) upsertQuery(records *[]ChunkRecord) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(records).
		On("CONFLICT (id) DO UPDATE").
		Set("source = EXCLUDED.source").
		Set("title = EXCLUDED.title").
		Set("position = EXCLUDED.position").
		Set("text_excerpt = EXCLUDED.text_excerpt").
		Set("embedding = EXCLUDED.embedding").
		Set("uploaded_at = EXCLUDED.uploaded_at").
		Set("file_path = EXCLUDED.file_path")
}

// Search returns the k rows closest to vector by cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	const op = "db.Search"
	if len(vector) != s.dimension {
		return nil, models.NewError(models.KindIndex, op,
			fmt.Errorf("%w: query has %d, want %d", models.ErrDimensionMismatch, len(vector), s.dimension))
	}
	if k <= 0 {
		return []models.SearchHit{}, nil
	}

	var records []ChunkRecord
	if err := s.searchQuery(&records, vector, k).Scan(ctx); err != nil {
		return nil, models.NewError(models.KindIndex, op, fmt.Errorf("failed to search chunks: %w", err))
	}

	hits := make([]models.SearchHit, 0, len(records))
	for _, r := range records {
		hits = append(hits, models.SearchHit{
			ID:    int(r.ID),
			Score: float32(1 - r.Distance),
			Chunk: chunkFromRecord(r),
		})
	}
	return hits, nil
}

func (s *Store) searchQuery(records *[]ChunkRecord, vector []float32, k int) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	return s.db.NewSelect().
		Model(records).
		Column("id", "source", "title", "position", "text_excerpt", "uploaded_at", "file_path").
		ColumnExpr("embedding <=> ? AS distance", vec).
		OrderExpr("embedding <=> ?", vec).
		Limit(k)
}

// Clear empties the table. A hard clear drops and recreates it.
func (s *Store) Clear(ctx context.Context, hard bool) error {
	const op = "db.Clear"
	if hard {
		if _, err := s.db.NewDropTable().Model((*ChunkRecord)(nil)).IfExists().Exec(ctx); err != nil {
			return models.NewError(models.KindIndex, op, fmt.Errorf("failed to drop chunks table: %w", err))
		}
		return s.EnsureSchema(ctx)
	}
	if _, err := s.db.NewTruncateTable().Model((*ChunkRecord)(nil)).Exec(ctx); err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to truncate chunks table: %w", err))
	}
	return nil
}

func recordFromChunk(c models.Chunk) ChunkRecord {
	return ChunkRecord{
		ID:          int64(c.ID),
		Source:      c.Source,
		Title:       c.Title,
		Position:    c.Position,
		TextExcerpt: c.TextExcerpt,
		Embedding:   pgvector.NewVector(c.Embedding),
		UploadedAt:  c.UploadedAt,
		FilePath:    c.FilePath,
	}
}

func chunkFromRecord(r ChunkRecord) models.Chunk {
	return models.Chunk{
		ID:          int(r.ID),
		Source:      r.Source,
		Title:       r.Title,
		Position:    r.Position,
		TextExcerpt: r.TextExcerpt,
		UploadedAt:  r.UploadedAt,
		FilePath:    r.FilePath,
	}
}

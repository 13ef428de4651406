package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// every stored chunk carries this pair so a soft clear can match all of them
const (
	kindKey   = "kind"
	kindChunk = "chunk"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dimension      int
	dbPath         string
	compress       bool
	encryptionKey  string
	filePath       string
}

// NewVectorDBManager opens an in-memory or persistent chromem database.
// The collection is created by EnsureSchema.
func NewVectorDBManager(cfg *config.VectorDBConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, models.NewError(models.KindIndex, "chromemdb.Open", fmt.Errorf("failed to create database: %w", err))
		}
	}

	ext := ".chromem"
	if cfg.Compress {
		ext += ".gz"
	}
	return &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		dimension:      cfg.Dimension,
		dbPath:         cfg.Path,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       filepath.Join(cfg.Path, cfg.Collection+ext),
	}, nil
}

// EnsureSchema creates or reads the collection.
func (m *VectorDBManager) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked()
}

func (m *VectorDBManager) ensureLocked() error {
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return models.NewError(models.KindIndex, "chromemdb.EnsureSchema", fmt.Errorf("failed to create/get collection: %w", err))
	}
	m.collection = c
	return nil
}

func (m *VectorDBManager) current() (*chromem.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return nil, fmt.Errorf("collection %q is not initialised", m.collectionName)
	}
	return m.collection, nil
}

// Upsert adds or replaces chunks by id. chromem persists each document before
// AddDocuments returns.
func (m *VectorDBManager) Upsert(ctx context.Context, chunks []models.Chunk) error {
	const op = "chromemdb.Upsert"
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != m.dimension {
			return models.NewError(models.KindIndex, op,
				fmt.Errorf("%w: chunk %d has %d, want %d", models.ErrDimensionMismatch, c.ID, len(c.Embedding), m.dimension))
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(c.ID),
			Content:   c.TextExcerpt,
			Metadata:  metadataFromChunk(c),
			Embedding: c.Embedding,
		})
	}

	collection, err := m.current()
	if err != nil {
		return models.NewError(models.KindIndex, op, err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to add documents: %w", err))
	}
	log.Debug().Int("documents", len(docs)).Str("collection", m.collectionName).Msg("Upserted chunks")
	return nil
}

// Search returns up to k nearest chunks by cosine similarity, best first.
func (m *VectorDBManager) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	const op = "chromemdb.Search"
	if len(vector) != m.dimension {
		return nil, models.NewError(models.KindIndex, op,
			fmt.Errorf("%w: query has %d, want %d", models.ErrDimensionMismatch, len(vector), m.dimension))
	}

	collection, err := m.current()
	if err != nil {
		return nil, models.NewError(models.KindIndex, op, err)
	}

	// chromem rejects nResults above the collection size
	n := min(k, collection.Count())
	if n <= 0 {
		return []models.SearchHit{}, nil
	}

	results, err := collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, models.NewError(models.KindIndex, op, fmt.Errorf("failed to query by similarity: %w", err))
	}

	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, models.NewError(models.KindIndex, op, fmt.Errorf("unexpected document id %q: %w", r.ID, err))
		}
		chunk := chunkFromMetadata(id, r.Content, r.Metadata)
		hits = append(hits, models.SearchHit{ID: id, Score: r.Similarity, Chunk: chunk})
	}
	return hits, nil
}

// Clear removes every chunk. A hard clear drops and recreates the collection.
func (m *VectorDBManager) Clear(ctx context.Context, hard bool) error {
	const op = "chromemdb.Clear"
	m.mu.Lock()
	defer m.mu.Unlock()

	if hard {
		if err := m.db.DeleteCollection(m.collectionName); err != nil {
			return models.NewError(models.KindIndex, op, fmt.Errorf("failed to drop collection: %w", err))
		}
		return m.ensureLocked()
	}

	if m.collection == nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("collection %q is not initialised", m.collectionName))
	}
	if m.collection.Count() == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, map[string]string{kindKey: kindChunk}, nil); err != nil {
		return models.NewError(models.KindIndex, op, fmt.Errorf("failed to delete documents: %w", err))
	}
	return nil
}

// Count reports the number of stored chunks.
func (m *VectorDBManager) Count() int {
	c, err := m.current()
	if err != nil {
		return 0
	}
	return c.Count()
}

// Export writes the collection to path, encrypted with the configured key.
// An empty path uses <db path>/<collection>.chromem.
func (m *VectorDBManager) Export(ctx context.Context, path string) (string, error) {
	if m.encryptionKey == "" {
		return "", models.ConfigurationError("encryption key is required")
	}
	if _, err := m.current(); err != nil {
		return "", models.NewError(models.KindIndex, "chromemdb.Export", err)
	}
	if path == "" {
		path = m.filePath
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", path).
		Bool("compress", m.compress).
		Msg("Exporting collection")

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return "", models.NewError(models.KindIndex, "chromemdb.Export", fmt.Errorf("failed to export database: %w", err))
	}
	return path, nil
}

// Import loads a collection previously written by Export.
func (m *VectorDBManager) Import(ctx context.Context, path string) error {
	if m.encryptionKey == "" {
		return models.ConfigurationError("encryption key is required")
	}
	if path == "" {
		path = m.filePath
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.collectionName); err != nil {
		return models.NewError(models.KindIndex, "chromemdb.Import", fmt.Errorf("failed to import database: %w", err))
	}
	return m.ensureLocked()
}

func metadataFromChunk(c models.Chunk) map[string]string {
	md := map[string]string{
		kindKey:    kindChunk,
		"source":   c.Source,
		"title":    c.Title,
		"position": strconv.Itoa(c.Position),
	}
	if c.FilePath != "" {
		md["file_path"] = c.FilePath
	}
	if c.UploadedAt != nil {
		md["uploaded_at"] = c.UploadedAt.UTC().Format(time.RFC3339Nano)
	}
	return md
}

func chunkFromMetadata(id int, content string, md map[string]string) models.Chunk {
	c := models.Chunk{
		ID:          id,
		Source:      md["source"],
		Title:       md["title"],
		TextExcerpt: content,
		FilePath:    md["file_path"],
	}
	if pos, err := strconv.Atoi(md["position"]); err == nil {
		c.Position = pos
	}
	if ts, err := time.Parse(time.RFC3339Nano, md["uploaded_at"]); err == nil {
		c.UploadedAt = &ts
	}
	return c
}

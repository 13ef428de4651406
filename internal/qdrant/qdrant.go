package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	qc "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

const defaultGRPCPort = 6334

// client is the part of the Qdrant gRPC client the store uses.
type client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qc.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qc.UpsertPoints) (*qc.UpdateResult, error)
	Query(ctx context.Context, request *qc.QueryPoints) ([]*qc.ScoredPoint, error)
	Delete(ctx context.Context, request *qc.DeletePoints) (*qc.UpdateResult, error)
	Close() error
}

// Storage keeps chunks in a single Qdrant collection using cosine distance.
type Storage struct {
	client     client
	collection string
	dimension  int
	timeout    time.Duration
}

// NewStorage connects to the gRPC endpoint in cfg.QdrantURL. An https scheme
// enables TLS; the port defaults to 6334.
func NewStorage(cfg *config.VectorDBConfig) (*Storage, error) {
	qcfg, err := clientConfig(cfg.QdrantURL, cfg.QdrantKey)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "qdrant.NewStorage", err)
	}
	c, err := qc.NewClient(qcfg)
	if err != nil {
		return nil, models.NewError(models.KindIndex, "qdrant.NewStorage", err)
	}
	return newStorage(c, cfg), nil
}

func newStorage(c client, cfg *config.VectorDBConfig) *Storage {
	timeout := cfg.Timeout()
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Storage{
		client:     c,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		timeout:    timeout,
	}
}

func clientConfig(endpoint, apiKey string) (*qc.Config, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant_url %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid qdrant_url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("qdrant_url %q has no host", endpoint)
	}

	port := defaultGRPCPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid qdrant_url port %q", p)
		}
	}
	return &qc.Config{
		Host:                   u.Hostname(),
		Port:                   port,
		APIKey:                 apiKey,
		UseTLS:                 u.Scheme == "https",
		SkipCompatibilityCheck: true,
	}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// EnsureSchema creates the collection if it does not exist yet.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	const op = "qdrant.EnsureSchema"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return models.NewError(models.KindIndex, op, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return models.NewError(models.KindIndex, op, err)
	}
	log.Info().Str("collection", s.collection).Int("dimension", s.dimension).Msg("Created Qdrant collection")
	return nil
}

// Upsert writes all chunks in one request and waits for the write to be applied.
func (s *Storage) Upsert(ctx context.Context, chunks []models.Chunk) error {
	const op = "qdrant.Upsert"
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qc.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return models.NewError(models.KindIndex, op,
				fmt.Errorf("%w: chunk %d has %d, want %d", models.ErrDimensionMismatch, c.ID, len(c.Embedding), s.dimension))
		}
		payload, err := qc.TryValueMap(chunkPayload(c))
		if err != nil {
			return models.NewError(models.KindIndex, op, err)
		}
		points = append(points, &qc.PointStruct{
			Id:      qc.NewIDNum(uint64(c.ID)),
			Vectors: qc.NewVectorsDense(c.Embedding),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qc.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return models.NewError(models.KindIndex, op, err)
	}
	return nil
}

// Search returns up to k nearest points with their payloads, best first.
func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	const op = "qdrant.Search"
	if len(vector) != s.dimension {
		return nil, models.NewError(models.KindIndex, op,
			fmt.Errorf("%w: query has %d, want %d", models.ErrDimensionMismatch, len(vector), s.dimension))
	}
	if k <= 0 {
		return []models.SearchHit{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	points, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: s.collection,
		Query:          qc.NewQueryDense(vector),
		Limit:          qc.PtrOf(uint64(k)),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, models.NewError(models.KindIndex, op, err)
	}

	hits := make([]models.SearchHit, 0, len(points))
	for _, p := range points {
		id := int(p.GetId().GetNum())
		chunk := chunkFromPayload(p.GetPayload())
		chunk.ID = id
		hits = append(hits, models.SearchHit{ID: id, Score: p.GetScore(), Chunk: chunk})
	}
	return hits, nil
}

// Clear deletes every point. A hard clear drops and recreates the collection.
func (s *Storage) Clear(ctx context.Context, hard bool) error {
	const op = "qdrant.Clear"
	if hard {
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.client.DeleteCollection(dctx, s.collection)
		cancel()
		if err != nil {
			return models.NewError(models.KindIndex, op, err)
		}
		return s.EnsureSchema(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelectorFilter(&qc.Filter{}),
	})
	if err != nil {
		return models.NewError(models.KindIndex, op, err)
	}
	return nil
}

func chunkPayload(c models.Chunk) map[string]any {
	var uploadedAt any
	if c.UploadedAt != nil {
		uploadedAt = c.UploadedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"source":       c.Source,
		"title":        c.Title,
		"position":     c.Position,
		"text_excerpt": c.TextExcerpt,
		"uploaded_at":  uploadedAt,
		"file_path":    c.FilePath,
	}
}

func chunkFromPayload(p map[string]*qc.Value) models.Chunk {
	c := models.Chunk{
		Source:      p["source"].GetStringValue(),
		Title:       p["title"].GetStringValue(),
		Position:    int(p["position"].GetIntegerValue()),
		TextExcerpt: p["text_excerpt"].GetStringValue(),
		FilePath:    p["file_path"].GetStringValue(),
	}
	if s := p["uploaded_at"].GetStringValue(); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			c.UploadedAt = &t
		}
	}
	return c
}

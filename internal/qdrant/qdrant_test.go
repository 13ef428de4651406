package qdrant

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	qc "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// fakeClient keeps one collection in memory.
type fakeClient struct {
	mu      sync.Mutex
	exists  bool
	size    uint64
	points  map[uint64]*qc.PointStruct
	calls   []string
	waits   []bool
	failAll error
}

func (f *fakeClient) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failAll
}

func (f *fakeClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("exists " + name); err != nil {
		return false, err
	}
	return f.exists, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, req *qc.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create " + req.CollectionName); err != nil {
		return err
	}
	f.exists = true
	f.size = req.GetVectorsConfig().GetParams().GetSize()
	f.points = map[uint64]*qc.PointStruct{}
	return nil
}

func (f *fakeClient) DeleteCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("drop " + name); err != nil {
		return err
	}
	f.exists, f.points = false, nil
	return nil
}

func (f *fakeClient) Upsert(ctx context.Context, req *qc.UpsertPoints) (*qc.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("upsert " + req.CollectionName); err != nil {
		return nil, err
	}
	f.waits = append(f.waits, req.GetWait())
	for _, p := range req.Points {
		f.points[p.GetId().GetNum()] = p
	}
	return &qc.UpdateResult{}, nil
}

func (f *fakeClient) Query(ctx context.Context, req *qc.QueryPoints) ([]*qc.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("query " + req.CollectionName); err != nil {
		return nil, err
	}
	q := req.GetQuery().GetNearest().GetDense().GetData()
	var out []*qc.ScoredPoint
	for _, p := range f.points {
		var dot float32
		for i, v := range p.GetVectors().GetVector().GetData() {
			dot += v * q[i]
		}
		sp := &qc.ScoredPoint{Id: p.Id, Score: dot}
		if req.GetWithPayload().GetEnable() {
			sp.Payload = p.Payload
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit := int(req.GetLimit()); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeClient) Delete(ctx context.Context, req *qc.DeletePoints) (*qc.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete " + req.CollectionName); err != nil {
		return nil, err
	}
	f.waits = append(f.waits, req.GetWait())
	if req.GetPoints().GetFilter() != nil {
		f.points = map[uint64]*qc.PointStruct{}
	}
	return &qc.UpdateResult{}, nil
}

func (f *fakeClient) Close() error { return nil }

func newTestStorage(fake *fakeClient) *Storage {
	return newStorage(fake, &config.VectorDBConfig{
		Collection:     "test",
		Dimension:      3,
		TimeoutSeconds: 5,
	})
}

func testChunks() []models.Chunk {
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []models.Chunk{
		{ID: 0, Source: "UserInput", Title: "UserInput 0", Position: 0, TextExcerpt: "Paris is the capital of France.", Embedding: []float32{1, 0, 0}, FilePath: "/media/documents/a.txt", UploadedAt: &uploaded},
		{ID: 1, Source: "UserInput", Title: "UserInput 1", Position: 1, TextExcerpt: "Berlin is the capital of Germany.", Embedding: []float32{0, 1, 0}, FilePath: "/media/documents/a.txt"},
	}
}

func TestEnsureSchemaCreatesMissingCollection(t *testing.T) {
	fake := &fakeClient{}
	s := newTestStorage(fake)

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.True(t, fake.exists)
	assert.Equal(t, uint64(3), fake.size)
	assert.Equal(t, []string{"exists test", "create test"}, fake.calls)

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Len(t, fake.calls, 3)
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	fake := &fakeClient{}
	s := newTestStorage(fake)
	require.NoError(t, s.EnsureSchema(ctx))

	require.NoError(t, s.Upsert(ctx, testChunks()))
	assert.Equal(t, []bool{true}, fake.waits)

	hits, err := s.Search(ctx, []float32{0.9, 0.1, 0}, 15)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].ID)
	assert.Equal(t, 0, hits[0].Chunk.ID)
	assert.Equal(t, "Paris is the capital of France.", hits[0].Chunk.TextExcerpt)
	assert.Equal(t, "UserInput 0", hits[0].Chunk.Title)
	assert.Equal(t, "/media/documents/a.txt", hits[0].Chunk.FilePath)
	require.NotNil(t, hits[0].Chunk.UploadedAt)
	assert.True(t, hits[0].Chunk.UploadedAt.Equal(*testChunks()[0].UploadedAt))
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)

	assert.Equal(t, 1, hits[1].ID)
	assert.Equal(t, 1, hits[1].Chunk.Position)
	assert.Nil(t, hits[1].Chunk.UploadedAt)

	hits, err = s.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "UserInput 1", hits[0].Chunk.Title)
}

func TestSearchZeroK(t *testing.T) {
	fake := &fakeClient{}
	hits, err := newTestStorage(fake).Search(context.Background(), []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, fake.calls)
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	fake := &fakeClient{}
	s := newTestStorage(fake)
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.Upsert(ctx, testChunks()))

	require.NoError(t, s.Clear(ctx, false))
	assert.Empty(t, fake.points)
	assert.Contains(t, fake.calls, "delete test")
	assert.Equal(t, []bool{true, true}, fake.waits)

	require.NoError(t, s.Upsert(ctx, testChunks()))
	require.NoError(t, s.Clear(ctx, true))
	assert.True(t, fake.exists)
	assert.Empty(t, fake.points)
	assert.Contains(t, fake.calls, "drop test")
	assert.Equal(t, "create test", fake.calls[len(fake.calls)-1])
}

func TestClientErrorsAreIndexErrors(t *testing.T) {
	fake := &fakeClient{failAll: errors.New("rpc error: code = Unavailable")}
	s := newTestStorage(fake)
	ctx := context.Background()

	err := s.EnsureSchema(ctx)
	assert.True(t, errors.Is(err, models.ErrIndex))

	err = s.Upsert(ctx, testChunks())
	assert.True(t, errors.Is(err, models.ErrIndex))
	assert.Contains(t, err.Error(), "Unavailable")

	_, err = s.Search(ctx, []float32{1, 0, 0}, 5)
	assert.True(t, errors.Is(err, models.ErrIndex))
	assert.Equal(t, "Vector index unavailable", models.PublicMessage(err))

	err = s.Clear(ctx, true)
	assert.True(t, errors.Is(err, models.ErrIndex))
}

func TestDimensionMismatch(t *testing.T) {
	fake := &fakeClient{}
	s := newTestStorage(fake)

	err := s.Upsert(context.Background(), []models.Chunk{{ID: 0, Embedding: []float32{1}}})
	assert.True(t, errors.Is(err, models.ErrDimensionMismatch))
	_, err = s.Search(context.Background(), []float32{1, 0}, 3)
	assert.True(t, errors.Is(err, models.ErrDimensionMismatch))
	assert.Empty(t, fake.calls)
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		port     int
		tls      bool
	}{
		{"http://localhost:6334", "localhost", 6334, false},
		{"https://xyz.cloud.qdrant.io", "xyz.cloud.qdrant.io", 6334, true},
		{"qdrant:7000", "qdrant", 7000, false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg, err := clientConfig(tt.endpoint, "secret")
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Host)
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.tls, cfg.UseTLS)
			assert.Equal(t, "secret", cfg.APIKey)
			assert.True(t, cfg.SkipCompatibilityCheck)
		})
	}

	for _, bad := range []string{"ftp://qdrant:6334", "http://:6334", "http://qdrant:port"} {
		_, err := clientConfig(bad, "")
		assert.Error(t, err, bad)
	}
}

func TestNewStorageRejectsBadEndpoint(t *testing.T) {
	_, err := NewStorage(&config.VectorDBConfig{QdrantURL: "ftp://qdrant", Collection: "test", Dimension: 3})
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

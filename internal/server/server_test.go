package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

type fakePipeline struct {
	ingestText func(string) (models.IngestResult, error)
	ingestDoc  func([]byte, string) (models.IngestResult, error)
	query      func(string) (*models.QueryResponse, error)
	clear      func(bool) error
	artifact   func(string) (string, error)
}

func (f *fakePipeline) IngestText(_ context.Context, text string) (models.IngestResult, error) {
	return f.ingestText(text)
}

func (f *fakePipeline) IngestDocument(_ context.Context, data []byte, fileName string) (models.IngestResult, error) {
	return f.ingestDoc(data, fileName)
}

func (f *fakePipeline) Query(_ context.Context, query string) (*models.QueryResponse, error) {
	return f.query(query)
}

func (f *fakePipeline) Clear(_ context.Context, hard bool) error {
	return f.clear(hard)
}

func (f *fakePipeline) ArtifactPath(path string) (string, error) {
	return f.artifact(path)
}

func parisResponse() *models.QueryResponse {
	return &models.QueryResponse{
		Answer: "Paris is the capital of France [1].",
		Citations: []models.Citation{
			{ID: 1, Source: "UserInput 0", Position: 0, TextExcerpt: "Paris is the capital of France.", FilePath: "/media/documents/a.txt"},
		},
		Timing:       models.Timing{RetrieveMs: 12, GenerateMs: 340, TotalMs: 410},
		RerankerUsed: "cohere",
		Verification: models.Verification{Verified: true, Issues: []string{}},
	}
}

func newTestServer(p *fakePipeline) http.Handler {
	return New(p, &config.ServerConfig{Addr: ":0", MaxUploadMB: 1, ReadTimeoutSeconds: 5}).Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakePipeline{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestIngest(t *testing.T) {
	var got string
	h := newTestServer(&fakePipeline{ingestText: func(text string) (models.IngestResult, error) {
		got = text
		if strings.TrimSpace(text) == "" {
			return models.IngestResult{}, models.ValidationError("No text provided")
		}
		return models.IngestResult{Chunks: 1, FilePath: "/media/documents/userinput_1.txt"}, nil
	}})

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"text":"Paris is the capital of France."}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paris is the capital of France.", got)
	assert.JSONEq(t, `{"status":"indexed","chunks":1,"file_path":"/media/documents/userinput_1.txt"}`, rec.Body.String())

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing text", `{}`, "No text provided"},
		{"empty body", ``, "No text provided"},
		{"malformed", `{"text":`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec)["error"])
		})
	}
}

func multipartBody(t *testing.T, field, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestIngestFile(t *testing.T) {
	var gotName string
	var gotData []byte
	h := newTestServer(&fakePipeline{ingestDoc: func(data []byte, name string) (models.IngestResult, error) {
		gotName, gotData = name, data
		if filepath.Ext(name) == ".txt" {
			return models.IngestResult{}, models.UnsupportedFormatError(".txt")
		}
		return models.IngestResult{Chunks: 3, FilePath: "/media/documents/" + name}, nil
	}})

	body, ct := multipartBody(t, "file", "report.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest-file", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report.pdf", gotName)
	assert.Equal(t, []byte("%PDF-1.4"), gotData)
	assert.JSONEq(t, `{"status":"file indexed","chunks":3,"file_path":"/media/documents/report.pdf"}`, rec.Body.String())

	body, ct = multipartBody(t, "file", "notes.txt", []byte("hello"))
	req = httptest.NewRequest(http.MethodPost, "/api/ingest-file", body)
	req.Header.Set("Content-Type", ct)
	rec = do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported file format", decodeBody(t, rec)["error"])

	body, ct = multipartBody(t, "document", "report.pdf", []byte("%PDF-1.4"))
	req = httptest.NewRequest(http.MethodPost, "/api/ingest-file", body)
	req.Header.Set("Content-Type", ct)
	rec = do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeBody(t, rec)["error"])

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/ingest-file", strings.NewReader("plain")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeBody(t, rec)["error"])
}

func TestIngestFileTooLarge(t *testing.T) {
	called := false
	h := newTestServer(&fakePipeline{ingestDoc: func([]byte, string) (models.IngestResult, error) {
		called = true
		return models.IngestResult{}, nil
	}})

	body, ct := multipartBody(t, "file", "big.pdf", bytes.Repeat([]byte("a"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest-file", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Uploaded file is too large", decodeBody(t, rec)["error"])
	assert.False(t, called)
}

func TestQuery(t *testing.T) {
	h := newTestServer(&fakePipeline{query: func(q string) (*models.QueryResponse, error) {
		switch q {
		case "":
			return nil, models.ValidationError("No query provided")
		case "broken":
			return nil, models.NewError(models.KindEmbedding, "embedding.Embed", errors.New("connection refused: secret-host:11434"))
		}
		return parisResponse(), nil
	}})

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"What is the capital of France?"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"answer": "Paris is the capital of France [1].",
		"citations": [{"id":1,"source":"UserInput 0","position":0,"text_excerpt":"Paris is the capital of France.","file_path":"/media/documents/a.txt"}],
		"timing_ms": {"retrieve_ms":12,"generate_ms":340,"total_ms":410},
		"reranker_used": "cohere",
		"verification": {"verified":true,"issues":[]}
	}`, rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No query provided", decodeBody(t, rec)["error"])

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"broken"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Embedding service unavailable", decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "secret-host")
}

func TestDownloadFile(t *testing.T) {
	dir := t.TempDir()
	stored := filepath.Join(dir, "userinput_1.txt")
	require.NoError(t, os.WriteFile(stored, []byte("Paris is the capital of France."), 0o644))

	h := newTestServer(&fakePipeline{artifact: func(path string) (string, error) {
		if path == stored {
			return stored, nil
		}
		return "", &models.Error{Kind: models.KindNotFound, Msg: "File not found"}
	}})

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/download-file?path="+stored, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paris is the capital of France.", rec.Body.String())
	assert.Equal(t, `attachment; filename=userinput_1.txt`, rec.Header().Get("Content-Disposition"))

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/download-file?path=../../etc/passwd", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decodeBody(t, rec)["error"])
}

func TestClearIndex(t *testing.T) {
	var calls []bool
	h := newTestServer(&fakePipeline{clear: func(hard bool) error {
		calls = append(calls, hard)
		return nil
	}})

	rec := do(t, h, httptest.NewRequest(http.MethodDelete, "/api/index?hard=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cleared","hard":true}`, rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/index", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cleared","hard":false}`, rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/index?hard=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []bool{true, false}, calls)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&fakePipeline{}), httptest.NewRequest(http.MethodGet, "/api/query", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(models.ValidationError("x")))
	assert.Equal(t, http.StatusBadRequest, StatusCode(models.UnsupportedFormatError(".txt")))
	assert.Equal(t, http.StatusNotFound, StatusCode(models.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(models.NewError(models.KindIndex, "op", io.EOF)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestWebSocketQuery(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakePipeline{query: func(q string) (*models.QueryResponse, error) {
		if q == "" {
			return nil, models.ValidationError("No query provided")
		}
		return parisResponse(), nil
	}}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{Type: "query", Content: "What is the capital of France?"}))

	var status Message
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Type)

	var reply struct {
		Type    string               `json:"type"`
		Content string               `json:"content"`
		Data    models.QueryResponse `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "response", reply.Type)
	assert.Equal(t, "Paris is the capital of France [1].", reply.Content)
	assert.Equal(t, *parisResponse(), reply.Data)

	require.NoError(t, conn.WriteJSON(Message{Type: "query"}))
	require.NoError(t, conn.ReadJSON(&status))
	var failure Message
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure.Type)
	assert.Equal(t, "No query provided", failure.Content)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure.Type)
	assert.Equal(t, "Unknown message type", failure.Content)
}

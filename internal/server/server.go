package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// Pipeline is the part of the RAG pipeline exposed over HTTP.
type Pipeline interface {
	IngestText(ctx context.Context, text string) (models.IngestResult, error)
	IngestDocument(ctx context.Context, data []byte, fileName string) (models.IngestResult, error)
	Query(ctx context.Context, query string) (*models.QueryResponse, error)
	Clear(ctx context.Context, hard bool) error
	ArtifactPath(path string) (string, error)
}

type Server struct {
	pipeline    Pipeline
	addr        string
	maxUpload   int64
	readTimeout time.Duration
	upgrader    websocket.Upgrader
}

// Message is the envelope used on the /ws endpoint.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type ingestRequest struct {
	Text string `json:"text"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type ingestResponse struct {
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	FilePath string `json:"file_path"`
}

type clearResponse struct {
	Status string `json:"status"`
	Hard   bool   `json:"hard"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(pipeline Pipeline, cfg *config.ServerConfig) *Server {
	return &Server{
		pipeline:    pipeline,
		addr:        cfg.Addr,
		maxUpload:   int64(cfg.MaxUploadMB) << 20,
		readTimeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the API routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/ingest-file", s.handleIngestFile)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/download-file", s.handleDownload)
	mux.HandleFunc("DELETE /api/index", s.handleClear)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.pipeline.IngestText(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "indexed", Chunks: res.Chunks, FilePath: res.FilePath})
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, models.ValidationError("Uploaded file is too large"))
			return
		}
		writeError(w, r, models.ValidationError("No file uploaded"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, models.ValidationError("No file uploaded"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, models.ValidationError("No file uploaded"))
		return
	}

	res, err := s.pipeline.IngestDocument(r.Context(), data, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "file indexed", Chunks: res.Chunks, FilePath: res.FilePath})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.pipeline.Query(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.pipeline.ArtifactPath(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	http.ServeFile(w, r, path)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	hard := false
	if v := r.URL.Query().Get("hard"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, models.ValidationError("Invalid value for hard"))
			return
		}
		hard = b
	}
	if err := s.pipeline.Clear(r.Context(), hard); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Status: "cleared", Hard: hard})
}

// handleWebSocket answers {"type":"query"} messages one at a time on the
// connection. Each query gets a "status" message, then a "response" carrying
// the QueryResponse or an "error".
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Closing WebSocket")
			}
			return
		}

		var reply Message
		switch msg.Type {
		case "query":
			if err := conn.WriteJSON(Message{Type: "status", Content: "Processing query"}); err != nil {
				return
			}
			resp, err := s.pipeline.Query(r.Context(), msg.Content)
			if err != nil {
				log.Error().Err(err).Msg("WebSocket query failed")
				reply = Message{Type: "error", Content: models.PublicMessage(err)}
			} else {
				reply = Message{Type: "response", Content: resp.Answer, Data: resp}
			}
		default:
			reply = Message{Type: "error", Content: "Unknown message type"}
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("Error sending WebSocket message")
			return
		}
	}
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation, models.KindUnsupportedFormat:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return models.ValidationError("Invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error writing response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	writeJSON(w, status, errorResponse{Error: models.PublicMessage(err)})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("Handled request")
	})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annidx/annidx/blobstore"
	"github.com/annidx/annidx/embedding"
)

func newTestServer(t *testing.T, mutate ...func(cfg *Config, o *Options)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Index.Dimension = 4
	cfg.Index.Metric = "l2"
	cfg.Index.MaxElements = 128

	opts := Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Blobs:  blobstore.NewMemoryStore(),
	}
	for _, fn := range mutate {
		fn(&cfg, &opts)
	}

	srv, err := New(context.Background(), cfg, func(o *Options) { *o = opts })
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func addVector(t *testing.T, h http.Handler, id uint64, vector []float32) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/vectors", addVectorRequest{ID: id, Vector: vector})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestServer_AddAndSearch(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	addVector(t, h, 1, []float32{1, 0, 0, 0})
	addVector(t, h, 2, []float32{0, 1, 0, 0})

	rec := doJSON(t, h, http.MethodPost, "/search", searchRequest{Vector: []float32{0.9, 0, 0, 0}, K: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, uint64(1), resp.Results[0].ID)
}

func TestServer_AddValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	t.Run("DimensionMismatch", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/vectors", addVectorRequest{ID: 1, Vector: []float32{1, 2}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		addVector(t, h, 7, []float32{1, 0, 0, 0})
		rec := doJSON(t, h, http.MethodPost, "/vectors", addVectorRequest{ID: 7, Vector: []float32{0, 1, 0, 0}})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/vectors", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_SearchValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	t.Run("MissingQuery", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/search", searchRequest{K: 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidK", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/search", searchRequest{Vector: []float32{1, 0, 0, 0}, K: 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("VectorAndText", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/search", searchRequest{Vector: []float32{1, 0, 0, 0}, Text: "x", K: 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Delete(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	addVector(t, h, 1, []float32{1, 0, 0, 0})

	rec := doJSON(t, h, http.MethodDelete, "/vectors/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/vectors/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/vectors/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SnapshotAndRestore(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	srv := newTestServer(t, func(cfg *Config, o *Options) {
		o.Blobs = blobs
	})
	h := srv.Handler()

	addVector(t, h, 1, []float32{1, 0, 0, 0})
	addVector(t, h, 2, []float32{0, 1, 0, 0})

	rec := doJSON(t, h, http.MethodPost, "/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "vector_index.bin", snap.Name)
	assert.Greater(t, snap.Size, int64(0))

	// A second server restores the snapshot from the shared store.
	srv2 := newTestServer(t, func(cfg *Config, o *Options) {
		o.Blobs = blobs
	})
	h2 := srv2.Handler()

	rec = doJSON(t, h2, http.MethodPost, "/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h2, http.MethodPost, "/search", searchRequest{Vector: []float32{1, 0, 0, 0}, K: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, uint64(1), resp.Results[0].ID)
}

func TestServer_RestoreMissingSnapshot(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/restore", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TextEndpoints(t *testing.T) {
	embedder := embedding.Func(func(ctx context.Context, text string) ([]float32, error) {
		v := make([]float32, 4)
		for i, r := range text {
			v[i%4] += float32(r) / 1000
		}
		return v, nil
	})

	srv := newTestServer(t, func(cfg *Config, o *Options) {
		o.Embedder = embedder
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/vectors/text", addTextRequest{ID: 1, Text: "alpha"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/search", searchRequest{Text: "alpha", K: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, uint64(1), resp.Results[0].ID)
}

func TestServer_TextEndpointsWithoutEmbedder(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/vectors/text", addTextRequest{ID: 1, Text: "alpha"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_StatsAndHealth(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	addVector(t, h, 1, []float32{1, 0, 0, 0})

	rec := doJSON(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 4, stats["Dimension"])
	assert.EqualValues(t, 1, stats["Count"])

	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	addVector(t, h, 1, []float32{1, 0, 0, 0})

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "annidx_http_requests_total")
	assert.Contains(t, body, "annidx_index_operations_total")
}

func TestServer_RequestID(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "my-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "my-id", rec.Header().Get("X-Request-ID"))
}

func TestServer_RateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config, o *Options) {
		cfg.Limits.RequestsPerSec = 1
		cfg.Limits.RequestBurst = 2
	})
	h := srv.Handler()

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(cfg *Config) {}},
		{name: "zero dimension", mutate: func(cfg *Config) { cfg.Index.Dimension = 0 }, wantErr: true},
		{name: "unknown backend", mutate: func(cfg *Config) { cfg.Snapshot.Backend = "ftp" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(cfg *Config) { cfg.Snapshot.Backend = "s3" }, wantErr: true},
		{name: "s3 with bucket", mutate: func(cfg *Config) {
			cfg.Snapshot.Backend = "s3"
			cfg.Snapshot.Bucket = "b"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	content := `
addr: ":9999"
index:
  dimension: 128
  metric: l2
  m: 32
snapshot:
  backend: local
  dir: /tmp/snapshots
limits:
  requests_per_sec: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 128, cfg.Index.Dimension)
	assert.Equal(t, "l2", cfg.Index.Metric)
	assert.Equal(t, 32, cfg.Index.M)
	assert.Equal(t, "/tmp/snapshots", cfg.Snapshot.Dir)
	assert.Equal(t, float64(100), cfg.Limits.RequestsPerSec)

	// defaults still apply for absent fields
	assert.Equal(t, "vector_index.bin", cfg.Snapshot.Name)

	_, err = LoadConfig(dir + "/missing.yaml")
	assert.Error(t, err)
}

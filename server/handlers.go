package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	annidx "github.com/annidx/annidx"
	"github.com/annidx/annidx/index"
	"github.com/annidx/annidx/resource"
)

type addVectorRequest struct {
	ID     uint64    `json:"id"`
	Vector []float32 `json:"vector"`
}

type addTextRequest struct {
	ID   uint64 `json:"id"`
	Text string `json:"text"`
}

type searchRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
	K      int       `json:"k"`
	EF     int       `json:"ef,omitempty"`
}

type searchHit struct {
	ID       uint64  `json:"id"`
	Distance float32 `json:"distance"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

type snapshotResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeIndexError maps index errors onto HTTP status codes.
func writeIndexError(w http.ResponseWriter, err error) {
	var dm *annidx.ErrDimensionMismatch
	switch {
	case errors.As(err, &dm), errors.Is(err, annidx.ErrInvalidK):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, annidx.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, annidx.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, annidx.ErrCapacityExceeded):
		writeError(w, http.StatusInsufficientStorage, err.Error())
	case errors.Is(err, annidx.ErrNoEmbedder), errors.Is(err, annidx.ErrEmbeddingFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, annidx.ErrCorruptSnapshot):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAddVector(w http.ResponseWriter, r *http.Request) {
	var req addVectorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.limits.AcquireWrite(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "write slot unavailable")
		return
	}
	defer s.limits.ReleaseWrite()

	if err := s.idx.Add(ctx, req.ID, req.Vector); err != nil {
		writeIndexError(w, err)
		return
	}
	s.updateGauges()
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": req.ID})
}

func (s *Server) handleAddText(w http.ResponseWriter, r *http.Request) {
	var req addTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	ctx := r.Context()
	if err := s.limits.AcquireWrite(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "write slot unavailable")
		return
	}
	defer s.limits.ReleaseWrite()

	if err := s.idx.AddText(ctx, req.ID, req.Text); err != nil {
		writeIndexError(w, err)
		return
	}
	s.updateGauges()
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": req.ID})
}

func (s *Server) handleDeleteVector(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	ctx := r.Context()
	if err := s.limits.AcquireWrite(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "write slot unavailable")
		return
	}
	defer s.limits.ReleaseWrite()

	if err := s.idx.Delete(ctx, id); err != nil {
		writeIndexError(w, err)
		return
	}
	s.updateGauges()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.K <= 0 {
		writeError(w, http.StatusBadRequest, "k must be positive")
		return
	}
	if len(req.Vector) == 0 && req.Text == "" {
		writeError(w, http.StatusBadRequest, "either vector or text is required")
		return
	}
	if len(req.Vector) > 0 && req.Text != "" {
		writeError(w, http.StatusBadRequest, "vector and text are mutually exclusive")
		return
	}

	ctx := r.Context()
	if err := s.limits.AcquireSearch(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "search slot unavailable")
		return
	}
	defer s.limits.ReleaseSearch()

	var searchOpts *index.SearchOptions
	if req.EF > 0 {
		searchOpts = &index.SearchOptions{EFSearch: req.EF}
	}

	var (
		results []index.SearchResult
		err     error
	)
	if req.Text != "" {
		results, err = s.idx.SearchText(ctx, req.Text, req.K, searchOpts)
	} else {
		results, err = s.idx.Search(ctx, req.Vector, req.K, searchOpts)
	}
	if err != nil {
		writeIndexError(w, err)
		return
	}

	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{ID: res.ID, Distance: res.Distance}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: hits})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.limits.AcquireWrite(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "write slot unavailable")
		return
	}
	defer s.limits.ReleaseWrite()

	var buf bytes.Buffer
	if err := s.idx.SaveTo(ctx, &buf); err != nil {
		writeIndexError(w, err)
		return
	}
	size := int64(buf.Len())

	name := s.cfg.Snapshot.Name
	reader := resource.NewThrottledReader(ctx, &buf, s.limits)
	if err := s.blobs.Put(ctx, name, reader); err != nil {
		s.logger.Error("snapshot upload failed", slog.String("name", name), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "snapshot upload failed")
		return
	}

	s.logger.Info("snapshot saved", slog.String("name", name), slog.Int64("size", size))
	writeJSON(w, http.StatusOK, snapshotResponse{Name: name, Size: size})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.limits.AcquireWrite(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "write slot unavailable")
		return
	}
	defer s.limits.ReleaseWrite()

	name := s.cfg.Snapshot.Name
	rc, err := s.blobs.Open(ctx, name)
	if err != nil {
		s.logger.Error("snapshot open failed", slog.String("name", name), slog.Any("error", err))
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	defer rc.Close()

	reader := resource.NewThrottledReader(ctx, rc, s.limits)
	if err := s.idx.LoadFrom(ctx, reader); err != nil {
		writeIndexError(w, err)
		return
	}
	s.updateGauges()

	s.logger.Info("snapshot restored", slog.String("name", name))
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.idx.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

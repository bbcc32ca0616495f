package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/folletto95/3d-Site/internal/gcode"
	"github.com/folletto95/3d-Site/internal/inventory"
	"github.com/folletto95/3d-Site/internal/mesh"
	"github.com/folletto95/3d-Site/internal/profiles"
	"github.com/folletto95/3d-Site/internal/slicer"
	"github.com/folletto95/3d-Site/internal/spoolman"
	"github.com/folletto95/3d-Site/internal/uploads"
)

const maxUploadBytes = 256 << 20

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleSpools(w http.ResponseWriter, r *http.Request) {
	spools, err := s.fetchNormalizedSpools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeNoCacheJSON(w, http.StatusOK, map[string]any{
		"items":       spools,
		"hourly_rate": s.cfg.HourlyRate,
		"currency":    s.cfg.Currency,
	})
}

func (s *server) handleInventory(w http.ResponseWriter, r *http.Request) {
	spools, err := s.fetchNormalizedSpools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	items := inventory.Aggregate(spools, s.cfg.Currency)
	writeNoCacheJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"hourly_rate": s.cfg.HourlyRate,
		"currency":    s.cfg.Currency,
	})
}

// fetchNormalizedSpools runs the full inventory normalization path and
// flushes any newly learned color names. Cache write failures are logged
// only; the cache is a pure optimization.
func (s *server) fetchNormalizedSpools(ctx context.Context) ([]spoolman.Spool, error) {
	raw, err := s.spools.FetchSpools(ctx)
	if err != nil {
		return nil, err
	}

	spools := make([]spoolman.Spool, 0, len(raw))
	for _, record := range raw {
		spools = append(spools, s.normalizer.Normalize(ctx, record))
	}

	if err := s.colorCache.FlushIfDirty(); err != nil {
		log.Printf("warning: failed to persist color name cache: %v", err)
	}
	return spools, nil
}

func (s *server) handleUploadModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "missing model file")
		return
	}
	defer file.Close()

	saved, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}

	writeNoCacheJSON(w, http.StatusOK, map[string]any{
		"viewer_url": "/files/" + saved.RelPath,
		"filename":   saved.Filename,
		"analysis":   modelAnalysis(saved.Path),
	})
}

func (s *server) handleFetchModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.URL == "" {
		writeErrorMessage(w, http.StatusBadRequest, "missing model URL")
		return
	}

	saved, err := s.uploads.FetchRemote(r.Context(), payload.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeNoCacheJSON(w, http.StatusOK, map[string]any{
		"viewer_url": "/files/" + saved.RelPath,
		"filename":   saved.Filename,
		"analysis":   modelAnalysis(saved.Path),
	})
}

// modelAnalysis measures the stored model. Analysis failures are reported
// inside the payload, never as an HTTP error: a model the analyzer cannot
// read may still slice fine.
func modelAnalysis(path string) any {
	a, err := mesh.Analyze(path)
	if err != nil {
		return map[string]string{"error": fmt.Sprintf("model analysis failed: %v", err)}
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("warning: failed to encode response: %v", err)
	}
}

// writeNoCacheJSON disables caching: the underlying inventory and upload
// state change outside this process.
func writeNoCacheJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	writeJSON(w, status, v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusForError(err), err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusError carries an explicit HTTP status for request-shape problems
// that have no sentinel in the pipeline taxonomy.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// statusForError maps the pipeline error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	switch {
	case errors.Is(err, uploads.ErrUnsupportedExtension),
		errors.Is(err, profiles.ErrPresetRequired),
		errors.Is(err, profiles.ErrProfileNotFound):
		return http.StatusBadRequest
	case errors.Is(err, gcode.ErrMetricsUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, spoolman.ErrUpstreamUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, slicer.ErrSlicerTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

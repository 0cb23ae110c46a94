// Package server exposes ranked articles, curation flags and ingestion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/digest"
	"github.com/TobiSchelling/meddash/internal/metrics"
	"github.com/TobiSchelling/meddash/internal/pipeline"
)

const (
	defaultLimit = 50
	maxLimit     = 200
	maxBodyBytes = 1 << 20
)

var digestPage = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>meddash digest</title></head>
<body>
{{.}}
</body>
</html>
`))

// Options wires optional collaborators.
type Options struct {
	// Source backs POST /api/ingest; nil disables the endpoint.
	Source  pipeline.Source
	Metrics *metrics.Metrics
	Digest  digest.Options
	Logger  *zap.Logger
}

// Server is the HTTP API of the dashboard.
type Server struct {
	db      *database.DB
	coord   *pipeline.Coordinator
	digests *digest.Builder
	opts    Options
	logger  *zap.Logger
	mux     *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, coord *pipeline.Coordinator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		db:      db,
		coord:   coord,
		digests: digest.NewBuilder(db),
		opts:    opts,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/articles", s.handleListArticles)
	s.mux.HandleFunc("GET /api/articles/{external_id}", s.handleGetArticle)
	s.mux.HandleFunc("POST /api/articles/{external_id}/flags", s.handleSetFlag)
	s.mux.HandleFunc("POST /api/articles/{external_id}/reclassify", s.handleReclassify)
	s.mux.HandleFunc("GET /api/feed", s.handleFeed)
	s.mux.HandleFunc("POST /api/studies", s.handleSubmitStudy)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /api/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /api/runs/{run_id}", s.handleGetRun)
	s.mux.HandleFunc("GET /digest", s.handleDigest)
	s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.internalError(w, "loading stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := s.db.RecentRuns(limit)
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.PathValue("run_id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.internalError(w, "loading run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	opts := s.opts.Digest
	var err error
	if opts.Days, err = intParam(r, "days", opts.Days); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if opts.TopN, err = intParam(r, "top", opts.TopN); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.digests.Build(opts)
	if err != nil {
		s.internalError(w, "building digest", err)
		return
	}
	text := d.Markdown()
	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, text)
		return
	}
	html, err := digest.RenderHTML(text)
	if err != nil {
		s.internalError(w, "rendering digest", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := digestPage.Execute(w, template.HTML(html)); err != nil { //nolint: gosec
		s.logger.Error("writing digest page", zap.Error(err))
	}
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// Package api exposes the HTTP interface for the themewatch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/crawl"
	"github.com/themewatch/themewatch/internal/metrics"
	"github.com/themewatch/themewatch/internal/stats"
	"github.com/themewatch/themewatch/internal/themes"
)

// Pagination headers on list responses.
const (
	headerCurrentPage = "X-CURRENT-PAGE"
	headerPerPage     = "X-PER-PAGE"
	headerTotalCount  = "X-TOTAL-COUNT"
)

// Server wires HTTP handlers to the store, the stats service and the
// scheduler.
type Server struct {
	router    chi.Router
	store     themes.Store
	stats     *stats.Service
	scheduler *crawl.Scheduler
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store themes.Store,
	statsSvc *stats.Service,
	scheduler *crawl.Scheduler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		stats:     statsSvc,
		scheduler: scheduler,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/themes", func(r chi.Router) {
			r.Get("/", s.listThemes)
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", s.getTheme)
				r.Get("/snapshots", s.getThemeSnapshots)
			})
		})
		r.Get("/tags", s.listTags)
		r.Route("/stats", func(r chi.Router) {
			r.Get("/current", s.statsCurrent)
			r.Get("/diversity", s.statsDiversity)
			r.Get("/rating", s.statsRating)
		})
		r.Route("/crawls/{kind}", func(r chi.Router) {
			r.Get("/", s.getCrawlState)
			r.Post("/", s.startCrawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency of the read side.
	if _, _, err := s.store.CrawlState(r.Context(), themes.CrawlInfo); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listThemes(w http.ResponseWriter, r *http.Request) {
	filter := themes.ThemeFilter{
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
		Name:    r.URL.Query().Get("name"),
		Tag:     r.URL.Query().Get("tag"),
	}
	page, err := s.store.ListThemes(r.Context(), filter)
	if err != nil {
		s.logger.Error("list themes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list themes")
		return
	}

	w.Header().Set(headerCurrentPage, strconv.Itoa(page.Page))
	w.Header().Set(headerPerPage, strconv.Itoa(page.PerPage))
	w.Header().Set(headerTotalCount, strconv.Itoa(page.Total))

	out := make([]themeResponse, 0, len(page.Themes))
	for i := range page.Themes {
		out = append(out, toThemeResponse(&page.Themes[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTheme(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	theme, err := s.store.ThemeBySlug(r.Context(), slug)
	if errors.Is(err, themes.ErrNotFound) {
		writeError(w, http.StatusNotFound, "theme not found")
		return
	}
	if err != nil {
		s.logger.Error("get theme failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load theme")
		return
	}
	writeJSON(w, http.StatusOK, toThemeResponse(theme))
}

func (s *Server) getThemeSnapshots(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := s.store.ThemeBySlug(r.Context(), slug); err != nil {
		if errors.Is(err, themes.ErrNotFound) {
			writeError(w, http.StatusNotFound, "theme not found")
			return
		}
		s.logger.Error("get theme failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load theme")
		return
	}
	snaps, err := s.store.SnapshotsByTheme(r.Context(), slug)
	if err != nil {
		s.logger.Error("get snapshots failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for i := range snaps {
		out = append(out, toSnapshotResponse(&snaps[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.logger.Error("list tags failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	out := make([]tagResponse, 0, len(tags))
	for i := range tags {
		out = append(out, toTagResponse(&tags[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// excludedAuthors parses the excluded_authors CSV query parameter.
func excludedAuthors(r *http.Request) []string {
	raw := r.URL.Query().Get("excluded_authors")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) statsCurrent(w http.ResponseWriter, r *http.Request) {
	totals, err := s.stats.Current(r.Context(), excludedAuthors(r))
	if err != nil {
		s.logger.Error("current stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) statsDiversity(w http.ResponseWriter, r *http.Request) {
	score, err := s.stats.AuthorDiversity(r.Context(), excludedAuthors(r))
	if err != nil {
		s.logger.Error("diversity stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) statsRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.stats.AverageRating(r.Context(), excludedAuthors(r))
	if err != nil {
		s.logger.Error("rating stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) getCrawlState(w http.ResponseWriter, r *http.Request) {
	kind, err := themes.ParseCrawlKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, found, err := s.store.CrawlState(r.Context(), kind)
	if err != nil {
		s.logger.Error("get crawl state failed", zap.String("kind", string(kind)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl state")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "crawl has never run")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	kind, err := themes.ParseCrawlKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	started, err := s.scheduler.MaybeStart(r.Context(), kind)
	if err != nil {
		s.logger.Error("start crawl failed", zap.String("kind", string(kind)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}
	status := http.StatusAccepted
	if !started {
		// Cooldown still running or a run is already in flight.
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"kind": kind, "started": started})
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // headers already sent
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

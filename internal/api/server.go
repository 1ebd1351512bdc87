// Package api exposes the read-only HTTP interface over the directory store:
// session status for dashboards and the category/agency tables for consumers
// that want the data without touching the database file.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  crawler.Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. registry may be
// nil when no metrics sink is wired; /metrics then serves the default
// gatherer.
func NewServer(store crawler.Store, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	if registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/categories", s.listCategories)
		r.Get("/agencies", s.listAgencies)
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

type sessionResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	CategoriesTotal   int        `json:"categories_total"`
	CategoriesScraped int        `json:"categories_scraped"`
	AgenciesTotal     int        `json:"agencies_total"`
	AgenciesScraped   int        `json:"agencies_scraped"`
	DetailsTotal      int        `json:"details_total"`
	DetailsScraped    int        `json:"details_scraped"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.LatestSession(r.Context())
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no scraping session recorded")
			return
		}
		s.logger.Error("latest session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:                sess.ID,
		Status:            string(sess.Status),
		StartedAt:         sess.StartedAt,
		EndedAt:           sess.EndedAt,
		CategoriesTotal:   sess.CategoriesTotal,
		CategoriesScraped: sess.CategoriesScraped,
		AgenciesTotal:     sess.AgenciesTotal,
		AgenciesScraped:   sess.AgenciesScraped,
		DetailsTotal:      sess.DetailsTotal,
		DetailsScraped:    sess.DetailsScraped,
	})
}

type categoryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	AgencyCount int       `json:"agency_count"`
	Scraped     bool      `json:"scraped"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{
			ID:          c.ID,
			Name:        c.Name,
			Link:        c.Link,
			AgencyCount: c.AgencyCount,
			Scraped:     c.Scraped,
			LastUpdated: c.LastUpdated,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

type agencyResponse struct {
	ID            int64     `json:"id"`
	Category      string    `json:"category"`
	Name          string    `json:"name"`
	SiteURL       string    `json:"site_url,omitempty"`
	LogoURL       string    `json:"logo_url,omitempty"`
	LocalLogoPath string    `json:"local_logo_path,omitempty"`
	Description   string    `json:"description,omitempty"`
	DetailURL     string    `json:"detail_url,omitempty"`
	DetailDesc    string    `json:"detail_desc,omitempty"`
	DetailScraped bool      `json:"detail_scraped"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (s *Server) listAgencies(w http.ResponseWriter, r *http.Request) {
	var agencies []crawler.Agency
	var err error
	if r.URL.Query().Get("missing_detail") == "true" {
		agencies, err = s.store.AgenciesMissingDetail(r.Context())
	} else {
		agencies, err = s.store.ListAgencies(r.Context())
	}
	if err != nil {
		s.logger.Error("list agencies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	out := make([]agencyResponse, 0, len(agencies))
	for _, a := range agencies {
		if category != "" && !strings.EqualFold(a.CategoryName, category) {
			continue
		}
		out = append(out, agencyResponse{
			ID:            a.ID,
			Category:      a.CategoryName,
			Name:          a.Name,
			SiteURL:       a.SiteURL,
			LogoURL:       a.LogoURL,
			LocalLogoPath: a.LocalLogoPath,
			Description:   a.Description,
			DetailURL:     a.DetailURL,
			DetailDesc:    a.DetailDesc,
			DetailScraped: a.DetailScraped,
			LastUpdated:   a.LastUpdated,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agencies": out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chriskillpack/imgsum"
	"github.com/chriskillpack/imgsum/describer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes stored page images to the indexing stage.
type Server struct {
	hs     *http.Server
	d      describer.Describer
	db     *imgsum.DB
	logger *zap.Logger
}

func NewServer(d describer.Describer, db *imgsum.DB, reg *prometheus.Registry, addr string, logger *zap.Logger) *Server {
	srv := &Server{
		d:      d,
		db:     db,
		logger: logger,
	}

	srv.hs = &http.Server{
		Addr:              addr,
		Handler:           srv.serveHandler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

func (s *Server) serveHandler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.serveHealth())
	r.Get("/pages/{id}/images", s.servePageImages())
	r.Get("/images/{title}", s.serveImage())
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) serveHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := s.db.Ping(req.Context()); err != nil {
			s.logger.Warn("database unreachable", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		// Serving works without a vision backend, check it only when configured
		if s.d != nil && !s.d.IsHealthy(req.Context()) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	}
}

func (s *Server) servePageImages() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")

		images, err := s.db.PageImages(req.Context(), id)
		if err != nil {
			s.logger.Error("listing page images", zap.String("page_id", id), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		type imageResult struct {
			imgsum.PageImage
			Describer   string    `json:"describer"`
			ProcessedAt time.Time `json:"processed_at"`
		}
		results := struct {
			PageID string        `json:"page_id"`
			Images []imageResult `json:"images"`
		}{PageID: id, Images: make([]imageResult, 0, len(images))}
		for _, img := range images {
			results.Images = append(results.Images, imageResult{
				PageImage:   img.PageImage,
				Describer:   img.Describer,
				ProcessedAt: img.ProcessedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func (s *Server) serveImage() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		title := chi.URLParam(req, "title")

		img, err := s.db.Image(req.Context(), title)
		if errors.Is(err, imgsum.ErrNotFound) {
			http.NotFound(w, req)
			return
		}
		if err != nil {
			s.logger.Error("looking up image", zap.String("title", title), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		data, err := base64.StdEncoding.DecodeString(img.Base64Encoded)
		if err != nil {
			s.logger.Error("decoding stored image", zap.String("title", title), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// serve runs the server until ctx is done.
func (a *app) serve(ctx context.Context, addr string) error {
	srv := NewServer(a.describr, a.db, a.registry, addr, a.logger)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving", zap.String("addr", addr))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

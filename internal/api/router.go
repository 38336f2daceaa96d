// Package api exposes the chat handler over HTTP, so any chat frontend (or curl) can submit messages and receive
// videos.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/internal/bot"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

type Server struct {
	handler *bot.Handler
	session *session.Session
	log     *zap.SugaredLogger
}

type Option func(*Server)

// WithSession enables the request listing endpoints.
func WithSession(s *session.Session) Option {
	return func(srv *Server) {
		srv.session = s
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(srv *Server) {
		srv.log = logger
	}
}

func New(handler *bot.Handler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		log:     zap.S().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.postMessage)
		if s.session != nil {
			r.Get("/requests", s.listRequests)
			r.Get("/requests/{requestID}", s.getRequest)
			r.Get("/history", s.listHistory)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"size", ww.BytesWritten(),
			"duration", time.Since(start),
			"http_request_id", middleware.GetReqID(r.Context()),
		)
	})
}

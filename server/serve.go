// Package server is the local API the desktop front end talks to: JSON
// endpoints over the schedule, the accounts and the worker pool, and
// websocket streams of worker events and logs.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

type Server struct {
	app    *app.App
	tokens *tokenStore
	logger *log.Entry
	// workers started over the api live as long as this
	ctx context.Context
}

func New(a *app.App) *Server {
	return &Server{
		app:    a,
		tokens: newTokenStore(DefaultTokenExpiry),
		logger: log.WithField("component", "server"),
		ctx:    context.Background(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.app.Config.Server.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})
	r.Use(c.Handler)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.app.Pool.Metrics().Handler())
	r.Post("/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.ensureLoggedIn)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Put("/current", s.useAccount)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Use(s.withSchedule)
			r.Get("/term", s.getTerm)
			r.Put("/term", s.setTerm)
			r.Get("/week", s.getWeek)
			r.Get("/week/{week}", s.getWeek)
			r.Get("/exams", s.getExams)
			r.Get("/groups", s.getGroups)
			r.Get("/export.ics", s.exportICS)
			r.Get("/export.xlsx", s.exportXLSX)
			r.Route("/lessons/{lessonID}", func(r chi.Router) {
				r.Use(lessonID)
				r.Patch("/", s.editLesson)
				r.Delete("/", s.deleteLesson)
				r.Put("/weeks", s.setWeeks)
				r.Put("/status", s.setStatus)
			})
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.listWorkers)
			r.Post("/", s.startWorker)
			r.Get("/events", s.workerEvents)
			r.Route("/{workerID}", func(r chi.Router) {
				r.Delete("/", s.stopWorker)
				r.Post("/answer", s.answerWorker)
			})
		})

		r.Get("/logs", s.logStream)
		r.Get("/notification", s.getNotification)
		r.Delete("/notification", s.dismissNotification)
	})

	return r
}

// ListenAndServe serves until ctx ends, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              s.app.Config.Server.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	s.logger.WithField("addr", srv.Addr).Info("serving the local api")
	if s.app.Config.Server.TokenHash == "" {
		s.logger.Warn("server.token_hash is empty, every request is let in")
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs each request through logrus the way middleware.Logger
// does through the standard logger.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.WithFields(log.Fields{
					"method":  r.Method,
					"path":    r.URL.Path,
					"status":  ww.Status(),
					"took":    time.Since(start),
					"request": middleware.GetReqID(r.Context()),
					"bytes":   ww.BytesWritten(),
				}).Debug("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

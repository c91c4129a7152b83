// Package server собирает HTTP API кассы: маршруты фич под /api,
// общие middleware и жизненный цикл http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/server/middleware"
	"serotonyl.ru/valuecard/internal/server/respond"
)

// Routable — обработчик фичи, который умеет зарегистрировать свои маршруты.
type Routable interface {
	Routes(r chi.Router)
}

// Options — параметры HTTP-сервера.
type Options struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server — HTTP API кассы.
type Server struct {
	http    *http.Server
	limiter *middleware.RateLimiter
}

// New создаёт сервер и регистрирует маршруты всех фич под /api.
func New(opts Options, features ...Routable) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	return &Server{
		http: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewRouter(limiter, features...),
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		limiter: limiter,
	}
}

// NewRouter собирает chi-роутер: /healthz снаружи лимита, API — под /api.
func NewRouter(limiter *middleware.RateLimiter, features ...Routable) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if limiter != nil {
			api.Use(limiter.Handler)
		}
		for _, f := range features {
			f.Routes(api)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respond.Fail(w, http.StatusNotFound, "NOT_FOUND", "маршрут не найден")
	})
	return r
}

// Handler отдаёт корневой обработчик (для тестов).
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start слушает адрес до вызова Shutdown. Блокирует.
func (s *Server) Start() error {
	log.WithField("addr", s.http.Addr).Info("HTTP API запущен")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	}
	return nil
}

// Shutdown дожидается текущих запросов (не дольше ctx) и останавливает лимитер.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP-сервера: %w", err)
	}
	log.Info("HTTP API остановлен")
	return nil
}

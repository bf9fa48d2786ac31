// Package api assembles the chi router the daemon serves: task submission
// and retrieval, admin/ops endpoints, the websocket event stream, and the
// Prometheus exposition endpoint, all sitting in front of a single
// scheduler.Scheduler instance.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clusterd/scheduler/internal/api/handlers"
	apimiddleware "github.com/clusterd/scheduler/internal/api/middleware"
	"github.com/clusterd/scheduler/internal/api/websocket"
	"github.com/clusterd/scheduler/internal/config"
	"github.com/clusterd/scheduler/internal/events"
	"github.com/clusterd/scheduler/internal/scheduler"
)

// Server represents the HTTP server fronting a Scheduler.
type Server struct {
	router       *chi.Mux
	sched        *scheduler.Scheduler
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
}

// NewServer creates a new HTTP server in front of sched. wsHub is exposed
// via Hub() so the caller (cmd/clusterd) can install it as the scheduler's
// event sink, which broadcasts onto it at each lifecycle transition. With events.redisenabled set, the hub
// additionally fans in lifecycle events published by other daemon
// instances over Redis Pub/Sub; without it the hub is purely in-process.
func NewServer(cfg *config.Config, sched *scheduler.Scheduler) *Server {
	var publisher *events.RedisPubSub
	if cfg.Events.RedisEnabled {
		publisher = events.NewRedisPubSub(redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr}))
	}
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		sched:        sched,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(sched),
		adminHandler: handlers.NewAdminHandler(sched),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(apimiddleware.RequestLogger())
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := &apimiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.config.Auth.APIKeys),
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Use(apimiddleware.Auth(authCfg))
		r.Use(apimiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{ident}", s.taskHandler.Get)
			r.Get("/{ident}/wait", s.taskHandler.Wait)
			r.Delete("/{ident}", s.taskHandler.Kill)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/pool", s.adminHandler.PoolStatus)
		r.Get("/commands", s.adminHandler.Commands)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the websocket hub, for cmd/clusterd to install as the
// scheduler's event sink (Scheduler.SetEventSink).
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

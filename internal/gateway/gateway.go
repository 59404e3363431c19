// Package gateway exposes the engine's control surface — project and task
// CRUD, plan approval, manual merge/cancel/retry, and live log/narration
// streaming — over a REST+WebSocket HTTP API (spec §4.10). Grounded on the
// teacher's internal/web.Server: a chi.Router wrapped in an options-configured
// struct with the same middleware stack (request id, real ip, structured
// logging, panic recovery) and CORS handling, generalized from mounting a
// single internal/api.Server to mounting this package's own REST and
// WebSocket route groups against the Scheduler and Store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

// TaskController is the subset of *scheduler.Scheduler the Gateway drives.
// Declared narrowly here (rather than depending on the scheduler package's
// concrete type) so the Gateway can be tested against a stub.
type TaskController interface {
	ProjectTasks(ctx context.Context, projectID core.ProjectID) (*store.TaskStore, error)
	CreateTask(ctx context.Context, projectID core.ProjectID, description string, priority int, planMode bool, dependsOn core.TaskID) (*core.Task, error)
	ApprovePlan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, answers map[string]string) (*core.Task, error)
	RejectPlan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, feedback string) (*core.Task, error)
	Chat(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, message string) error
	Cancel(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error
	Merge(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, squash bool) error
	Retry(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error
	Workers() []*core.Worker
	HandleCallback(ctx context.Context, workerID core.WorkerID, taskID core.TaskID, status, branch, commit, reason string) error
}

// Server is the Gateway's HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        Config
	logger     *logging.Logger

	registry *store.ProjectRegistry
	tasks    TaskController
	bus      *eventbus.Bus
}

// Config holds the Gateway's listen address and middleware settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	EnableCORS      bool

	// CallbackCIDRs restricts /internal/callback to the loopback and
	// container-bridge networks agent containers actually call from
	// (spec §4.10 Expansion note); empty means loopback-only.
	CallbackCIDRs []string

	// DataDir roots the on-disk layout the Scheduler also uses
	// (dataDir/projects/<id>/repo), so a newly added project's repository
	// lands exactly where the Scheduler will later look for it.
	DataDir string
}

// DefaultConfig returns the Gateway's default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            7733,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    0, // WebSocket/log streams are long-lived
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"http://localhost:5173"},
		EnableCORS:      true,
		CallbackCIDRs:   []string{"127.0.0.0/8", "::1/128", "172.17.0.0/16"},
		DataDir:         "data",
	}
}

// New constructs a Gateway server against the given project registry, task
// controller (normally a *scheduler.Scheduler), and event bus.
func New(cfg Config, registry *store.ProjectRegistry, tasks TaskController, bus *eventbus.Bus, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		tasks:    tasks,
		bus:      bus,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.cfg.EnableCORS {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleDeleteProject)
				r.Get("/workers", s.handleListWorkers)

				r.Route("/tasks", func(r chi.Router) {
					r.Get("/", s.handleListTasks)
					r.Post("/", s.handleCreateTask)
					r.Route("/{taskID}", func(r chi.Router) {
						r.Get("/", s.handleGetTask)
						r.Post("/approve", s.handleApprovePlan)
						r.Post("/reject", s.handleRejectPlan)
						r.Post("/chat", s.handleChatTask)
						r.Post("/cancel", s.handleCancelTask)
						r.Post("/merge", s.handleMergeTask)
						r.Post("/retry", s.handleRetryTask)
					})
				})
			})
		})

		r.Get("/ws/logs/{workerID}", s.handleLogSocket)
		r.Get("/ws/plan/{projectID}/{taskID}", s.handlePlanSocket)
		r.Get("/ws/system", s.handleSystemSocket)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.restrictToCallbackOrigins)
		r.Post("/callback", s.handleCallback)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("gateway: starting http server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway: http server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Addr returns the server's listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/assessment"
	"github.com/nelssec/atoguard/internal/auth"
	"github.com/nelssec/atoguard/internal/batch"
	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/config"
	"github.com/nelssec/atoguard/internal/depgraph"
	"github.com/nelssec/atoguard/internal/evidence"
	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/governance"
	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/notifications"
	"github.com/nelssec/atoguard/internal/queue"
	"github.com/nelssec/atoguard/internal/registry"
	"github.com/nelssec/atoguard/internal/reports"
	"github.com/nelssec/atoguard/internal/scheduler"
	"github.com/nelssec/atoguard/internal/store"
)

// Deps are the cloud-facing adapters the server needs. Connectors are
// injected so the API layer stays provider-agnostic.
type Deps struct {
	Inventory    inventory.Inventory
	Remediator   executor.InfrastructureRemediator
	PolicySource governance.PolicySource
}

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	cache        *inventory.Cache
	orchestrator *assessment.Orchestrator
	evidenceSvc  *evidence.Service
	executor     *executor.Executor
	history      *executor.History
	coordinator  *batch.Coordinator
	govEngine    *governance.Engine

	reportGenerator *reports.Generator

	notificationService *notifications.Service

	// optional infrastructure; nil when redis/neo4j are unreachable
	jobQueue *queue.Queue
	worker   *queue.Worker
	graph    *depgraph.Graph

	// pending executions awaiting approval, keyed by execution id
	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingExecution
}

type pendingExecution struct {
	exec    *models.RemediationExecution
	finding models.Finding
	scope   models.Scope
	opts    executor.Options
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, deps Deps, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		store:   st,
		logger:  slog.Default(),
		pending: make(map[uuid.UUID]*pendingExecution),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)

	s.cache = inventory.NewCache(deps.Inventory, cfg.Assessment.ResourceCacheTTL)
	reg := registry.New(
		catalog.NewRuleScanner(s.cache, catalog.DefaultRules()),
		catalog.NewCacheCollector(s.cache),
	)
	cat := catalog.NewBuiltin()

	s.orchestrator = assessment.NewOrchestrator(reg, cat, s.cache, st, s.logger)
	s.evidenceSvc = evidence.NewService(reg, st, s.logger)

	s.history = executor.NewHistory(0)
	s.executor = executor.New(deps.Remediator, s.history, s.logger)
	s.coordinator = batch.NewCoordinator(s.executor, s.logger)

	s.govEngine = governance.NewEngine(
		deps.PolicySource,
		governance.NewWorkflows(),
		cfg.Governance.PolicyCacheTTL,
		s.logger,
	)

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "ATOGuard Bot",
			IconEmoji:   ":shield:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
		Email: notifications.EmailConfig{
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			Enabled:     cfg.Notifications.Email.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
	}, s.logger)

	s.reportGenerator = reports.NewGenerator(st)

	(&scheduler.DefaultHandlers{
		AssessFunc: func(ctx context.Context, subscriptionID, resourceGroup string) error {
			_, err := s.orchestrator.RunAssessment(ctx, models.Scope{
				SubscriptionID: subscriptionID,
				ResourceGroup:  resourceGroup,
			}, nil)
			return err
		},
		AssessAllFunc: func(ctx context.Context) error {
			subscriptions, err := st.ListSubscriptionIDs(ctx)
			if err != nil {
				return err
			}
			for _, subscriptionID := range subscriptions {
				if _, err := s.orchestrator.RunAssessment(ctx, models.Scope{SubscriptionID: subscriptionID}, nil); err != nil {
					return err
				}
			}
			return nil
		},
		EvidenceFunc: func(ctx context.Context, subscriptionID string, familyCodes []string) error {
			if len(familyCodes) == 0 {
				for _, family := range cat.Families() {
					familyCodes = append(familyCodes, family.Code)
				}
			}
			scope := models.Scope{SubscriptionID: subscriptionID}
			for _, code := range familyCodes {
				if _, err := s.evidenceSvc.CollectEvidence(ctx, scope, code, nil); err != nil {
					return err
				}
			}
			return nil
		},
		ReportFunc: func(ctx context.Context, jobConfig map[string]string) error {
			id, err := uuid.Parse(jobConfig["assessment_id"])
			if err != nil {
				return fmt.Errorf("invalid assessment_id in job config: %w", err)
			}
			data, err := s.reportGenerator.AssessmentReport(ctx, id)
			if err != nil {
				return err
			}
			path := jobConfig["output_path"]
			if path == "" {
				path = fmt.Sprintf("assessment-%s.pdf", id)
			}
			return os.WriteFile(path, data, 0o644)
		},
		CleanupFunc: func(ctx context.Context, olderThan time.Duration) error {
			return st.DeleteAssessmentsBefore(ctx, time.Now().Add(-olderThan))
		},
	}).Register(s.scheduler)

	if q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		s.logger.Warn("job queue unavailable, assessments run synchronously only", "error", err)
	} else {
		s.jobQueue = q
		s.worker = queue.NewWorker(queue.WorkerConfig{
			Queue:        q,
			Orchestrator: s.orchestrator,
			Evidence:     s.evidenceSvc,
			Logger:       s.logger,
		})
	}

	if g, err := depgraph.New(depgraph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
	}); err != nil {
		s.logger.Warn("dependency graph unavailable, plan projection disabled", "error", err)
	} else {
		s.graph = g
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/assessments", func(r chi.Router) {
				r.Get("/", s.listAssessments)
				r.Post("/", s.runAssessment)
				r.Get("/queue", s.queueStats)
				r.Get("/queue/{queueJobID}", s.getQueuedAssessment)
				r.Get("/{assessmentID}", s.getAssessment)
				r.Get("/{assessmentID}/findings", s.listAssessmentFindings)
			})

			r.Route("/evidence", func(r chi.Router) {
				r.Post("/collect", s.collectEvidence)
			})

			r.Route("/plans", func(r chi.Router) {
				r.Post("/generate", s.generatePlan)
				r.Get("/{planID}/chains", s.planBlockingChains)
				r.Get("/{planID}/shared-resources", s.planSharedResources)
			})

			r.Route("/remediations", func(r chi.Router) {
				r.Post("/execute", s.executeRemediations)
				r.Get("/history", s.remediationHistory)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleApprover))
					r.Post("/{executionID}/approve", s.approveRemediation)
					r.Post("/{executionID}/reject", s.rejectRemediation)
				})
			})

			r.Route("/governance", func(r chi.Router) {
				r.Post("/evaluate", s.evaluateAction)
				r.Post("/postflight", s.postFlightCheck)

				r.Route("/workflows", func(r chi.Router) {
					r.Get("/", s.listWorkflows)
					r.Get("/{workflowID}", s.getWorkflow)

					r.Group(func(r chi.Router) {
						r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleApprover))
						r.Post("/{workflowID}/approve", s.approveWorkflow)
						r.Post("/{workflowID}/reject", s.rejectWorkflow)
					})
				})
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Post("/assessment/{assessmentID}", s.generateAssessmentReport)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}
	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			s.logger.Error("failed to start queue worker", "error", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.worker != nil {
			s.worker.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.jobQueue != nil {
			defer s.jobQueue.Close()
		}
		if s.graph != nil {
			defer s.graph.Close(shutdownCtx)
		}
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

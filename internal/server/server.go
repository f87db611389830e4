// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/config"
	"github.com/mbd888/safetrade/internal/dispute"
	"github.com/mbd888/safetrade/internal/logging"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/notify"
	"github.com/mbd888/safetrade/internal/payment"
	"github.com/mbd888/safetrade/internal/realtime"
	"github.com/mbd888/safetrade/internal/review"
	"github.com/mbd888/safetrade/internal/traces"
	"github.com/mbd888/safetrade/internal/transaction"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg *config.Config

	transactions *transaction.Service
	payments     *payment.Service
	disputes     *dispute.Service
	reviews      *review.Service
	trail        audit.Recorder
	authMgr      *authz.Manager
	notifyStore  notify.Store
	dispatcher   *notify.Dispatcher
	realtimeHub  *realtime.Hub
	backfill     *review.Worker

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		txnStore     transaction.Store
		paymentStore payment.Store
		disputeStore dispute.Store
		reviewStore  review.Store
		authStore    authz.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		txnStore = transaction.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		reviewStore = review.NewPostgresStore(db)
		authStore = authz.NewPostgresStore(db)
		s.trail = audit.NewPostgresLog(db)
		s.notifyStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memTxns := transaction.NewMemoryStore()
		txnStore = memTxns
		paymentStore = payment.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore(memTxns)
		reviewStore = review.NewMemoryStore()
		authStore = authz.NewMemoryStore()
		s.trail = audit.NewMemoryLog()
		s.notifyStore = notify.NewMemoryStore()
		s.logger.Warn("using in-memory storage, data will not persist")
	}

	s.authMgr = authz.NewManager(authStore)
	s.dispatcher = notify.NewDispatcher(s.notifyStore).WithPlatformSecret(cfg.WebhookSecret)
	s.realtimeHub = realtime.NewHub(s.logger)

	emitter := notify.NewEmitter(s.dispatcher, s.logger)

	fanout := &lifecycleNotifier{emitter: emitter, hub: s.realtimeHub}

	s.transactions = transaction.NewService(txnStore, s.trail, cfg.Rate(), cfg.Currency, s.logger).
		WithNotifier(fanout)
	s.payments = payment.NewService(paymentStore, s.transactions, s.trail, cfg.Tolerance(), s.logger).
		WithNotifier(fanout)
	s.disputes = dispute.NewService(disputeStore, s.transactions, s.trail, s.logger).
		WithNotifier(fanout)
	s.transactions.WithDisputeChecker(s.disputes)
	s.reviews = review.NewService(reviewStore, s.transactions, s.trail,
		cfg.FlagThreshold, time.Duration(cfg.AutoVerifyWindowDays)*24*time.Hour, s.logger).
		WithNotifier(fanout)
	s.backfill = review.NewWorker(s.reviews,
		time.Duration(cfg.BackfillIntervalMins)*time.Minute, s.logger)

	// Router
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// lifecycleNotifier fans domain events out to webhooks and the realtime
// stream.
type lifecycleNotifier struct {
	emitter *notify.Emitter
	hub     *realtime.Hub
}

var (
	_ transaction.Notifier = (*lifecycleNotifier)(nil)
	_ payment.Notifier     = (*lifecycleNotifier)(nil)
	_ dispute.Notifier     = (*lifecycleNotifier)(nil)
	_ review.Notifier      = (*lifecycleNotifier)(nil)
)

func (n *lifecycleNotifier) TransactionCreated(t *transaction.Transaction) {
	n.emitter.TransactionCreated(t)
	n.hub.BroadcastTransaction(transactionEvent(t))
}

func (n *lifecycleNotifier) FundsReleased(t *transaction.Transaction) {
	n.emitter.FundsReleased(t)
	n.hub.BroadcastTransaction(transactionEvent(t))
}

func (n *lifecycleNotifier) TransactionRefunded(t *transaction.Transaction, reason string) {
	n.emitter.TransactionRefunded(t, reason)
	n.hub.BroadcastTransaction(transactionEvent(t))
}

func (n *lifecycleNotifier) PaymentVerified(t *transaction.Transaction, paymentID string) {
	n.emitter.PaymentVerified(t, paymentID)
	n.hub.BroadcastTransaction(transactionEvent(t))
}

func (n *lifecycleNotifier) PaymentRejected(submittedBy, transactionID, paymentID, reason string) {
	n.emitter.PaymentRejected(submittedBy, transactionID, paymentID, reason)
}

func (n *lifecycleNotifier) DisputeOpened(respondent, disputeID, transactionID, reason string) {
	n.emitter.DisputeOpened(respondent, disputeID, transactionID, reason)
	n.hub.BroadcastDispute(map[string]any{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"respondent":    respondent,
		"status":        "open",
		"reason":        reason,
	})
}

func (n *lifecycleNotifier) DisputeResolved(userID, disputeID, transactionID, outcome string) {
	n.emitter.DisputeResolved(userID, disputeID, transactionID, outcome)
	n.hub.BroadcastDispute(map[string]any{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"status":        "resolved",
		"outcome":       outcome,
	})
}

func (n *lifecycleNotifier) ReviewVerified(reviewerID, reviewID, method string) {
	n.emitter.ReviewVerified(reviewerID, reviewID, method)
	n.hub.BroadcastReview(map[string]any{
		"reviewId": reviewID,
		"status":   "approved",
		"method":   method,
	})
}

func (n *lifecycleNotifier) ReviewFlagged(reviewerID, reviewID string, flagCount int) {
	n.emitter.ReviewFlagged(reviewerID, reviewID, flagCount)
	n.hub.BroadcastReview(map[string]any{
		"reviewId":  reviewID,
		"status":    "flagged",
		"flagCount": flagCount,
	})
}

func transactionEvent(t *transaction.Transaction) map[string]any {
	return map[string]any{
		"transactionId": t.ID,
		"code":          t.Code,
		"buyerId":       t.BuyerID,
		"sellerId":      t.SellerID,
		"vehicleId":     t.VehicleID,
		"amount":        t.Amount.String(),
		"currency":      t.Currency,
		"status":        string(t.Status),
	}
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "xxxxx"
	}
	if u.User != nil {
		// An alphanumeric placeholder survives url.String unencoded.
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Bootstrap admin from the configured secret, then API keys
	s.router.Use(s.adminSecretMiddleware())
	s.router.Use(authz.Middleware(s.authMgr))

	// Audit context (actor, IP, request ID)
	s.router.Use(s.auditContextMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminSecretMiddleware resolves the bootstrap admin credential. It exists
// so a fresh deployment can mint its first API keys.
func (s *Server) adminSecretMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret != "" && c.GetHeader("X-Admin-Secret") == s.cfg.AdminSecret {
			c.Set(authz.ContextKeyActor, &authz.Actor{
				ID:           "admin",
				Name:         "Bootstrap Admin",
				Capabilities: authz.AllCapabilities,
			})
		}
		c.Next()
	}
}

// auditContextMiddleware stamps actor identity and request metadata into
// the context every audit entry is written from.
func (s *Server) auditContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if actor := authz.ActorFrom(c); actor != nil {
			ctx = audit.WithActor(ctx, actor.ID)
		}
		ctx = audit.WithIP(ctx, c.ClientIP())
		ctx = audit.WithRequestID(ctx, logging.RequestID(ctx))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	txnHandler := transaction.NewHandler(s.transactions)
	paymentHandler := payment.NewHandler(s.payments)
	disputeHandler := dispute.NewHandler(s.disputes)
	reviewHandler := review.NewHandler(s.reviews)
	notifyHandler := notify.NewHandler(s.notifyStore)

	v1 := s.router.Group("/v1")
	{
		txnHandler.RegisterRoutes(v1)
		paymentHandler.RegisterRoutes(v1)
		disputeHandler.RegisterRoutes(v1)
		reviewHandler.RegisterRoutes(v1)
		notifyHandler.RegisterRoutes(v1)

		v1.GET("/stream", func(c *gin.Context) {
			s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
		})
		v1.GET("/stream/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.realtimeHub.Stats())
		})
	}

	// Staff endpoints. Authentication is enforced here; fine-grained
	// capability checks live in the services.
	admin := s.router.Group("/v1", authz.RequireAuth())
	{
		txnHandler.RegisterAdminRoutes(admin)
		paymentHandler.RegisterAdminRoutes(admin)
		disputeHandler.RegisterAdminRoutes(admin)
		reviewHandler.RegisterAdminRoutes(admin)
	}

	// Key management and raw audit access, bootstrap-admin or staff with
	// audit capability.
	keys := s.router.Group("/v1/admin", authz.RequireCapability(authz.CapViewAudit))
	{
		keys.POST("/keys", s.createKeyHandler)
		keys.DELETE("/keys/:id", s.revokeKeyHandler)
		keys.GET("/audit/:entity/:id", s.auditQueryHandler)
	}
}

// auditQueryHandler exposes the raw trail for any audited entity, not just
// transactions.
func (s *Server) auditQueryHandler(c *gin.Context) {
	entity := c.Param("entity")
	switch entity {
	case "transaction", "payment", "dispute", "review":
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": fmt.Sprintf("unknown entity type %q", entity),
		})
		return
	}

	entries, err := s.trail.Query(c.Request.Context(), entity, c.Param("id"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to query audit trail",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity":  entity,
		"id":      c.Param("id"),
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) createKeyHandler(c *gin.Context) {
	var req struct {
		ActorID      string   `json:"actorId" binding:"required"`
		ActorName    string   `json:"actorName"`
		Capabilities []string `json:"capabilities" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Actor and capabilities are required",
		})
		return
	}

	caps := make([]authz.Capability, 0, len(req.Capabilities))
	for _, raw := range req.Capabilities {
		capability := authz.Capability(raw)
		known := false
		for _, k := range authz.AllCapabilities {
			if k == capability {
				known = true
				break
			}
		}
		if !known {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": fmt.Sprintf("unknown capability %q", raw),
			})
			return
		}
		caps = append(caps, capability)
	}

	rawKey, key, err := s.authMgr.GenerateKey(c.Request.Context(), req.ActorID, req.ActorName, caps)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to generate key",
		})
		return
	}

	// The raw key is shown exactly once.
	c.JSON(http.StatusCreated, gin.H{
		"key":    key,
		"apiKey": rawKey,
	})
}

func (s *Server) revokeKeyHandler(c *gin.Context) {
	actorID := c.Query("actor")
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "actor query parameter is required",
		})
		return
	}
	if err := s.authMgr.RevokeKey(c.Request.Context(), c.Param("id"), actorID); err != nil {
		if errors.Is(err, authz.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Key not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger); err != nil {
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.shutdownOTel = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background workers
	go s.realtimeHub.Run(runCtx)
	go s.backfill.Run(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop background goroutines (hub, backfill worker, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close failed", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

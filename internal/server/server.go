// Package server exposes the conversational backend over HTTP and
// websocket transports.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"concierge/internal/config"
	"concierge/internal/dialog"
	"concierge/internal/logging"
	"concierge/internal/metrics"
	"concierge/internal/otp"
	"concierge/internal/session"
	"concierge/internal/summary"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// WelcomeMessage greets a new websocket connection.
const WelcomeMessage = "Hello! I'm your Insurance Claim support assistant. I'm here to help you with your insurance claim related queries. How can I assist you today?"

// Deps are the collaborators the server routes requests to. Controller
// and Summarizer may be nil when the reasoning backend failed to
// initialize; affected endpoints then answer 503. Leases, OTP, and
// Mailer back the tool-callback routes the reasoning engine invokes;
// any of them may be nil when unconfigured, and the routes that need
// them answer 503.
type Deps struct {
	Store      session.Store
	Controller *dialog.Controller
	Summarizer *summary.Summarizer
	Metrics    *metrics.Metrics
	Logger     *logging.Logger

	Leases LeaseDirectory
	OTP    *otp.Manager
	Mailer CodeMailer
}

// Server owns the gin engine and the listener lifecycle.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// Bounds concurrent reasoning calls across both transports.
	workers *semaphore.Weighted

	logger *logging.Logger
}

// New assembles the engine, middleware, and routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.WSIdleTimeout <= 0 {
		cfg.WSIdleTimeout = 300 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		workers: semaphore.NewWeighted(maxConcurrent),
		logger:  logging.OrNop(deps.Logger),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: engine,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/chat", s.handleChat)
	s.engine.GET("/ws/chat", s.handleWebSocket)
	s.engine.POST("/chat/summary", s.handleChatSummary)

	sessions := s.engine.Group("/sessions")
	{
		sessions.GET("/:id/status", s.handleSessionStatus)
		sessions.POST("/:id/cleanup", s.handleSessionCleanup)
		sessions.GET("/active", s.handleActiveSessions)
	}

	// Tool callbacks the reasoning engine invokes mid-conversation.
	tools := s.engine.Group("/tools")
	{
		tools.POST("/tenant/verify", s.handleTenantVerify)
		tools.POST("/lease/details", s.handleLeaseDetails)
		tools.POST("/rent/status", s.handleRentStatus)
		tools.POST("/rent/offer", s.handleRentOffer)
		tools.POST("/otp/send", s.handleOTPSend)
		tools.POST("/otp/verify", s.handleOTPVerify)
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// acquireWorker reserves a reasoning slot, waiting until one frees up
// or the request context ends.
func (s *Server) acquireWorker(ctx context.Context) error {
	return s.workers.Acquire(ctx, 1)
}

func (s *Server) releaseWorker() {
	s.workers.Release(1)
}

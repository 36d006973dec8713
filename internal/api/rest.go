// Package api provides the REST surface of the scan orchestration service:
// listing and starting scans, resolving duplicate groups, and the usual
// health, system-info and metrics endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/desup/internal/auth"
	"github.com/mescon/desup/internal/config"
	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/logger"
	"github.com/mescon/desup/internal/metrics"
	"github.com/mescon/desup/internal/services"
)

// identityKey is the gin context key the auth middleware stores the caller
// identity under.
const identityKey = "identity"

type RESTServer struct {
	router        *gin.Engine
	httpServer    *http.Server
	repo          *db.Repository
	eventBus      *eventbus.EventBus
	authenticator auth.Authenticator
	workflow      *services.WorkflowService
	reconciler    *services.Reconciler
	metrics       *metrics.MetricsService
	startTime     time.Time
}

// ServerDeps contains all dependencies required for the REST server.
type ServerDeps struct {
	Repo          *db.Repository
	EventBus      *eventbus.EventBus
	Authenticator auth.Authenticator
	Workflow      *services.WorkflowService
	Reconciler    *services.Reconciler
	Metrics       *metrics.MetricsService
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	// Release mode suppresses gin's debug warnings in production
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = fmt.Sprintf("%d-%d", time.Now().UnixNano(), c.Request.ContentLength)
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	// Recovery with enhanced logging
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": reqID,
		})
	}))

	// CORS middleware - configurable via DESUP_CORS_ORIGIN env var.
	// Unset means same-origin only; "*" is for development.
	corsOrigins := os.Getenv("DESUP_CORS_ORIGIN")
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s := &RESTServer{
		router:        r,
		repo:          deps.Repo,
		eventBus:      deps.EventBus,
		authenticator: deps.Authenticator,
		workflow:      deps.Workflow,
		reconciler:    deps.Reconciler,
		metrics:       deps.Metrics,
		startTime:     time.Now(),
	}

	s.setupRoutes()

	return s
}

func (s *RESTServer) setupRoutes() {
	cfg := config.Get()
	basePath := cfg.BasePath

	// Prometheus scrapes at root level regardless of base path
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	var base *gin.RouterGroup
	if basePath == "/" {
		base = s.router.Group("")
	} else {
		base = s.router.Group(basePath)
		s.router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, basePath)
		})
	}

	api := base.Group("/api")
	{
		// Health and system info need no authentication
		api.GET("/health", s.handleHealth)
		api.GET("/system/info", s.handleSystemInfo)

		protected := api.Group("")
		protected.Use(s.authMiddleware())
		{
			protected.GET("/scans", s.handleListScans)
			protected.POST("/scans", s.handleStartScan)
			protected.DELETE("/files/:scanId", s.handleResolveDuplicate)
		}
	}
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware validates the bearer token and stores the caller identity.
// Rejection happens before any handler runs, so an unauthenticated request
// never reaches the store or the external collaborators.
func (s *RESTServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.authenticator.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			respondUnauthorized(c, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// callerIdentity returns the identity the auth middleware stored.
func callerIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

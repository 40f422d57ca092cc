package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/httpmiddleware"
	"classattend/internal/logging"
)

// HealthFunc reports the connectivity of each dependency by name.
type HealthFunc func(ctx context.Context) map[string]bool

// Server exposes the attendance operations as a JSON API.
type Server struct {
	cfg     config.App
	svc     *attendance.Service
	health  HealthFunc
	logger  *slog.Logger
	limiter *httpmiddleware.TokenBucket
	engine  *gin.Engine

	closeOnce sync.Once
	closing   chan struct{}
}

// New wires routes and middleware.
func New(cfg config.App, svc *attendance.Service, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = func(context.Context) map[string]bool { return map[string]bool{} }
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		health:  health,
		logger:  logger,
		limiter: httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil),
		closing: make(chan struct{}),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// CloseStreams ends every open event stream. Plain requests are unaffected.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Limiter returns the rate limiter so callers can prune it.
func (s *Server) Limiter() *httpmiddleware.TokenBucket { return s.limiter }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger("/healthz", "/metrics"))
	r.Use(cors.New(s.corsConfig()))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1", s.limiter.Middleware())
	v1.POST("/login", s.login)
	v1.POST("/token/refresh", s.refresh)

	authed := v1.Group("", auth.Bearer(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))
	authed.GET("/sessions/active", s.activeSessions)
	authed.GET("/sessions/today", s.todaySessions)
	authed.GET("/events", s.events)

	prof := authed.Group("", auth.RequireRole(string(attendance.RoleProfessor)))
	prof.GET("/professors/me/sessions", s.listMySessions)
	prof.POST("/professors/me/sessions", s.createSession)
	prof.GET("/professors/me/stats", s.professorStats)
	prof.PATCH("/sessions/:id", s.updateSession)
	prof.DELETE("/sessions/:id", s.deleteSession)
	prof.POST("/sessions/:id/codes", s.generateCode)
	prof.POST("/sessions/:id/end", s.endSession)
	prof.GET("/sessions/:id/students", s.sessionStudents)
	prof.POST("/admin/reset", s.reset)

	student := authed.Group("", auth.RequireRole(string(attendance.RoleStudent)))
	student.POST("/redemptions", s.redeem)
	student.GET("/students/me/attendance", s.myAttendance)
	student.GET("/students/me/stats", s.studentStats)

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) > 0 {
		cfg.AllowOrigins = s.cfg.CORSOrigins
	} else {
		cfg.AllowOriginFunc = func(string) bool { return true }
	}
	return cfg
}

// requestLogger attaches a request scoped logger to the request context and logs each request.
func (s *Server) requestLogger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		logger := s.logger.With("request_id", reqID)
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))

		start := time.Now()
		c.Next()
		if _, ok := skipped[c.FullPath()]; ok {
			return
		}
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	checks := s.health(c.Request.Context())
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	body := gin.H{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	for name, ok := range checks {
		body[name] = ok
	}
	c.JSON(status, body)
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"linkfetch/api/handler"
	"linkfetch/api/middleware"
	"linkfetch/internal"
)

// Options configures the API router
type Options struct {
	Version   string
	StartTime time.Time
	Logger    *internal.SecureLogger
	// Limiter is optional; nil disables request rate limiting
	Limiter *middleware.RateLimiter
}

// NewRouter creates a configured Gin engine.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if keys are configured) → RateLimit (if enabled)
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(r handler.Resolver, cfg internal.ServerConfig, opts Options) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if opts.Logger == nil {
		opts.Logger = internal.GetLogger()
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(opts.Logger))

	v1 := engine.Group("/api/v1")
	v1.GET("/health", handler.Health(r, opts.Version, opts.StartTime))

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.APIKeys))
	if opts.Limiter != nil {
		protected.Use(opts.Limiter.Middleware())
	}

	protected.POST("/resolve", handler.ResolvePost(r))
	protected.GET("/resolve", handler.ResolveGet(r))
	protected.GET("/providers", handler.Providers(r))

	return engine
}

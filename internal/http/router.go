// Package httpapi wires Gin to the inscription service: middleware order,
// routes, and the static site.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-inscriptions/docs" // registers the OpenAPI document
	"github.com/tbourn/go-inscriptions/internal/config"
	"github.com/tbourn/go-inscriptions/internal/http/handlers"
	"github.com/tbourn/go-inscriptions/internal/http/middleware"
	"github.com/tbourn/go-inscriptions/internal/repo"
	"github.com/tbourn/go-inscriptions/internal/services"
)

// maxBodyBytes caps request bodies. A valid submission is a few KiB at most.
const maxBodyBytes = 64 << 10

// RegisterRoutes installs middleware and routes on r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID, then RedactingLogger, then Recovery
//  3. Body size limit and metrics
//  4. Idempotency validator, before any limiter so replays bypass it
//  5. Global rate limiter (per client address)
//  6. CORS, gzip and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cipher services.Cipher, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))
	r.Use(middleware.Recovery())

	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, client, key string, now time.Time) (bool, error) {
			if _, err := repo.GetIdempotency(ctx, db, client, key, now); err != nil {
				return false, nil
			}
			return true, nil
		},
	))

	global := middleware.NewRateLimiter("global", cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(global.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.GET("/health", health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	svc := &services.InscriptionService{
		DB:             db,
		Cipher:         cipher,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	h := handlers.New(svc)
	intake := middleware.PerMinute("inscription", cfg.InscriptionPerMinute, cfg.InscriptionBurst, middleware.KeyByClientIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.NoStore())
	{
		api.POST("/inscription", intake.Handler(), h.PostInscription)
		api.GET("/inscriptions", h.ListInscriptions)
	}

	static := handlers.NewStatic(cfg.StaticDir, staticDeny(cfg)...)
	r.GET("/", static.Index)
	r.HEAD("/", static.Index)
	r.NoRoute(static.Serve)
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})
}

// staticDeny lists what must never be served from STATIC_DIR.
func staticDeny(cfg config.Config) []string {
	deny := []string{cfg.BackupDir}
	if cfg.DB.Driver == config.DriverSQLite {
		deny = append(deny, cfg.DB.Path)
	}
	return deny
}

// corsMiddleware allows any origin when none are configured; the form posts
// same-origin so CORS only matters for third-party dashboards.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "X-Total-Count", "ETag", "Idempotency-Replayed", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// health godoc
// @ID       health
// @Summary  Liveness and database reachability
// @Tags     Ops
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /health [get]
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// caller identity, idempotency, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"errors"
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

	"github.com/tbourn/go-ncr-backend/docs"
	"github.com/tbourn/go-ncr-backend/internal/cache"
	"github.com/tbourn/go-ncr-backend/internal/config"
	"github.com/tbourn/go-ncr-backend/internal/events"
	"github.com/tbourn/go-ncr-backend/internal/http/handlers"
	"github.com/tbourn/go-ncr-backend/internal/http/middleware"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/services"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// Deps are the shared components the services are built from. Nil Cache,
// Events or Catalog fall back to in-process defaults.
type Deps struct {
	DB          *gorm.DB
	Catalog     *workflow.Catalog
	Cache       *cache.TicketCache
	Events      events.Publisher
	SeedDefects []string
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access log with redaction
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics (before idempotency so replays are counted)
//  7. Authenticate: resolve the caller (idempotency records are per caller)
//  8. Idempotency (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per caller and bucket class, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Caller identity
	r.Use(middleware.Authenticate(middleware.IdentityOptions{JWTSecret: cfg.JWTSecret}))

	// 8) Idempotent replay of mutating requests
	r.Use(middleware.Idempotency(middleware.IdempotencyOptions{
		MaxLen: 128,
		Lookup: func(ctx context.Context, userID, scope, key string, now time.Time) (middleware.StoredResponse, bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return middleware.StoredResponse{}, false, nil
			}
			if err != nil {
				return middleware.StoredResponse{}, false, err
			}
			return middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, true, nil
		},
		Record: func(ctx context.Context, userID, scope, key string, resp middleware.StoredResponse) error {
			_, err := repo.CreateIdempotency(ctx, db, userID, scope, key, resp.Status, resp.Body, cfg.IdempotencyTTL)
			if errors.Is(err, repo.ErrDuplicate) {
				// a concurrent retry recorded first; its response stands
				return nil
			}
			return err
		},
	}))

	// 9) Token buckets per caller, reads and writes apart
	rl := middleware.NewRateLimiter(middleware.RateLimits{
		ReadRPS:    cfg.RateRPS,
		ReadBurst:  cfg.RateBurst,
		WriteRPS:   cfg.RateWriteRPS,
		WriteBurst: cfg.RateWriteBurst,
	})
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserName, middleware.HeaderUserRole, middleware.HeaderUserDepartment,
		middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		ExposeHeaders: []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← db/catalog/cache/events
	catalog := deps.Catalog
	if catalog == nil {
		catalog = workflow.DefaultCatalog()
	}
	tc := deps.Cache
	if tc == nil {
		tc = cache.NewTicketCache(cache.NewMemory(), time.Minute)
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	ticketSvc := &services.TicketService{DB: db, Catalog: catalog, Cache: tc, Events: pub, SeedDefects: deps.SeedDefects}
	flowSvc := &services.WorkflowService{DB: db, Catalog: catalog, Cache: tc, Events: pub}
	dnxlSvc := &services.DNXLService{DB: db, Events: pub}
	h := handlers.New(ticketSvc, flowSvc, dnxlSvc, catalog)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Reference data
		api.GET("/aql/standard", h.AQLStandard)
		api.POST("/aql/evaluate", h.EvaluateAQL)
		api.GET("/departments", h.ListDepartments)
		api.GET("/defects/suggest", h.SuggestDefects)

		// Tickets (list payloads are the large ones)
		zipped := gzip.Gzip(gzip.DefaultCompression)
		api.POST("/tickets", h.CreateTicket)
		api.GET("/tickets", zipped, h.ListTickets)
		api.GET("/tickets/:id", h.GetTicket)
		api.GET("/tickets/:id/history", zipped, h.TicketHistory)

		// Workflow
		api.POST("/tickets/:id/approve", h.ApproveTicket)
		api.POST("/tickets/:id/reject", h.RejectTicket)
		api.POST("/tickets/:id/cancel", h.CancelTicket)
		api.POST("/tickets/:id/corrective-action", h.AssignCorrectiveAction)
		api.POST("/tickets/:id/corrective-action/submit", h.SubmitCorrectiveAction)
		api.POST("/tickets/:id/corrective-action/accept", h.AcceptCorrectiveAction)
		api.POST("/tickets/:id/corrective-action/return", h.ReturnCorrectiveAction)
		api.POST("/tickets/:id/corrective-action/recall", h.RecallCorrectiveAction)

		// DNXL
		api.POST("/tickets/:id/dnxl", h.CreateDNXL)
		api.GET("/tickets/:id/dnxl", zipped, h.ListDNXL)
		api.GET("/dnxl/:id", h.GetDNXL)
		api.POST("/dnxl/:id/claim", h.ClaimDNXL)
		api.POST("/dnxl/:id/progress", h.SubmitDNXLProgress)
		api.POST("/dnxl/:id/review", h.ReviewDNXL)
		api.POST("/dnxl/:id/force-complete", h.ForceCompleteDNXL)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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

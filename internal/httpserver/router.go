package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"inboxtriage/internal/handler"
	"inboxtriage/pkg/otel"
)

// Pinger reports database reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Auth       *handler.AuthHandler
	Email      *handler.EmailHandler
	Category   *handler.CategoryHandler
	JWTSecret  string
	CORSOrigin string
	DB         Pinger
	Logger     *zap.Logger
}

type Router struct {
	Engine  *gin.Engine
	handler http.Handler
}

func NewRouter(h Handlers) *Router {
	r := gin.New()
	r.Use(RecoveryMiddleware(h.Logger), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware())

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/healthz", healthHandler)
	r.GET("/health", healthHandler)
	r.HEAD("/health", healthHandler)

	r.GET("/readyz", func(c *gin.Context) {
		if h.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := h.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "database unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.GET("/api/auth/google", h.Auth.GoogleLogin)
	r.GET("/api/auth/google/callback", h.Auth.GoogleCallback)

	// Protected
	api := r.Group("/api")
	api.Use(AuthMiddleware(h.JWTSecret))
	{
		api.GET("/auth/me", h.Auth.Me)

		api.POST("/emails/sync", h.Email.Sync)
		api.POST("/emails/bulk", h.Email.Bulk)
		api.POST("/emails/clean", h.Email.Clean)
		api.GET("/emails", h.Email.List)
		api.DELETE("/emails", h.Email.ClearAll)
		api.GET("/emails/:id", h.Email.Get)
		api.DELETE("/emails/:id", h.Email.Delete)
		api.PATCH("/emails/:id/read", h.Email.MarkRead)
		api.PATCH("/emails/:id/unread", h.Email.MarkUnread)
		api.PATCH("/emails/:id/category", h.Email.SetCategory)
		api.POST("/emails/:id/unsubscribe", h.Email.Unsubscribe)

		api.GET("/categories", h.Category.List)
		api.GET("/categories/stats", h.Category.Stats)
		api.POST("/categories", h.Category.Create)
		api.GET("/categories/:id", h.Category.Get)
		api.PUT("/categories/:id", h.Category.Update)
		api.DELETE("/categories/:id", h.Category.Delete)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{h.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: true,
	})

	return &Router{Engine: r, handler: c.Handler(r)}
}

// Handler returns the engine wrapped with CORS.
func (r *Router) Handler() http.Handler {
	return r.handler
}

// Server builds an http.Server for addr.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

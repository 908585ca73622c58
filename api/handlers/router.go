package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/open-same/collab-hub/internal/auth"
	"github.com/open-same/collab-hub/internal/document"
	"github.com/open-same/collab-hub/internal/ws"
	"github.com/open-same/collab-hub/pkg/metrics"
)

// RouterConfig wires the HTTP surface to its collaborators.
type RouterConfig struct {
	Hub          *ws.Hub
	Documents    *document.Service
	Verifier     *auth.Verifier
	AuthOptions  auth.Options
	AllowOrigins []string
	Logger       *slog.Logger
}

// NewRouter builds the gin engine serving health, metrics, the WebSocket
// endpoint and the document API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(cfg.AllowOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	requireIdentity := auth.RequireIdentity(cfg.Verifier, cfg.AuthOptions)
	wsHandler := NewWebSocketHandler(ws.NewHandler(cfg.Hub, cfg.AllowOrigins), logger)
	r.GET("/ws", requireIdentity, wsHandler.Attach)

	api := r.Group("/api", requireIdentity)
	{
		wsHandler.RegisterRoutes(api)
		NewStatsHandler(cfg.Hub).RegisterRoutes(api)
		if cfg.Documents != nil {
			NewDocumentHandler(cfg.Documents).RegisterRoutes(api)
		}
	}

	return r
}

// corsMiddleware returns the CORS middleware for the configured origins.
// Origins are matched by ws.OriginAllowed so bare hosts behave the same for
// HTTP and WebSocket requests.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		allowed := append([]string(nil), origins...)
		cfg.AllowOriginFunc = func(origin string) bool {
			return ws.OriginAllowed(allowed, origin)
		}
	}

	return cors.New(cfg)
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http.request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

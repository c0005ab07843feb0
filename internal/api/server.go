package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/config"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/notify"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/queue"
)

// Server exposes the order API over REST and websocket
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	store  orders.Store
	bus    *notify.Bus
	queue  *queue.Queue
}

// NewServer creates the HTTP server over the order subsystems
func NewServer(logger *zap.Logger, cfg config.ServerConfig, store orders.Store, bus *notify.Bus, q *queue.Queue) *Server {
	return &Server{
		logger: logger.Named("api"),
		cfg:    cfg,
		store:  store,
		bus:    bus,
		queue:  q,
	}
}

// Router builds the gin engine with middleware and all routes
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(s.corsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.POST("/orders", s.handleCreateOrder)
			v1.GET("/orders/:orderID", s.handleGetOrder)
			v1.GET("/orders/:orderID/stream", s.handleStreamOrder)
		}
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	if len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*" {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins: s.cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	})
}

// respondError writes the uniform error envelope
func (s *Server) respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/bingooyong/ota-engine/pkg/jwt"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter 注册路由；配置了 jwt_secret 时写操作需要令牌
func NewRouter(cfg *config.ServerConfig, e Engine, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Mode)
	router := gin.New()
	router.Use(Recovery(logger))
	router.Use(Logger(logger))

	var tokens *jwt.Manager
	if cfg.JWTSecret != "" {
		tokens = jwt.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpire)
	}

	h := NewHandler(e, logger)
	router.GET("/health", h.Health)

	public := router.Group("/api/v1")
	{
		public.GET("/state", h.State)
		public.GET("/updates", h.ListUpdates)
		public.GET("/updates/launchable", h.Launchable)
		public.GET("/extra-params", h.GetExtraParams)
	}

	protected := router.Group("/api/v1")
	protected.Use(JWTAuth(tokens))
	{
		protected.POST("/check", h.Check)
		protected.POST("/fetch", h.Fetch)
		protected.POST("/cancel", h.Cancel)
		protected.POST("/restart", h.Restart)
		protected.POST("/updates/:id/launch-result", h.LaunchResult)
		protected.POST("/updates/:id/keep", h.Keep)
		protected.POST("/reap", h.Reap)
		protected.PUT("/extra-params", h.SetExtraParams)
	}

	return router
}

// Server 控制API服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建控制API服务
func NewServer(cfg *config.ServerConfig, e Engine, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Address(),
			Handler:           NewRouter(cfg, e, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start 后台监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("control API listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API stopped", zap.Error(err))
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

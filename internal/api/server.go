package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomaillist/gml/internal/auth"
	"github.com/gomaillist/gml/internal/logger"
	"github.com/gomaillist/gml/internal/storage"
)

// WatcherStarter 为新建的邮件列表启动看守进程
type WatcherStarter interface {
	StartWatcher(ctx context.Context, list *storage.MailingList) error
}

// Server API 服务器
type Server struct {
	config *Config
	router *gin.Engine
	server *http.Server
}

// Config API 配置
type Config struct {
	Port      int
	JWTSecret string
	JWTIssuer string
	Storage   storage.Driver
	Watchers  WatcherStarter
}

// NewServer 创建 API 服务器
func NewServer(cfg *Config) *Server {
	// 设置 Gin 模式
	gin.SetMode(gin.ReleaseMode)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	// 健康检查
	router.GET("/health", healthHandler)

	// 注册和登录不需要认证
	router.POST("/signup", signupHandler(cfg.Storage))
	router.POST("/login", loginHandler(cfg.Storage, jwtManager))

	// 列表管理需要 JWT
	lists := router.Group("/")
	lists.Use(authMiddleware(jwtManager))

	lists.POST("/mailing_list", createMailingListHandler(cfg.Storage, cfg.Watchers))
	lists.DELETE("/mailing_list/:id", deleteMailingListHandler(cfg.Storage))
	lists.GET("/mailing_lists", listMailingListsHandler(cfg.Storage))
	lists.GET("/user/:user_id/mailing_lists", listMailingListsByUserHandler(cfg.Storage))

	return &Server{
		config: cfg,
		router: router,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second, // 防止 Slowloris 攻击
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info().Int("port", s.config.Port).Msg("API 服务器启动")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API 服务器错误: %w", err)
	}

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭 API 服务器失败: %w", err)
	}

	logger.Info().Msg("API 服务器已停止")
	return nil
}

// loggerMiddleware 日志中间件
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger.Info().
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("API 请求")
	}
}

// authMiddleware JWT 认证中间件
func authMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "未授权",
			})
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "未授权",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// healthHandler 健康检查处理器
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

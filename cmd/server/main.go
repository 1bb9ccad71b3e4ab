// Package main 是服务端的入口点
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/aaronaludo/chat-system/internal/cache"
	"github.com/aaronaludo/chat-system/internal/config"
	"github.com/aaronaludo/chat-system/internal/handler"
	"github.com/aaronaludo/chat-system/internal/middleware"
	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/internal/repository"
	"github.com/aaronaludo/chat-system/internal/service"
	"github.com/aaronaludo/chat-system/internal/websocket"
	"github.com/aaronaludo/chat-system/pkg/jwt"
	"github.com/aaronaludo/chat-system/pkg/logger"
	"github.com/aaronaludo/chat-system/pkg/response"
	"github.com/aaronaludo/chat-system/pkg/validate"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env 只用于本地开发，不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	// 审计 sink：文件和（可选）MySQL
	var sinks []service.AuditSink
	if cfg.Audit.File != "" {
		fileSink, err := service.NewFileAuditSink(cfg.Audit.File)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}

	checks := []handler.HealthCheck{{Name: "redis", Ping: redisCache.Ping}}
	var auditHandler *handler.AuditHandler

	if cfg.MySQL.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			return err
		}
		if err := autoMigrate(db); err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		auditRepo := repository.NewAuditRepository(db)
		sinks = append(sinks, auditRepo)
		checks = append(checks, handler.HealthCheck{Name: "mysql", Ping: auditRepo.Ping})
		auditHandler = handler.NewAuditHandler(auditRepo)
	}

	// 审计队列先于 Redis 关闭，保证排队的记录写完
	auditService := service.NewAuditService(cfg.Audit.QueueSize, sinks...)
	defer auditService.Close()

	// 初始化 Service 层
	chatService := service.NewChatService(redisCache, cfg.Chat, auditService)

	// 初始化 WebSocket Hub
	wsHub := websocket.NewHub()

	// 初始化 Handler 层
	chatHandler := handler.NewChatHandler(chatService, wsHub)
	healthHandler := handler.NewHealthHandler(wsHub, checks...)
	wsHandler := websocket.NewHandler(wsHub, chatService, cfg.Server.CORS, cfg.Chat.WriteTimeout())

	// 管理员校验（未配置密钥时不启用）
	var adminMiddleware []gin.HandlerFunc
	if cfg.Auth.AdminSecret != "" {
		jwtService := jwt.NewJWTService(cfg.Auth.AdminSecret, 24*time.Hour)
		adminMiddleware = append(adminMiddleware, middleware.AdminAuthMiddleware(jwtService))
	} else {
		slog.Warn("auth.admin_secret not set, session listing is unauthenticated")
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	validate.UseJSONFieldNames()

	// 创建 Gin 引擎
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.Server.CORS)))

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "Not found.")
	})

	// 注册路由
	v1 := router.Group("/v1")
	healthHandler.RegisterRoutes(v1)
	chatHandler.RegisterRoutes(v1, adminMiddleware...)
	wsHandler.RegisterRoutes(v1)
	if auditHandler != nil {
		auditHandler.RegisterRoutes(v1, adminMiddleware...)
	}

	// 创建 HTTP 服务器
	// 不设置 WriteTimeout，WebSocket 连接由各自的写超时控制
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 在 goroutine 中启动服务器
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// 创建关闭上下文，设置超时
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先关闭实时连接（1001），Shutdown 不会等待已升级的连接
	wsHub.Close()

	// 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited")
	return nil
}

// initDatabase 初始化数据库连接
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	// 配置 GORM logger
	gormLog := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.Server.Mode == "release" {
		gormLog = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	// 连接数据库
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.MaxLifetime) * time.Second)

	slog.Info("database connected", "host", cfg.MySQL.Host, "database", cfg.MySQL.Database)
	return db, nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.AuditRecord{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	slog.Info("database migrations completed")
	return nil
}

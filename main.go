package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/archive"
	"repo-source-web/internal/infrastructure/github"
	"repo-source-web/internal/infrastructure/preview"
	"repo-source-web/internal/interfaces/http/router"
	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	if err := config.Load(*configPath); err != nil {
		panic("加载配置失败: " + err.Error())
	}
	cfg := config.Get()

	// 初始化日志
	if err := logger.Init(cfg.GetLogLevel(), cfg.GetLogOutputPath()); err != nil {
		panic("初始化日志失败: " + err.Error())
	}
	defer logger.Sync()

	if cfg.GetLogLevel() != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 组装服务
	decoder := archive.NewZipDecoder(cfg)
	builder := services.NewTreeBuilder(decoder, cfg)
	sessions := application.NewSessionService(builder, cfg)
	defer sessions.Close()
	previews := preview.NewRenderer(cfg.GetPreviewStyle(), cfg.Viewer.LineNumbers)

	engine, err := router.New(cfg, sessions, previews, github.NewClient(cfg))
	if err != nil {
		logger.Fatal("创建路由失败", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    cfg.GetAddr(),
		Handler: engine,
	}

	go func() {
		logger.Info("启动服务", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("启动 Gin 服务失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("正在关闭服务")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
	}
}

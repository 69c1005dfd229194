package router

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"repo-source-web/internal/application"
	"repo-source-web/internal/infrastructure/github"
	"repo-source-web/internal/infrastructure/metrics"
	"repo-source-web/internal/infrastructure/preview"
	"repo-source-web/internal/interfaces/http/handlers"
	"repo-source-web/internal/interfaces/http/middleware"
	"repo-source-web/internal/interfaces/http/templates"
	"repo-source-web/pkg/config"
)

// New 创建 Gin 引擎并注册全部路由
func New(cfg *config.Config, sessions *application.SessionService, previews *preview.Renderer, githubClient *github.Client) (*gin.Engine, error) {
	tmpl, err := templates.Load()
	if err != nil {
		return nil, fmt.Errorf("加载页面模板失败: %w", err)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Metrics(),
	)

	// 设置上传限制
	router.MaxMultipartMemory = cfg.GetMaxUploadSize()
	router.SetHTMLTemplate(tmpl)

	handlers.NewPageHandler(sessions, previews, cfg).Register(router)
	handlers.NewSessionHandler(sessions, previews, githubClient, cfg).Register(router.Group("/api/sessions"))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

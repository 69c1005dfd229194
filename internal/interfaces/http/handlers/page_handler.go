package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/preview"
	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

// PageHandler 浏览器页面处理器，表单操作与 JSON API 共用同一会话
type PageHandler struct {
	sessions *application.SessionService
	previews *preview.Renderer
	config   *config.Config
}

// NewPageHandler 创建页面处理器实例
func NewPageHandler(sessions *application.SessionService, previews *preview.Renderer, cfg *config.Config) *PageHandler {
	return &PageHandler{
		sessions: sessions,
		previews: previews,
		config:   cfg,
	}
}

// Register 注册页面路由
func (h *PageHandler) Register(router gin.IRoutes) {
	router.GET("/", h.HandleIndex)
	router.GET("/s/:id", h.HandlePage)
	router.POST("/s/:id/archive", h.HandleUpload)
	router.POST("/s/:id/activate", h.HandleActivate)
	router.POST("/s/:id/toggle", h.HandleToggle)
}

type pageData struct {
	SessionID   string
	Phase       string
	Generation  uint64
	Loading     bool
	Failed      bool
	Error       string
	ErrorKind   string
	Notice      string
	ActivePath  string
	Nodes       []services.RenderNode
	Preview     *preview.Preview
	MaxUploadMB int64
}

// HandleIndex 创建新会话并跳转到会话页面
func (h *PageHandler) HandleIndex(c *gin.Context) {
	sess := h.sessions.Create()
	c.Redirect(http.StatusSeeOther, "/s/"+sess.ID)
}

// HandlePage 渲染会话页面
func (h *PageHandler) HandlePage(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, sess, "")
}

// HandleUpload 处理表单上传，构建在后台进行
func (h *PageHandler) HandleUpload(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	zipData, err := readArchive(c, h.config.GetMaxUploadSize())
	if err != nil {
		logger.Warn("无效的表单上传",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("session_id", sess.ID),
			zap.Error(err))
		h.render(c, uploadStatus(err), sess, err.Error())
		return
	}

	sess.Load(zipData)
	c.Redirect(http.StatusSeeOther, "/s/"+sess.ID)
}

// HandleActivate 处理文件选中表单
func (h *PageHandler) HandleActivate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := sess.Activate(c.PostForm("path")); err != nil {
		h.render(c, statusForError(err), sess, err.Error())
		return
	}
	c.Redirect(http.StatusSeeOther, "/s/"+sess.ID)
}

// HandleToggle 处理目录展开/折叠表单
func (h *PageHandler) HandleToggle(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := sess.Toggle(c.PostForm("id")); err != nil {
		h.render(c, statusForError(err), sess, err.Error())
		return
	}
	c.Redirect(http.StatusSeeOther, "/s/"+sess.ID)
}

func (h *PageHandler) session(c *gin.Context) (*application.Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.HTML(http.StatusNotFound, "missing.html", nil)
		return nil, false
	}
	return sess, true
}

func (h *PageHandler) render(c *gin.Context, status int, sess *application.Session, notice string) {
	state := sess.State()
	data := pageData{
		SessionID:   sess.ID,
		Phase:       state.Phase.String(),
		Generation:  state.Generation,
		Loading:     state.IsLoading(),
		Failed:      state.Phase == services.PhaseFailed,
		Notice:      notice,
		ActivePath:  state.ActivePath,
		MaxUploadMB: h.config.FileLimits.MaxUploadSize,
	}

	if state.Err != nil {
		data.Error = state.Err.Error()
		var buildErr *services.BuildError
		if errors.As(state.Err, &buildErr) {
			data.ErrorKind = buildErr.Kind.String()
		}
	}

	if state.Phase == services.PhaseReady {
		for rn := range services.Render(state.Tree, services.RenderOptions{
			RootLabel:  h.config.GetRootLabel(),
			Expanded:   state.Expanded,
			ActivePath: state.ActivePath,
		}) {
			data.Nodes = append(data.Nodes, rn)
		}

		if state.ActivePath != "" {
			p, err := h.previews.Render(state.ActivePath, state.ActiveContent)
			if err != nil {
				logger.Warn("预览渲染失败",
					zap.String("session_id", sess.ID),
					zap.String("path", state.ActivePath),
					zap.Error(err))
			} else {
				data.Preview = p
			}
		}
	}

	c.HTML(status, "index.html", data)
}

package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/github"
	"repo-source-web/internal/infrastructure/preview"
	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

// SessionHandler 会话 JSON API 处理器
type SessionHandler struct {
	sessions     *application.SessionService
	previews     *preview.Renderer
	githubClient *github.Client
	config       *config.Config
}

// NewSessionHandler 创建会话 API 处理器实例
func NewSessionHandler(sessions *application.SessionService, previews *preview.Renderer, githubClient *github.Client, cfg *config.Config) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		previews:     previews,
		githubClient: githubClient,
		config:       cfg,
	}
}

// Register 注册 /api/sessions 下的路由
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	rg.POST("", h.HandleCreate)
	rg.DELETE("/:id", h.HandleDelete)
	rg.POST("/:id/archive", h.HandleUploadArchive)
	rg.POST("/:id/github", h.HandleGitHubRepo)
	rg.GET("/:id/state", h.HandleState)
	rg.GET("/:id/tree", h.HandleTree)
	rg.POST("/:id/activate", h.HandleActivate)
	rg.POST("/:id/toggle", h.HandleToggle)
	rg.GET("/:id/preview", h.HandlePreview)
	rg.GET("/:id/ws", h.HandleSocket)
}

type archiveRequest struct {
	ZipData string `json:"zipData" binding:"required"`
}

type githubRequest struct {
	URL   string `json:"url" binding:"required"`
	Ref   string `json:"ref"`
	Token string `json:"token"`
}

type activateRequest struct {
	Path string `json:"path"`
}

type toggleRequest struct {
	ID string `json:"id" binding:"required"`
}

// session 查找路径参数中的会话，不存在时直接写入 404
func (h *SessionHandler) session(c *gin.Context) (*application.Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return sess, true
}

func abortWithError(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// HandleCreate 创建新会话
func (h *SessionHandler) HandleCreate(c *gin.Context) {
	sess := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID})
}

// HandleDelete 删除会话
func (h *SessionHandler) HandleDelete(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleUploadArchive 接收 ZIP 并开始构建目录树
func (h *SessionHandler) HandleUploadArchive(c *gin.Context) {
	requestID := c.GetString("RequestID")
	sess, ok := h.session(c)
	if !ok {
		return
	}

	zipData, err := readArchive(c, h.config.GetMaxUploadSize())
	if err != nil {
		logger.Warn("无效的上传请求",
			zap.String("request_id", requestID),
			zap.String("session_id", sess.ID),
			zap.Error(err))
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	logger.Info("接收到 ZIP 上传",
		zap.String("request_id", requestID),
		zap.String("session_id", sess.ID),
		zap.Int("encoded_size", len(zipData)))

	h.respondLoad(c, sess, sess.Load(zipData))
}

// HandleGitHubRepo 下载 GitHub 仓库快照并开始构建目录树
func (h *SessionHandler) HandleGitHubRepo(c *gin.Context) {
	requestID := c.GetString("RequestID")
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req githubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请提供 GitHub 仓库 URL", "details": err.Error()})
		return
	}
	owner, repo, err := github.ParseRepoURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	zipData, err := h.githubClient.FetchArchive(c.Request.Context(), owner, repo, req.Ref, req.Token)
	if err != nil {
		logger.Warn("获取 GitHub 仓库失败",
			zap.String("request_id", requestID),
			zap.String("session_id", sess.ID),
			zap.String("repo", owner+"/"+repo),
			zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, github.ErrRepoNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.respondLoad(c, sess, sess.Load(zipData))
}

// respondLoad 返回加载状态；wait=true 时等待构建结束
func (h *SessionHandler) respondLoad(c *gin.Context, sess *application.Session, done <-chan struct{}) {
	if c.DefaultQuery("wait", "false") != "true" {
		c.JSON(http.StatusAccepted, newStateMsg(sess.ID, sess.State()))
		return
	}

	select {
	case <-done:
	case <-c.Request.Context().Done():
		return
	}

	state := sess.State()
	msg := newStateMsg(sess.ID, state)
	switch {
	case state.Phase == services.PhaseFailed:
		c.JSON(statusForError(state.Err), msg)
	case state.IsLoading():
		// 已被更新的上传取代
		c.JSON(http.StatusAccepted, msg)
	default:
		c.JSON(http.StatusOK, msg)
	}
}

// errUploadTooLarge 表示请求体超过上传限制
var errUploadTooLarge = errors.New("上传内容超过大小限制")

// uploadBodyLimit 返回请求体上限：base64 编码后的归档大小，加上换行、data URL 前缀与表单开销
func uploadBodyLimit(maxSize int64) int64 {
	encoded := int64(base64.StdEncoding.EncodedLen(int(maxSize)))
	return encoded + encoded/64 + 64*1024
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || (err != nil && strings.Contains(err.Error(), "request body too large"))
}

// uploadStatus 将读取上传内容的错误映射为 HTTP 状态码
func uploadStatus(err error) int {
	if errors.Is(err, errUploadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// readArchive 读取 JSON 中的 base64 数据或 multipart 字段 codeZip。
// 请求体在解析前即被限制大小，超限时返回 errUploadTooLarge。
func readArchive(c *gin.Context, maxSize int64) (string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, uploadBodyLimit(maxSize))

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("codeZip")
		if isBodyTooLarge(err) {
			return "", errUploadTooLarge
		}
		if err != nil {
			return "", fmt.Errorf("请上传 ZIP 文件: %w", err)
		}
		if file.Size > maxSize {
			return "", fmt.Errorf("%w: %d > %d", errUploadTooLarge, file.Size, maxSize)
		}
		f, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("无法读取上传文件: %w", err)
		}
		defer f.Close()

		var buf bytes.Buffer
		enc := base64.NewEncoder(base64.StdEncoding, &buf)
		if _, err := io.Copy(enc, f); err != nil {
			return "", fmt.Errorf("无法读取上传文件: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			return "", errUploadTooLarge
		}
		return "", fmt.Errorf("无效的请求参数: %w", err)
	}
	return req.ZipData, nil
}

// HandleState 返回会话的选择状态
func (h *SessionHandler) HandleState(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newStateMsg(sess.ID, sess.State()))
}

// HandleTree 返回当前可见的节点；format=text 返回树形文本，format=full 返回完整嵌套树
func (h *SessionHandler) HandleTree(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	state := sess.State()
	if state.Phase != services.PhaseReady {
		abortWithError(c, services.ErrNotReady)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "text":
		var buf bytes.Buffer
		buf.WriteString(h.config.GetRootLabel() + "\n")
		state.Tree.Print(&buf, "", true)
		c.String(http.StatusOK, buf.String())
		return
	case "full":
		// 完整树，忽略展开状态
		c.JSON(http.StatusOK, gin.H{"root": h.config.GetRootLabel(), "tree": state.Tree})
		return
	}

	nodes := []services.RenderNode{}
	for rn := range services.Render(state.Tree, services.RenderOptions{
		RootLabel:  h.config.GetRootLabel(),
		Expanded:   state.Expanded,
		ActivePath: state.ActivePath,
	}) {
		nodes = append(nodes, rn)
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

// HandleActivate 选中文件
func (h *SessionHandler) HandleActivate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数", "details": err.Error()})
		return
	}

	state, err := sess.Activate(req.Path)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateMsg(sess.ID, state))
}

// HandleToggle 展开或折叠目录
func (h *SessionHandler) HandleToggle(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数", "details": err.Error()})
		return
	}

	state, err := sess.Toggle(req.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateMsg(sess.ID, state))
}

// HandlePreview 返回当前选中文件的高亮 HTML
func (h *SessionHandler) HandlePreview(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	state := sess.State()
	if state.Phase != services.PhaseReady {
		abortWithError(c, services.ErrNotReady)
		return
	}
	if state.ActivePath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "未选中文件"})
		return
	}

	p, err := h.previews.Render(state.ActivePath, state.ActiveContent)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

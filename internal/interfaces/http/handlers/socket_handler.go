package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/metrics"
	"repo-source-web/internal/watch"
	"repo-source-web/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// stateSocket pushes every new state of one session to one websocket client.
type stateSocket struct {
	session   *application.Session
	requestID string
	socket    *websocket.Conn
	watch     *watch.Watch[services.State]
	ctx       context.Context
	shutdown  context.CancelCauseFunc
	waitGroup sync.WaitGroup
}

// HandleSocket 通过 websocket 推送会话状态
func (h *SessionHandler) HandleSocket(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	ctx, shutdown := context.WithCancelCause(c.Request.Context())
	ss := &stateSocket{
		session:   sess,
		requestID: c.GetString("RequestID"),
		ctx:       ctx,
		shutdown:  shutdown,
	}
	ss.serve(c.Writer, c.Request)
}

func (ss *stateSocket) serve(w http.ResponseWriter, r *http.Request) {
	var err error
	ss.socket, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket 升级失败",
			zap.String("request_id", ss.requestID),
			zap.Error(err))
		return
	}
	defer ss.socket.Close()

	metrics.SocketOpened()
	logger.Debug("websocket 连接建立",
		zap.String("request_id", ss.requestID),
		zap.String("session_id", ss.session.ID))
	defer func() {
		ss.waitForCleanup()
		metrics.SocketClosed()
		logger.Debug("websocket 连接关闭",
			zap.String("request_id", ss.requestID),
			zap.String("session_id", ss.session.ID),
			zap.NamedError("cause", context.Cause(ss.ctx)))
	}()

	ss.waitGroup.Add(1)
	go func() {
		defer ss.waitGroup.Done()
		ss.drainClient()
	}()

	ss.watch = ss.session.Watch(ss.sendState)
	defer ss.watch.Cancel()

	<-ss.ctx.Done()
}

func (ss *stateSocket) sendState(s services.State) {
	if err := ss.socket.WriteJSON(newStateMsg(ss.session.ID, s)); err != nil {
		ss.shutdown(err)
	}
}

// drainClient reads and discards client frames so control messages are
// processed; a read error ends the connection.
func (ss *stateSocket) drainClient() {
	for {
		if _, _, err := ss.socket.NextReader(); err != nil {
			ss.shutdown(err)
			return
		}
	}
}

func (ss *stateSocket) waitForCleanup() {
	if ss.watch != nil {
		ss.watch.Cancel()
		ss.watch.Wait()
	}
	ss.socket.Close()
	ss.waitGroup.Wait()
}

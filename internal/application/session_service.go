package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repo-source-web/internal/domain/models"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/metrics"
	"repo-source-web/internal/watch"
	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Session holds the single active archive of one viewer. A new load
// supersedes the one in flight.
type Session struct {
	ID string

	builder     *services.TreeBuilder
	defaultFile string
	baseCtx     context.Context

	mu         sync.Mutex
	state      services.State
	generation uint64
	cancel     context.CancelFunc
	lastActive time.Time

	value *watch.Value[services.State]
}

// State returns the latest published state.
func (s *Session) State() services.State {
	return s.value.Get()
}

// Watch calls handle with the current state and every later one.
func (s *Session) Watch(handle func(services.State)) *watch.Watch[services.State] {
	return s.value.Watch(handle)
}

// Load starts building zipData in the background and returns a channel that
// is closed once that build has settled. Any build still in flight is
// canceled and its result discarded.
func (s *Session) Load(zipData string) <-chan struct{} {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.lastActive = time.Now()
	if _, err := s.dispatchLocked(services.LoadStarted{Generation: gen}); err != nil {
		logger.Error("无法开始加载", zap.String("session_id", s.ID), zap.Error(err))
	}
	s.mu.Unlock()

	logger.Info("开始构建目录树",
		zap.String("session_id", s.ID),
		zap.Uint64("generation", gen),
		zap.Int("archive_size", len(zipData)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()

		start := time.Now()
		tree, err := s.builder.Load(ctx, zipData)
		s.finish(gen, tree, err, time.Since(start))
	}()
	return done
}

func (s *Session) finish(gen uint64, tree *models.TreeNode, buildErr error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if buildErr != nil {
		_, err = s.dispatchLocked(services.LoadFailed{Generation: gen, Err: buildErr})
	} else {
		_, err = s.dispatchLocked(services.LoadSucceeded{Generation: gen, Tree: tree, DefaultFile: s.defaultFile})
	}

	fields := []zap.Field{
		zap.String("session_id", s.ID),
		zap.Uint64("generation", gen),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case errors.Is(err, services.ErrStaleGeneration):
		logger.Debug("丢弃过期的构建结果", fields...)
		metrics.RecordBuild("superseded", elapsed)
	case buildErr != nil:
		logger.Warn("目录树构建失败", append(fields, zap.Error(buildErr))...)
		metrics.RecordBuild(faultLabel(buildErr), elapsed)
	default:
		nodes := countNodes(tree)
		logger.Info("目录树构建成功", append(fields, zap.Int("nodes", nodes))...)
		metrics.RecordBuild("success", elapsed)
		metrics.RecordTreeSize(nodes)
	}
}

// Activate selects the file at path.
func (s *Session) Activate(path string) (services.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = time.Now()
	next, err := s.dispatchLocked(services.LeafActivated{Path: path})
	if err == nil {
		metrics.RecordActivation()
	}
	return next, err
}

// Toggle expands or collapses the directory with the given node ID.
func (s *Session) Toggle(id string) (services.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = time.Now()
	return s.dispatchLocked(services.NodeToggled{ID: id})
}

// Reset cancels any build in flight and returns the session to Idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.dispatchLocked(services.Reset{})
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) dispatchLocked(a services.Action) (services.State, error) {
	next, err := services.Reduce(s.state, a)
	if err != nil {
		return s.state, err
	}
	s.state = next
	s.value.Set(next)
	return next, nil
}

// SessionService 管理所有查看会话
type SessionService struct {
	builder *services.TreeBuilder
	config  *config.Config

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService 创建会话服务实例，并启动过期会话清理任务
func NewSessionService(builder *services.TreeBuilder, cfg *config.Config) *SessionService {
	ctx, stop := context.WithCancel(context.Background())
	svc := &SessionService{
		builder:  builder,
		config:   cfg,
		ctx:      ctx,
		stop:     stop,
		sessions: make(map[string]*Session),
	}

	go svc.cleanupExpiredSessions()

	return svc
}

// Create 创建新的会话
func (svc *SessionService) Create() *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		builder:     svc.builder,
		defaultFile: svc.config.GetDefaultFile(),
		baseCtx:     svc.ctx,
		lastActive:  time.Now(),
		value:       watch.NewValue(services.State{}),
	}

	svc.mu.Lock()
	svc.sessions[sess.ID] = sess
	count := len(svc.sessions)
	svc.mu.Unlock()

	metrics.SetSessionsActive(count)
	logger.Debug("创建会话", zap.String("session_id", sess.ID))
	return sess
}

// Get 返回指定的会话
func (svc *SessionService) Get(id string) (*Session, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	sess, ok := svc.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete 删除会话并取消其正在进行的构建
func (svc *SessionService) Delete(id string) error {
	svc.mu.Lock()
	sess, ok := svc.sessions[id]
	delete(svc.sessions, id)
	count := len(svc.sessions)
	svc.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Reset()
	metrics.SetSessionsActive(count)
	return nil
}

// Len 返回当前会话数量
func (svc *SessionService) Len() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.sessions)
}

// Close 停止清理任务并取消所有正在进行的构建
func (svc *SessionService) Close() {
	svc.stop()
}

// cleanupExpiredSessions 定期清理过期会话
func (svc *SessionService) cleanupExpiredSessions() {
	ticker := time.NewTicker(svc.config.GetCleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-svc.ctx.Done():
			return
		case now := <-ticker.C:
			if n := svc.removeExpired(now); n > 0 {
				logger.Info("清理过期会话", zap.Int("count", n))
			}
		}
	}
}

func (svc *SessionService) removeExpired(now time.Time) int {
	ttl := svc.config.GetSessionTTL()

	svc.mu.Lock()
	var expired []*Session
	for id, sess := range svc.sessions {
		if now.Sub(sess.idleSince()) > ttl {
			expired = append(expired, sess)
			delete(svc.sessions, id)
		}
	}
	count := len(svc.sessions)
	svc.mu.Unlock()

	for _, sess := range expired {
		sess.Reset()
		logger.Debug("清理过期会话", zap.String("session_id", sess.ID))
	}
	metrics.SetSessionsActive(count)
	return len(expired)
}

func faultLabel(err error) string {
	var buildErr *services.BuildError
	if errors.As(err, &buildErr) {
		if errors.Is(err, context.Canceled) {
			return "superseded"
		}
		return buildErr.Kind.String()
	}
	return "error"
}

func countNodes(tree *models.TreeNode) int {
	n := 0
	tree.Walk(func(string, int, *models.TreeNode) bool {
		n++
		return true
	})
	return n
}

// Package api 提供会话 HTTP 服务: 会话生命周期、事件推送 (SSE/WS)、
// 消息受理与服务端渲染导出。
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mathchat/go-chat-v2/internal/model"
	"github.com/mathchat/go-chat-v2/internal/session"
)

// Conversation 会话的模型侧对话。*model.Conversation 满足该接口。
type Conversation interface {
	Answer(ctx context.Context, userText string, sink model.ToolCallSink) (string, error)
	Reset()
}

// Options api.Server 配置。
type Options struct {
	AllowedOrigin string
	SSEKeepalive  time.Duration
	AnswerTimeout time.Duration
}

// Server 会话 HTTP 服务。
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	opts     Options

	// newConversation 为每个会话派生模型对话。
	newConversation func() Conversation

	convMu sync.Mutex
	convs  map[string]Conversation
}

// NewServer 创建会话服务。
func NewServer(sessions *session.Manager, newConversation func() Conversation, opts Options) *Server {
	if opts.SSEKeepalive <= 0 {
		opts.SSEKeepalive = 30 * time.Second
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 120 * time.Second
	}
	r := gin.Default()
	s := &Server{
		router:          r,
		sessions:        sessions,
		opts:            opts,
		newConversation: newConversation,
		convs:           make(map[string]Conversation),
	}
	sessions.SetRemoveHook(s.dropConversation)
	r.Use(s.corsMiddleware())
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	g := s.router.Group("/api/session")
	g.POST("", s.createSessionHandler)
	g.POST("/:id/reset", s.resetHandler)
	g.POST("/:id/message", s.messageHandler)
	g.GET("/:id/events", s.sseHandler)
	g.GET("/:id/ws", s.wsHandler)
	g.GET("/:id/transcript", s.transcriptHandler)
}

// conversation 取会话对应的模型对话, 不存在则派生。
func (s *Server) conversation(sessionID string) Conversation {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	conv, ok := s.convs[sessionID]
	if !ok {
		conv = s.newConversation()
		s.convs[sessionID] = conv
	}
	return conv
}

func (s *Server) dropConversation(sessionID string) {
	s.convMu.Lock()
	delete(s.convs, sessionID)
	s.convMu.Unlock()
}

// corsMiddleware 单源 CORS (本地前端开发)。
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AllowedOrigin != "" {
			c.Header("Access-Control-Allow-Origin", s.opts.AllowedOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

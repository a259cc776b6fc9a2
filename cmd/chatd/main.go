// cmd/chatd — 会话服务入口。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mathchat/go-chat-v2/internal/api"
	"github.com/mathchat/go-chat-v2/internal/config"
	"github.com/mathchat/go-chat-v2/internal/mcpx"
	"github.com/mathchat/go-chat-v2/internal/model"
	"github.com/mathchat/go-chat-v2/internal/session"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

// defaultSystemPrompt 在 SYSTEM_PROMPT_PATH 缺失时兜底。
const defaultSystemPrompt = "You are a helpful assistant. Use the available tools for any arithmetic instead of computing yourself. Answers may use markdown."

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config.LoadDotenv()
	cfg := config.Load()

	logger.Init(cfg.AppEnv)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("chatd: file logging unavailable", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	if cfg.OpenAIAPIKey == "" {
		logger.Fatal("chatd: OPENAI_API_KEY is required")
	}

	// MCP 工具目录。
	serverCfgs, err := mcpx.LoadServers(cfg.MCPServersPath)
	if err != nil {
		logger.Fatal("chatd: load MCP manifest failed", logger.FieldError, err)
	}
	mcpClient, err := mcpx.Connect(ctx, serverCfgs, time.Duration(cfg.MCPTimeoutSec)*time.Second)
	if err != nil {
		logger.Fatal("chatd: MCP connect failed", logger.FieldError, err)
	}
	defer mcpClient.Close()
	if err := mcpClient.PingAll(ctx); err != nil {
		logger.Fatal("chatd: MCP ping failed", logger.FieldError, err)
	}

	// 模型桥。
	bridge, err := model.NewBridge(model.Options{
		Model:        cfg.LLMModel,
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Temperature:  cfg.LLMTemperature,
		SystemPrompt: loadSystemPrompt(cfg.SystemPromptPath),
	}, mcpClient)
	if err != nil {
		logger.Fatal("chatd: model bridge init failed", logger.FieldError, err)
	}

	// 会话注册表 + TTL 回收。
	sessions := session.NewManager(
		time.Duration(cfg.SessionTTLMin)*time.Minute,
		time.Duration(cfg.SessionGCSec)*time.Second,
		cfg.SessionQueueSize,
	)

	srv := api.NewServer(sessions, func() api.Conversation { return bridge.NewConversation() }, api.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		SSEKeepalive:  time.Duration(cfg.SSEKeepaliveSec) * time.Second,
		AnswerTimeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})
	sessions.StartGC(ctx)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Engine(),
	}
	util.SafeGo(func() {
		<-ctx.Done()
		logger.Info("chatd: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("chatd: listening",
		logger.FieldAddr, cfg.ListenAddr,
		logger.FieldCount, bridge.ToolCount(),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("chatd: server failed", logger.FieldError, err)
	}
}

func loadSystemPrompt(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("chatd: system prompt file missing, using default", logger.FieldPath, path)
		return defaultSystemPrompt
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}

// cmd/mathmcp — 四则运算 MCP 服务器入口 (streamable HTTP)。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Init(util.EnvStr("APP_ENV", "production"))
	addr := util.EnvStr("MATHMCP_LISTEN_ADDR", "127.0.0.1:8000")

	mcpServer := newMathServer()
	httpServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	util.SafeGo(func() {
		<-ctx.Done()
		logger.Info("mathmcp: shutting down")
		_ = httpServer.Shutdown(context.Background())
	})

	logger.Info("mathmcp: listening", logger.FieldAddr, addr)
	if err := httpServer.Start(addr); err != nil {
		logger.Fatal("mathmcp: server failed", logger.FieldError, err)
	}
}

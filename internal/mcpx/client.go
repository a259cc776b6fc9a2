// client.go — 多服务器 MCP 客户端 (streamable HTTP)。
//
// 连接清单中的每个服务器, 汇总它们的工具目录, 并以全限定名
// <server>.<tool> 路由调用。
package mcpx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// ToolRecord 汇总目录中的一个工具。
type ToolRecord struct {
	FQN         string
	Server      string
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
}

// CallOutcome 一次工具调用的结果。
type CallOutcome struct {
	// Data 结果的 JSON 形式: 优先取 structured content, 否则尽力
	// 把文本内容解释为 JSON 标量。
	Data              json.RawMessage
	StructuredContent any
	IsError           bool
	ContentText       string
}

// MultiClient 持有到所有已配置 MCP 服务器的连接。
type MultiClient struct {
	timeout time.Duration
	clients map[string]*client.Client
	tools   []ToolRecord
}

// Connect 连接清单中的全部服务器并完成 initialize 握手。
// 任何一个服务器失败都整体失败 — 目录不完整时宁可不启动。
func Connect(ctx context.Context, cfgs []ServerConfig, timeout time.Duration) (*MultiClient, error) {
	mc := &MultiClient{
		timeout: timeout,
		clients: make(map[string]*client.Client, len(cfgs)),
	}
	for _, cfg := range cfgs {
		if _, dup := mc.clients[cfg.Name]; dup {
			mc.Close()
			return nil, apperrors.Newf("mcpx.Connect", "duplicate server name %q", cfg.Name)
		}
		c, err := mc.connectOne(ctx, cfg)
		if err != nil {
			mc.Close()
			return nil, err
		}
		mc.clients[cfg.Name] = c
	}
	if err := mc.refreshCatalog(ctx, cfgs); err != nil {
		mc.Close()
		return nil, err
	}
	return mc, nil
}

func (m *MultiClient) connectOne(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	var opts []transport.StreamableHTTPCOption
	if len(cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
	}
	c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "mcpx.connectOne", "server %s", cfg.Name)
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := c.Start(cctx); err != nil {
		return nil, apperrors.Wrapf(err, "mcpx.connectOne", "server %s: start transport", cfg.Name)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "go-chat-v2", Version: "2.0.0"}
	if _, err := c.Initialize(cctx, initReq); err != nil {
		return nil, apperrors.Wrapf(err, "mcpx.connectOne", "server %s: initialize", cfg.Name)
	}

	logger.Info("mcpx: server connected",
		logger.FieldServerName, cfg.Name,
		logger.FieldURL, cfg.URL,
	)
	return c, nil
}

// refreshCatalog 按清单声明顺序汇总各服务器的工具目录。
func (m *MultiClient) refreshCatalog(ctx context.Context, cfgs []ServerConfig) error {
	var tools []ToolRecord
	for _, cfg := range cfgs {
		c := m.clients[cfg.Name]
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		res, err := c.ListTools(cctx, mcp.ListToolsRequest{})
		cancel()
		if err != nil {
			return apperrors.Wrapf(err, "mcpx.refreshCatalog", "server %s: list tools", cfg.Name)
		}
		for _, t := range res.Tools {
			tools = append(tools, ToolRecord{
				FQN:         cfg.Name + "." + t.Name,
				Server:      cfg.Name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		logger.Info("mcpx: tools listed",
			logger.FieldServerName, cfg.Name,
			logger.FieldCount, len(res.Tools),
		)
	}
	m.tools = tools
	return nil
}

// Tools 汇总工具目录 (连接时快照)。
func (m *MultiClient) Tools() []ToolRecord {
	out := make([]ToolRecord, len(m.tools))
	copy(out, m.tools)
	return out
}

// PingAll 探活所有服务器。
func (m *MultiClient) PingAll(ctx context.Context) error {
	for name, c := range m.clients {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.Ping(cctx)
		cancel()
		if err != nil {
			return apperrors.Wrapf(err, "mcpx.PingAll", "server %s", name)
		}
	}
	return nil
}

// CallTool 按全限定名调用工具。
// 工具自身报告的失败 (IsError) 不是 Go error — 它是结果的一部分。
func (m *MultiClient) CallTool(ctx context.Context, fqn string, args map[string]any) (CallOutcome, error) {
	server, tool, err := SplitFQN(fqn)
	if err != nil {
		return CallOutcome{}, err
	}
	c, ok := m.clients[server]
	if !ok {
		return CallOutcome{}, apperrors.Wrapf(apperrors.ErrNotFound, "mcpx.CallTool",
			"unknown server %q in %q", server, fqn)
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := c.CallTool(cctx, req)
	if err != nil {
		return CallOutcome{}, apperrors.Wrapf(err, "mcpx.CallTool", "call %s", fqn)
	}
	return outcomeFromResult(res), nil
}

func outcomeFromResult(res *mcp.CallToolResult) CallOutcome {
	out := CallOutcome{
		IsError:           res.IsError,
		StructuredContent: res.StructuredContent,
		ContentText:       contentText(res.Content),
	}
	out.Data = outcomeData(out)
	return out
}

// contentText 拼接所有文本内容块。
func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// outcomeData 把结果规整成 JSON: structured content 优先, 其次把文本
// 当 JSON 解析 (数字/布尔等标量), 最后退化为 JSON 字符串。
func outcomeData(out CallOutcome) json.RawMessage {
	if out.StructuredContent != nil {
		if raw, err := json.Marshal(out.StructuredContent); err == nil {
			return raw
		}
	}
	text := strings.TrimSpace(out.ContentText)
	if text == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	raw, _ := json.Marshal(text)
	return raw
}

// Close 断开全部连接。
func (m *MultiClient) Close() {
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			logger.Debug("mcpx: close client", logger.FieldServerName, name, logger.FieldError, err)
		}
	}
}

// Package model 桥接 LLM 与 MCP 工具目录。
//
// Bridge 持有共享的模型句柄与工具声明; 每个会话从它派生一个
// Conversation, 各自维护多轮历史。工具经 OpenAI 函数调用协议暴露,
// 函数名由全限定名 <server>.<tool> 改写而来 (函数名字符集不含 '.')。
package model

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mathchat/go-chat-v2/internal/mcpx"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// maxToolRounds 单条用户消息内工具迭代上限, 防止模型循环调用。
const maxToolRounds = 6

// ContentGenerator 模型后端。*openai.LLM 满足该接口; 测试注入假实现。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ToolInvoker 工具后端。*mcpx.MultiClient 满足该接口。
type ToolInvoker interface {
	Tools() []mcpx.ToolRecord
	CallTool(ctx context.Context, fqn string, args map[string]any) (mcpx.CallOutcome, error)
}

// ToolCallSink 接收工具调用的进度通知 (事件流的来源)。
type ToolCallSink interface {
	ToolStarted(callID string, rec mcpx.ToolRecord, args map[string]any)
	ToolFinished(callID string, outcome mcpx.CallOutcome)
}

// Options Bridge 配置。
type Options struct {
	Model        string
	APIKey       string
	BaseURL      string
	Temperature  float64
	SystemPrompt string
}

// Bridge LLM 与工具目录的共享桥。
type Bridge struct {
	llm         ContentGenerator
	invoker     ToolInvoker
	temperature float64
	system      string

	decls  []llms.Tool
	byWire map[string]mcpx.ToolRecord
}

// NewBridge 用 OpenAI 兼容后端创建 Bridge。
func NewBridge(opts Options, invoker ToolInvoker) (*Bridge, error) {
	var llmOpts []openai.Option
	llmOpts = append(llmOpts, openai.WithModel(opts.Model), openai.WithToken(opts.APIKey))
	if opts.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(opts.BaseURL))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, "model.NewBridge", "init llm client")
	}
	return newBridge(llm, invoker, opts), nil
}

// newBridge 供测试注入任意 ContentGenerator。
func newBridge(llm ContentGenerator, invoker ToolInvoker, opts Options) *Bridge {
	b := &Bridge{
		llm:         llm,
		invoker:     invoker,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
	}
	b.buildDeclarations()
	return b
}

// buildDeclarations 把工具目录改写为 OpenAI 函数声明。
func (b *Bridge) buildDeclarations() {
	records := b.invoker.Tools()
	b.byWire = make(map[string]mcpx.ToolRecord, len(records))
	b.decls = make([]llms.Tool, 0, len(records))
	for _, rec := range records {
		wire := wireName(rec.FQN)
		for _, taken := b.byWire[wire]; taken; _, taken = b.byWire[wire] {
			wire += "_2"
		}
		b.byWire[wire] = rec
		b.decls = append(b.decls, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        wire,
				Description: rec.Description,
				Parameters:  rec.InputSchema,
			},
		})
	}
	logger.Info("model: tool declarations built", logger.FieldCount, len(b.decls))
}

// wireName 把 FQN 改写进函数名字符集 ('.' → "__")。
func wireName(fqn string) string {
	return strings.ReplaceAll(fqn, ".", "__")
}

// resolveWire 反查函数名对应的工具。
func (b *Bridge) resolveWire(name string) (mcpx.ToolRecord, bool) {
	rec, ok := b.byWire[name]
	return rec, ok
}

// ToolCount 已声明工具数。
func (b *Bridge) ToolCount() int { return len(b.decls) }

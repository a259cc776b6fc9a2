// conversation.go — 单会话的多轮对话与工具循环。
package model

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/mathchat/go-chat-v2/internal/mcpx"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// Conversation 一个会话的模型侧状态。并发调用 Answer 会串行执行。
type Conversation struct {
	bridge *Bridge

	mu      sync.Mutex
	history []llms.MessageContent
}

// NewConversation 派生一个空历史的会话对话。
func (b *Bridge) NewConversation() *Conversation {
	return &Conversation{bridge: b}
}

// Reset 清空对话历史。
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// Answer 处理一条用户消息: 驱动模型与工具循环直到拿到最终文本回答。
// 每次工具调用都先通过 sink 通知 started, 执行后通知 finished。
func (c *Conversation) Answer(ctx context.Context, userText string, sink ToolCallSink) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bridge
	c.history = append(c.history, llms.TextParts(llms.ChatMessageTypeHuman, userText))

	messages := make([]llms.MessageContent, 0, len(c.history)+1)
	if b.system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, b.system))
	}
	messages = append(messages, c.history...)

	callOpts := []llms.CallOption{llms.WithTemperature(b.temperature)}
	if len(b.decls) > 0 {
		callOpts = append(callOpts, llms.WithTools(b.decls))
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := b.llm.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return "", apperrors.Wrap(err, "model.Answer", "llm request")
		}
		if len(resp.Choices) == 0 {
			return "", apperrors.New("model.Answer", "empty response from llm")
		}
		choice := resp.Choices[0]

		// 无工具调用 → 最终回答。
		if len(choice.ToolCalls) == 0 {
			answer := choice.Content
			c.history = append(c.history, llms.TextParts(llms.ChatMessageTypeAI, answer))
			return answer, nil
		}

		// 把助手的工具调用消息纳入上下文。
		parts := make([]llms.ContentPart, 0, len(choice.ToolCalls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextPart(choice.Content))
		}
		for _, tc := range choice.ToolCalls {
			parts = append(parts, tc)
		}
		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
		messages = append(messages, assistant)
		c.history = append(c.history, assistant)

		// 逐个执行。有些模型会在一次响应里重复同一 tool_call id — 去重。
		seen := make(map[string]bool, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil || seen[tc.ID] {
				continue
			}
			seen[tc.ID] = true

			result := c.execute(ctx, tc, sink)
			toolMsg := llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			}
			messages = append(messages, toolMsg)
			c.history = append(c.history, toolMsg)
		}
	}

	return "", apperrors.Newf("model.Answer", "no final answer after %d tool rounds", maxToolRounds)
}

// execute 执行单个工具调用并通知 sink, 返回回填给模型的文本。
func (c *Conversation) execute(ctx context.Context, tc llms.ToolCall, sink ToolCallSink) string {
	b := c.bridge
	callID := uuid.NewString()

	rec, known := b.resolveWire(tc.FunctionCall.Name)
	if !known {
		// 模型幻觉出的工具名: 仍然走 started/finished, 客户端可见。
		rec = mcpx.ToolRecord{FQN: tc.FunctionCall.Name, Name: tc.FunctionCall.Name}
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(tc.FunctionCall.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			logger.Warn("model: malformed tool arguments",
				logger.FieldToolName, rec.FQN,
				logger.FieldError, err,
			)
		}
	}

	sink.ToolStarted(callID, rec, args)
	logger.Info("model: tool call dispatched",
		logger.FieldCallID, callID,
		logger.FieldToolName, rec.FQN,
	)

	var outcome mcpx.CallOutcome
	switch {
	case !known:
		outcome = mcpx.CallOutcome{
			IsError:     true,
			ContentText: "Unknown tool: " + tc.FunctionCall.Name,
			Data:        json.RawMessage("null"),
		}
	default:
		var err error
		outcome, err = b.invoker.CallTool(ctx, rec.FQN, args)
		if err != nil {
			outcome = mcpx.CallOutcome{
				IsError:     true,
				ContentText: err.Error(),
				Data:        json.RawMessage("null"),
			}
		}
	}
	sink.ToolFinished(callID, outcome)

	if outcome.IsError {
		logger.Warn("model: tool call failed",
			logger.FieldCallID, callID,
			logger.FieldToolName, rec.FQN,
			logger.FieldError, outcome.ContentText,
		)
		return "Error: " + outcome.ContentText
	}
	if outcome.ContentText != "" {
		return outcome.ContentText
	}
	return string(outcome.Data)
}

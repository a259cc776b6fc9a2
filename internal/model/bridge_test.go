package model

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/mathchat/go-chat-v2/internal/mcpx"
)

// fakeLLM 按脚本依次返回响应, 并记录每次收到的消息。
type fakeLLM struct {
	script []*llms.ContentResponse
	calls  [][]llms.MessageContent
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls = append(f.calls, messages)
	if len(f.script) == 0 {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "fallback"}}}, nil
	}
	resp := f.script[0]
	f.script = f.script[1:]
	return resp, nil
}

type fakeInvoker struct {
	records  []mcpx.ToolRecord
	outcome  mcpx.CallOutcome
	lastFQN  string
	lastArgs map[string]any
}

func (f *fakeInvoker) Tools() []mcpx.ToolRecord { return f.records }

func (f *fakeInvoker) CallTool(_ context.Context, fqn string, args map[string]any) (mcpx.CallOutcome, error) {
	f.lastFQN = fqn
	f.lastArgs = args
	return f.outcome, nil
}

type recordedCall struct {
	callID  string
	fqn     string
	args    map[string]any
	outcome mcpx.CallOutcome
	done    bool
}

type recordingSink struct {
	calls []recordedCall
}

func (s *recordingSink) ToolStarted(callID string, rec mcpx.ToolRecord, args map[string]any) {
	s.calls = append(s.calls, recordedCall{callID: callID, fqn: rec.FQN, args: args})
}

func (s *recordingSink) ToolFinished(callID string, outcome mcpx.CallOutcome) {
	for i := range s.calls {
		if s.calls[i].callID == callID {
			s.calls[i].outcome = outcome
			s.calls[i].done = true
		}
	}
}

func mathAddRecord() mcpx.ToolRecord {
	return mcpx.ToolRecord{FQN: "math.add", Server: "math", Name: "add", Description: "Add two numbers"}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

func TestAnswerWithoutToolCalls(t *testing.T) {
	llm := &fakeLLM{script: []*llms.ContentResponse{textResponse("hello")}}
	inv := &fakeInvoker{records: []mcpx.ToolRecord{mathAddRecord()}}
	b := newBridge(llm, inv, Options{SystemPrompt: "be brief"})

	sink := &recordingSink{}
	got, err := b.NewConversation().Answer(context.Background(), "hi", sink)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "hello" {
		t.Fatalf("answer = %q", got)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("unexpected tool calls: %+v", sink.calls)
	}
	// system prompt 在每次请求里领头。
	first := llm.calls[0]
	if first[0].Role != llms.ChatMessageTypeSystem {
		t.Fatalf("first message role = %v", first[0].Role)
	}
}

func TestAnswerRunsToolRound(t *testing.T) {
	llm := &fakeLLM{script: []*llms.ContentResponse{
		toolCallResponse("tc-1", "math__add", `{"a":2,"b":2}`),
		textResponse("the answer is **4**"),
	}}
	inv := &fakeInvoker{
		records: []mcpx.ToolRecord{mathAddRecord()},
		outcome: mcpx.CallOutcome{ContentText: "4", Data: json.RawMessage("4")},
	}
	b := newBridge(llm, inv, Options{})

	sink := &recordingSink{}
	got, err := b.NewConversation().Answer(context.Background(), "what is 2+2", sink)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "the answer is **4**" {
		t.Fatalf("answer = %q", got)
	}

	if inv.lastFQN != "math.add" {
		t.Fatalf("invoked %q, want math.add", inv.lastFQN)
	}
	if inv.lastArgs["a"] != 2.0 || inv.lastArgs["b"] != 2.0 {
		t.Fatalf("args = %v", inv.lastArgs)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("sink calls = %d, want 1", len(sink.calls))
	}
	call := sink.calls[0]
	if call.fqn != "math.add" || !call.done || call.outcome.IsError {
		t.Fatalf("call = %+v", call)
	}
	if call.callID == "" || call.callID == "tc-1" {
		t.Fatalf("callID should be freshly generated, got %q", call.callID)
	}

	// 第二次请求包含工具响应消息。
	second := llm.calls[1]
	last := second[len(second)-1]
	if last.Role != llms.ChatMessageTypeTool {
		t.Fatalf("last message role = %v", last.Role)
	}
}

func TestAnswerReportsToolError(t *testing.T) {
	llm := &fakeLLM{script: []*llms.ContentResponse{
		toolCallResponse("tc-1", "math__divide", `{"a":1,"b":0}`),
		textResponse("cannot divide by zero"),
	}}
	inv := &fakeInvoker{
		records: []mcpx.ToolRecord{{FQN: "math.divide", Server: "math", Name: "divide"}},
		outcome: mcpx.CallOutcome{IsError: true, ContentText: "Division by zero is not allowed."},
	}
	b := newBridge(llm, inv, Options{})

	sink := &recordingSink{}
	if _, err := b.NewConversation().Answer(context.Background(), "1/0", sink); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	call := sink.calls[0]
	if !call.outcome.IsError || call.outcome.ContentText != "Division by zero is not allowed." {
		t.Fatalf("outcome = %+v", call.outcome)
	}
}

func TestAnswerHandlesUnknownToolName(t *testing.T) {
	llm := &fakeLLM{script: []*llms.ContentResponse{
		toolCallResponse("tc-1", "math__imaginary", `{}`),
		textResponse("sorry"),
	}}
	inv := &fakeInvoker{records: []mcpx.ToolRecord{mathAddRecord()}}
	b := newBridge(llm, inv, Options{})

	sink := &recordingSink{}
	if _, err := b.NewConversation().Answer(context.Background(), "x", sink); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	call := sink.calls[0]
	if !call.outcome.IsError {
		t.Fatalf("unknown tool should surface as error outcome: %+v", call)
	}
	if inv.lastFQN != "" {
		t.Fatalf("invoker should not be called for unknown tool, got %q", inv.lastFQN)
	}
}

func TestResetClearsHistory(t *testing.T) {
	llm := &fakeLLM{script: []*llms.ContentResponse{
		textResponse("one"),
		textResponse("two"),
	}}
	inv := &fakeInvoker{}
	b := newBridge(llm, inv, Options{})

	conv := b.NewConversation()
	if _, err := conv.Answer(context.Background(), "first", sinkDiscard{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	conv.Reset()
	if _, err := conv.Answer(context.Background(), "second", sinkDiscard{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// Reset 后第二次请求不应携带第一轮历史。
	second := llm.calls[1]
	if len(second) != 1 {
		t.Fatalf("history leaked across Reset: %d messages", len(second))
	}
}

func TestWireNameMangling(t *testing.T) {
	if got := wireName("math.add"); got != "math__add" {
		t.Fatalf("wireName = %q", got)
	}

	inv := &fakeInvoker{records: []mcpx.ToolRecord{
		{FQN: "a.b__c", Server: "a", Name: "b__c"},
		{FQN: "a.b.c", Server: "a", Name: "b.c"},
	}}
	b := newBridge(&fakeLLM{}, inv, Options{})
	if b.ToolCount() != 2 {
		t.Fatalf("ToolCount = %d", b.ToolCount())
	}
	if len(b.byWire) != 2 {
		t.Fatalf("wire name collision collapsed declarations: %v", b.byWire)
	}
}

type sinkDiscard struct{}

func (sinkDiscard) ToolStarted(string, mcpx.ToolRecord, map[string]any) {}
func (sinkDiscard) ToolFinished(string, mcpx.CallOutcome)               {}

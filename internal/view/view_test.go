package view

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mathchat/go-chat-v2/internal/reconcile"
)

func TestMessageLineTagsRoles(t *testing.T) {
	user := MessageLine(reconcile.Message{Role: reconcile.RoleUser, Text: "hi"})
	if !strings.Contains(user, "you") || !strings.Contains(user, "hi") {
		t.Fatalf("user line = %q", user)
	}
	model := MessageLine(reconcile.Message{Role: reconcile.RoleModel, Text: "hello"})
	if !strings.Contains(model, "model") {
		t.Fatalf("model line = %q", model)
	}
}

func TestToolCallLinePerPhase(t *testing.T) {
	running := ToolCallLine(reconcile.ToolCallRecord{
		CallID: "c-1", Tool: "math.add", Phase: reconcile.PhaseCall,
		Args: map[string]any{"a": 2.0, "b": 2.0},
	})
	if !strings.Contains(running, "math.add") || !strings.Contains(running, "…") {
		t.Fatalf("running line = %q", running)
	}

	done := ToolCallLine(reconcile.ToolCallRecord{
		CallID: "c-1", Tool: "math.add", Phase: reconcile.PhaseResult,
		Data: json.RawMessage("4"),
	})
	if !strings.Contains(done, "4") {
		t.Fatalf("done line = %q", done)
	}

	failed := ToolCallLine(reconcile.ToolCallRecord{
		CallID: "c-1", Tool: "math.divide", Phase: reconcile.PhaseError,
		Error: "Division by zero is not allowed.",
	})
	if !strings.Contains(failed, "Division by zero is not allowed.") {
		t.Fatalf("error line = %q", failed)
	}
}

func TestToolCallLineShowsElapsed(t *testing.T) {
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	line := ToolCallLine(reconcile.ToolCallRecord{
		Tool: "math.add", Phase: reconcile.PhaseResult,
		Data:      json.RawMessage("4"),
		StartedAt: start,
		UpdatedAt: start.Add(250 * time.Millisecond),
	})
	if !strings.Contains(line, "250ms") {
		t.Fatalf("elapsed missing: %q", line)
	}

	// 无起始时间则不显示耗时。
	bare := ToolCallLine(reconcile.ToolCallRecord{
		Tool: "math.add", Phase: reconcile.PhaseResult, Data: json.RawMessage("4"),
	})
	if strings.Contains(bare, "ms)") {
		t.Fatalf("unexpected elapsed on zero-time record: %q", bare)
	}
}

func TestToolCallLineLongPreviewTruncated(t *testing.T) {
	long := strings.Repeat("x", 4096)
	line := ToolCallLine(reconcile.ToolCallRecord{
		Tool: "t", Phase: reconcile.PhaseResult,
		Data: json.RawMessage(`"` + long + `"`),
	})
	if strings.Contains(line, long) {
		t.Fatal("long data not truncated")
	}
}

func TestHTMLTranscriptRendersMarkdownForModelOnly(t *testing.T) {
	snap := reconcile.Snapshot{
		Transcript: []reconcile.Message{
			{ID: "msg-1", Role: reconcile.RoleUser, Text: "**not bold** <b>raw</b>"},
			{ID: "msg-2", Role: reconcile.RoleModel, Text: "the answer is **4**"},
		},
	}
	out := HTMLTranscript(snap)

	// 用户消息按纯文本转义, 星号原样保留。
	if !strings.Contains(out, "**not bold**") {
		t.Fatalf("user markdown should not be interpreted: %s", out)
	}
	if strings.Contains(out, "<b>raw</b>") {
		t.Fatalf("raw user HTML leaked: %s", out)
	}
	// 模型消息走 markdown 管线。
	if !strings.Contains(out, "<strong>4</strong>") {
		t.Fatalf("model markdown not rendered: %s", out)
	}
}

func TestHTMLTranscriptIncludesToolCards(t *testing.T) {
	snap := reconcile.Snapshot{
		ToolCalls: []reconcile.ToolCallRecord{
			{CallID: "c-1", Tool: "math.add", Phase: reconcile.PhaseResult, Data: json.RawMessage("4")},
			{CallID: "c-2", Tool: "math.divide", Phase: reconcile.PhaseError, Error: "Division by zero is not allowed."},
		},
	}
	out := HTMLTranscript(snap)
	if !strings.Contains(out, "math.add") || !strings.Contains(out, "math.divide") {
		t.Fatalf("tool cards missing: %s", out)
	}
	if !strings.Contains(out, "Division by zero is not allowed.") {
		t.Fatalf("tool error missing: %s", out)
	}
}

func TestHTMLTranscriptNeutralizesScriptInModelText(t *testing.T) {
	snap := reconcile.Snapshot{
		Transcript: []reconcile.Message{
			{ID: "msg-1", Role: reconcile.RoleModel, Text: "<script>alert(1)</script>"},
		},
	}
	out := HTMLTranscript(snap)
	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Fatalf("script element survived export: %s", out)
	}
}

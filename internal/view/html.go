// html.go — 调和快照的 HTML 导出。
package view

import (
	"fmt"
	"html"
	"strings"

	"github.com/mathchat/go-chat-v2/internal/markdown"
	"github.com/mathchat/go-chat-v2/internal/reconcile"
)

// HTMLTranscript 把快照渲染成自包含 HTML 文档。
// 模型消息走 markdown 安全渲染管线; 用户消息按纯文本转义。
func HTMLTranscript(snap reconcile.Snapshot) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<title>Chat Transcript</title>\n")
	b.WriteString("<style>\n")
	b.WriteString("body{font-family:sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem}\n")
	b.WriteString(".msg{margin:1rem 0}.role{font-weight:bold;color:#555}\n")
	b.WriteString(".user .role{color:#1a6fb5}.model .role{color:#7b3fb5}\n")
	b.WriteString(".tool{border:1px solid #ddd;border-radius:4px;padding:.5rem;margin:.5rem 0;font-family:monospace;font-size:.85rem}\n")
	b.WriteString(".tool.error{border-color:#c33;color:#c33}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	for _, msg := range snap.Transcript {
		b.WriteString(messageHTML(msg))
	}

	if len(snap.ToolCalls) > 0 {
		b.WriteString("<h2>Tool calls</h2>\n")
		for _, rec := range snap.ToolCalls {
			b.WriteString(toolCallHTML(rec))
		}
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func messageHTML(msg reconcile.Message) string {
	switch msg.Role {
	case reconcile.RoleModel:
		return fmt.Sprintf("<div class=\"msg model\"><span class=\"role\">model</span>\n%s</div>\n",
			markdown.Render(msg.Text))
	default:
		return fmt.Sprintf("<div class=\"msg user\"><span class=\"role\">you</span>\n<p>%s</p></div>\n",
			html.EscapeString(msg.Text))
	}
}

func toolCallHTML(rec reconcile.ToolCallRecord) string {
	name := html.EscapeString(rec.Tool)
	switch rec.Phase {
	case reconcile.PhaseResult:
		return fmt.Sprintf("<div class=\"tool\">%s → %s</div>\n",
			name, html.EscapeString(strings.TrimSpace(string(rec.Data))))
	case reconcile.PhaseError:
		return fmt.Sprintf("<div class=\"tool error\">%s: %s</div>\n",
			name, html.EscapeString(rec.Error))
	default:
		return fmt.Sprintf("<div class=\"tool\">%s …</div>\n", name)
	}
}

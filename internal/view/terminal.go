// Package view 把调和状态渲染到终端与 HTML。
//
// 终端是追加式介质: 工具卡片的原地更新表现为按 callId 重打一行
// 最新状态, 而不是改写历史输出。
package view

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mathchat/go-chat-v2/internal/reconcile"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

// toolPreviewLen 工具参数/结果在终端里的最大预览长度。
const toolPreviewLen = 120

// MessageLine 渲染一条消息 (角色标签 + 正文)。
func MessageLine(msg reconcile.Message) string {
	var tag string
	switch msg.Role {
	case reconcile.RoleUser:
		tag = userRoleStyle.Render("you")
	case reconcile.RoleModel:
		tag = modelRoleStyle.Render("model")
	default:
		tag = dimStyle.Render(string(msg.Role))
	}
	return tag + "\n" + messageBodyStyle.Render(msg.Text)
}

// ToolCallLine 渲染工具卡片的当前状态。
func ToolCallLine(rec reconcile.ToolCallRecord) string {
	label := rec.Tool
	if label == "" {
		label = rec.CallID
	}

	switch rec.Phase {
	case reconcile.PhaseCall:
		return toolRunningStyle.Render(fmt.Sprintf("⟳ %s(%s) …", label, argsPreview(rec.Args)))
	case reconcile.PhaseResult:
		return toolDoneStyle.Render(fmt.Sprintf("✓ %s → %s", label, dataPreview(rec.Data))) + elapsedSuffix(rec)
	case reconcile.PhaseError:
		return toolErrorStyle.Render(fmt.Sprintf("✗ %s: %s", label, rec.Error)) + elapsedSuffix(rec)
	default:
		return dimStyle.Render(label)
	}
}

func elapsedSuffix(rec reconcile.ToolCallRecord) string {
	if rec.StartedAt.IsZero() || !rec.UpdatedAt.After(rec.StartedAt) {
		return ""
	}
	return " " + dimStyle.Render(fmt.Sprintf("(%s)", rec.UpdatedAt.Sub(rec.StartedAt).Round(time.Millisecond)))
}

// StatusLine 渲染带级别前缀的状态行。
func StatusLine(level, message string) string {
	return statusStyle.Render(fmt.Sprintf("[%s] %s", level, message))
}

func argsPreview(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return util.Truncate(string(raw), toolPreviewLen)
}

func dataPreview(data json.RawMessage) string {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "(no data)"
	}
	return util.Truncate(s, toolPreviewLen)
}

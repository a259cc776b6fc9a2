// Package event 定义事件信封与解码器。
//
// 通道上的每一帧是 UTF-8 JSON 对象 {type, payload, ts}。解码器只做结构
// 校验 (合法 JSON + 可识别 payload 形状), 不做业务校验 — callId 唯一性
// 等不变量由 reconcile 包负责。
package event

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
)

// ========================================
// 事件类型常量
// ========================================

const (
	TypeMessageUser       = "message.user"
	TypeMessageModelFinal = "message.model.final"
	TypeToolCallStarted   = "tool_call.started"
	TypeToolCallResult    = "tool_call.result"
	TypeToolCallError     = "tool_call.error"
	TypeStatus            = "status"
)

// Envelope 传输帧信封: 判别类型 + 原始载荷 + 发送时间戳。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      string          `json:"ts,omitempty"`
}

// New 构造带当前时间戳的信封。
func New(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, apperrors.Wrapf(err, "event.New", "marshal %s payload", eventType)
	}
	return Envelope{Type: eventType, Payload: raw, TS: time.Now().UTC().Format(time.RFC3339Nano)}, nil
}

// Encode 将信封编码为单帧字节。
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(err, "Envelope.Encode", "marshal frame")
	}
	return data, nil
}

// ========================================
// 事件载荷类型
// ========================================

// UserMessage message.user 载荷。
type UserMessage struct {
	Text string `json:"text"`
}

// ModelFinal message.model.final 载荷。
type ModelFinal struct {
	Text string `json:"text"`
}

// ToolCallStarted tool_call.started 载荷。CallID 是关联键,
// 把本次调用的 started 帧与后续唯一终态帧 (result/error) 绑定。
type ToolCallStarted struct {
	CallID string         `json:"callId"`
	Tool   string         `json:"tool"`
	Server string         `json:"server,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// ToolCallResult tool_call.result 载荷。Data 原样保留 (RawMessage),
// 展示层自行决定渲染方式。
type ToolCallResult struct {
	CallID string          `json:"callId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ToolCallError tool_call.error 载荷。工具执行失败不是客户端错误,
// 错误信息逐字保留用于展示。
type ToolCallError struct {
	CallID            string          `json:"callId"`
	Message           string          `json:"message"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// Status 服务端状态通知 (connected / session reset / worker error)。
type Status struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ========================================
// 解码
// ========================================

// Event 解码后的类型化事件。Type 为判别字段; 对应载荷指针恰有一个非 nil
// (Unhandled 事件除外, 其原始 payload 保留在 Raw 中)。
type Event struct {
	Type string
	TS   time.Time // 帧时间戳, 解析失败时为零值 (到达顺序才是权威顺序)

	User       *UserMessage
	ModelFinal *ModelFinal
	Started    *ToolCallStarted
	Result     *ToolCallResult
	ToolError  *ToolCallError
	Status     *Status

	// Unhandled 为 true 表示未知判别类型 — 前向兼容策略:
	// 不报错, 原样转发给 reconciler 静默忽略。
	Unhandled bool
	Raw       json.RawMessage
}

// Decode 将一帧解码为类型化事件。
//
// 失败条件 (ErrDecode): 非法 JSON、type 为空、可识别类型的 payload 无法
// 解析。未知 type 不是失败 — 返回 Unhandled 事件。
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, apperrors.Wrap(apperrors.ErrDecode, "event.Decode", "invalid frame JSON")
	}
	if strings.TrimSpace(env.Type) == "" {
		return Event{}, apperrors.Wrap(apperrors.ErrDecode, "event.Decode", "missing type discriminant")
	}

	ev := Event{Type: env.Type, Raw: env.Payload}
	if env.TS != "" {
		if t, err := time.Parse(time.RFC3339Nano, env.TS); err == nil {
			ev.TS = t
		} else if t, err := time.Parse(time.RFC3339, env.TS); err == nil {
			ev.TS = t
		}
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	switch env.Type {
	case TypeMessageUser:
		ev.User = &UserMessage{}
		if err := json.Unmarshal(payload, ev.User); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	case TypeMessageModelFinal:
		ev.ModelFinal = &ModelFinal{}
		if err := json.Unmarshal(payload, ev.ModelFinal); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	case TypeToolCallStarted:
		ev.Started = &ToolCallStarted{}
		if err := json.Unmarshal(payload, ev.Started); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	case TypeToolCallResult:
		ev.Result = &ToolCallResult{}
		if err := json.Unmarshal(payload, ev.Result); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	case TypeToolCallError:
		ev.ToolError = &ToolCallError{}
		if err := json.Unmarshal(payload, ev.ToolError); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	case TypeStatus:
		ev.Status = &Status{}
		if err := json.Unmarshal(payload, ev.Status); err != nil {
			return Event{}, decodeErr(env.Type, err)
		}
	default:
		ev.Unhandled = true
	}
	return ev, nil
}

func decodeErr(eventType string, cause error) error {
	return apperrors.Wrapf(apperrors.ErrDecode, "event.Decode", "malformed %s payload: %v", eventType, cause)
}

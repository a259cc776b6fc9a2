// Package reconcile 把服务端推送的事件流折叠为可渲染的 UI 投影。
//
// 两个投影: transcript (消息按到达顺序追加, 不可变) 和 toolCalls
// (callId → 记录, 终态事件原地变更 phase)。同一逻辑工具调用的 started
// 与终态帧是独立推送, 间隔无上界 — 必须按 callId 关联合并, 而不是
// 各自追加为无关条目。
package reconcile

import (
	"encoding/json"
	"time"
)

// Role 消息角色。
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Phase 工具调用阶段。result / error 为终态, 进入后不再变更。
type Phase string

const (
	PhaseCall   Phase = "call"
	PhaseResult Phase = "result"
	PhaseError  Phase = "error"
)

// Message 转写条目。插入后不可变; 顺序 = 底层事件到达顺序。
type Message struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Ts   time.Time `json:"ts"`
}

// ToolCallRecord 工具调用记录。CallID 为关联键, 会话生命周期内唯一。
type ToolCallRecord struct {
	CallID string         `json:"callId"`
	Tool   string         `json:"tool"`
	Server string         `json:"server,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	Phase Phase `json:"phase"`

	// Data 成功结果, Error/ErrorDetail 失败信息 — 均逐字保留。
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorDetail json.RawMessage `json:"errorDetail,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Running 该调用是否仍在执行 (尚未收到终态事件)。
func (r ToolCallRecord) Running() bool { return r.Phase == PhaseCall }

// Snapshot 投影的深拷贝快照, 观察者只读。ToolCalls 按 started 到达顺序。
type Snapshot struct {
	Transcript []Message        `json:"transcript"`
	ToolCalls  []ToolCallRecord `json:"toolCalls"`
	Generation uint64           `json:"generation"`
}

// ToolCall 按 callId 查找快照中的记录。
func (s Snapshot) ToolCall(callID string) (ToolCallRecord, bool) {
	for _, rec := range s.ToolCalls {
		if rec.CallID == callID {
			return rec, true
		}
	}
	return ToolCallRecord{}, false
}

package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/mathchat/go-chat-v2/internal/event"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// Reconciler 事件调和器。
//
// 单把互斥锁覆盖整个 Apply — 帧 N+1 的效果不会在帧 N 提交前开始
// (终态转移依赖 call 阶段已落账)。投影只通过 Snapshot()/订阅对外暴露。
type Reconciler struct {
	mu sync.Mutex

	transcript []Message
	calls      map[string]*ToolCallRecord
	order      []string // callId 插入顺序, 渲染稳定
	msgSeq     int
	generation uint64

	applied    uint64
	violations uint64
	unhandled  uint64

	subMu sync.RWMutex
	subs  map[string]chan Snapshot
}

// New 创建空调和器。
func New() *Reconciler {
	return &Reconciler{
		calls: map[string]*ToolCallRecord{},
		subs:  map[string]chan Snapshot{},
	}
}

// Apply 将一个事件折叠进投影。纯折叠: 相同先验状态 + 相同事件 ⇒ 相同后继状态。
//
// 协议违例 (重复 started / 未知或已终态 callId 的终态事件) 返回
// ErrProtocol 包装错误且不改动任何状态 — 单个异常帧不得污染会话其余部分。
func (r *Reconciler) Apply(ev event.Event) error {
	r.mu.Lock()

	var err error
	changed := false

	switch ev.Type {
	case event.TypeMessageUser:
		r.appendMessageLocked(RoleUser, ev.User.Text, ev.TS)
		changed = true

	case event.TypeMessageModelFinal:
		r.appendMessageLocked(RoleModel, ev.ModelFinal.Text, ev.TS)
		changed = true

	case event.TypeToolCallStarted:
		changed, err = r.applyStartedLocked(ev.Started, ev.TS)

	case event.TypeToolCallResult:
		changed, err = r.applyTerminalLocked(ev.Result.CallID, PhaseResult, ev, ev.TS)

	case event.TypeToolCallError:
		changed, err = r.applyTerminalLocked(ev.ToolError.CallID, PhaseError, ev, ev.TS)

	case event.TypeStatus:
		// 服务端状态通知不进投影, 宿主直接从通道观察。

	default:
		// 前向兼容: 未知判别类型静默忽略, 仅计数供诊断。
		r.unhandled++
	}

	if err != nil {
		r.violations++
	} else {
		r.applied++
	}
	var snap Snapshot
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if err != nil {
		logger.Warn("reconcile: protocol violation",
			logger.FieldEventType, ev.Type,
			logger.FieldError, err,
		)
		return err
	}
	if changed {
		r.notify(snap)
	}
	return nil
}

func (r *Reconciler) appendMessageLocked(role Role, text string, ts time.Time) {
	r.msgSeq++
	if ts.IsZero() {
		ts = time.Now()
	}
	r.transcript = append(r.transcript, Message{
		ID:   fmt.Sprintf("msg-%d", r.msgSeq),
		Role: role,
		Text: text,
		Ts:   ts,
	})
}

func (r *Reconciler) applyStartedLocked(p *event.ToolCallStarted, ts time.Time) (bool, error) {
	if p.CallID == "" {
		return false, apperrors.Wrap(apperrors.ErrProtocol, "Reconciler.Apply", "started without callId")
	}
	if _, exists := r.calls[p.CallID]; exists {
		return false, apperrors.Wrapf(apperrors.ErrProtocol, "Reconciler.Apply",
			"duplicate started for live callId %q", p.CallID)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	r.calls[p.CallID] = &ToolCallRecord{
		CallID:    p.CallID,
		Tool:      p.Tool,
		Server:    p.Server,
		Args:      copyArgs(p.Args),
		Phase:     PhaseCall,
		StartedAt: ts,
		UpdatedAt: ts,
	}
	r.order = append(r.order, p.CallID)
	return true, nil
}

func (r *Reconciler) applyTerminalLocked(callID string, phase Phase, ev event.Event, ts time.Time) (bool, error) {
	rec, ok := r.calls[callID]
	if !ok {
		// 不产生幽灵记录 — 映射大小保持不变。
		return false, apperrors.Wrapf(apperrors.ErrProtocol, "Reconciler.Apply",
			"terminal event %s for unknown callId %q", ev.Type, callID)
	}
	if rec.Phase != PhaseCall {
		return false, apperrors.Wrapf(apperrors.ErrProtocol, "Reconciler.Apply",
			"terminal event %s for already-terminal callId %q (phase %s)", ev.Type, callID, rec.Phase)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	rec.Phase = phase
	rec.UpdatedAt = ts
	switch phase {
	case PhaseResult:
		rec.Data = append(rec.Data[:0], ev.Result.Data...)
	case PhaseError:
		rec.Error = ev.ToolError.Message
		rec.ErrorDetail = append(rec.ErrorDetail[:0], ev.ToolError.StructuredContent...)
	}
	return true, nil
}

// Reset 原子清空两个投影。调用方负责屏障语义: 重置确认前排队的帧
// 不得在重置后再 Apply (通常通过关闭并重开通道实现)。
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.transcript = nil
	r.calls = map[string]*ToolCallRecord{}
	r.order = nil
	r.msgSeq = 0
	r.generation++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	logger.Info("reconcile: projections reset", "generation", snap.Generation)
	r.notify(snap)
}

// Snapshot 返回投影深拷贝。观察者无法别名内部状态。
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	out := Snapshot{
		Transcript: make([]Message, len(r.transcript)),
		ToolCalls:  make([]ToolCallRecord, 0, len(r.order)),
		Generation: r.generation,
	}
	copy(out.Transcript, r.transcript)
	for _, id := range r.order {
		rec := r.calls[id]
		if rec == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, cloneRecord(*rec))
	}
	return out
}

func cloneRecord(rec ToolCallRecord) ToolCallRecord {
	rec.Args = copyArgs(rec.Args)
	if rec.Data != nil {
		rec.Data = append([]byte(nil), rec.Data...)
	}
	if rec.ErrorDetail != nil {
		rec.ErrorDetail = append([]byte(nil), rec.ErrorDetail...)
	}
	return rec
}

func copyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// ========================================
// 订阅
// ========================================

// Subscribe 注册快照订阅。缓冲满时丢弃 (慢消费者不阻塞 Apply)。
func (r *Reconciler) Subscribe(id string) <-chan Snapshot {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	ch := make(chan Snapshot, 8)
	r.subs[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — 订阅者通过自身退出条件终止, GC 回收未引用的 channel。
func (r *Reconciler) Unsubscribe(id string) {
	r.subMu.Lock()
	delete(r.subs, id)
	r.subMu.Unlock()
}

func (r *Reconciler) notify(snap Snapshot) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Stats 返回诊断计数 (协议违例与未知事件必须可观测, 不得无痕吞掉)。
func (r *Reconciler) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"applied":    r.applied,
		"violations": r.violations,
		"unhandled":  r.unhandled,
		"messages":   len(r.transcript),
		"toolCalls":  len(r.calls),
		"generation": r.generation,
	}
}

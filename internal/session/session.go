// Package session 管理服务端会话: 生命周期、事件扇出与 TTL 回收。
//
// 每个会话持有自己的订阅者集合 (SSE/WS 连接各占一个) 和一份服务端
// 调和器 — 后者使 /transcript 导出无需客户端参与即可渲染。
package session

import (
	"sync"
	"time"

	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/internal/reconcile"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// Session 单个会话。
type Session struct {
	ID        string
	CreatedAt time.Time

	queueSize int
	rec       *reconcile.Reconciler

	mu          sync.RWMutex
	lastActive  time.Time
	subscribers map[string]chan event.Envelope

	// workMu 串行化消息处理, 保证同一会话的事件不交错。
	workMu sync.Mutex
}

func newSession(id string, queueSize int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		CreatedAt:   now,
		queueSize:   queueSize,
		rec:         reconcile.New(),
		lastActive:  now,
		subscribers: make(map[string]chan event.Envelope),
	}
}

// Touch 刷新活跃时间 (TTL 依据)。
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// LastActive 最近活跃时间。
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Reconciler 会话的服务端调和器。
func (s *Session) Reconciler() *reconcile.Reconciler { return s.rec }

// Publish 把事件广播给所有订阅者, 并同步进服务端调和器。
// 订阅者队列满时丢弃该订阅者的这一帧 (慢消费者不阻塞发布)。
func (s *Session) Publish(env event.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		logger.Error("session: encode event failed",
			logger.FieldSession, s.ID,
			logger.FieldEventType, env.Type,
			logger.FieldError, err,
		)
		return
	}
	if ev, err := event.Decode(frame); err == nil {
		// 违例由调和器内部记录, 发布侧不中断广播。
		_ = s.rec.Apply(ev)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- env:
		default:
			logger.Warn("session: subscriber queue full, dropping frame",
				logger.FieldSession, s.ID,
				logger.FieldSubscriber, id,
				logger.FieldEventType, env.Type,
			)
		}
	}
}

// Subscribe 注册订阅者并返回其事件队列。
func (s *Session) Subscribe(id string) chan event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan event.Envelope, s.queueSize)
	s.subscribers[id] = ch
	return ch
}

// Unsubscribe 注销订阅者。
//
// 不关闭 ch — handler 通过请求 ctx 退出, 未引用的 channel 由 GC 回收。
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// SubscriberCount 当前订阅者数量。
func (s *Session) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// RunExclusive 在会话的工作锁内执行 fn。
// 同一会话同时只有一个消息 worker 在发布事件。
func (s *Session) RunExclusive(fn func()) {
	s.workMu.Lock()
	defer s.workMu.Unlock()
	fn()
}

// Reset 清空会话的服务端调和状态并刷新活跃时间。
func (s *Session) Reset() {
	s.rec.Reset()
	s.Touch()
}

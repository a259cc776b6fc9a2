// Package channel 实现会话事件通道适配器。
//
// 通道按会话打开一条单向推送连接 (SSE 或 WebSocket), 把原始帧交给
// event.Decode, 解码后的事件经 Events() 顺序投递。连接断开是该通道的
// 终态 — 不做重连/退避, 重建通道是宿主的显式决策 (如会话重置时)。
package channel

import (
	"context"
	"sync"

	"github.com/mathchat/go-chat-v2/internal/event"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// Channel 一条已打开的会话事件通道。
//
// Events() 按发送顺序逐个产出解码事件; 读端串行消费即满足
// "帧 N 提交后才开始帧 N+1" 的调和顺序要求。
type Channel struct {
	events chan event.Event
	done   chan struct{}
	cancel context.CancelFunc

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newChannel(cancel context.CancelFunc) *Channel {
	return &Channel{
		events: make(chan event.Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events 解码事件流。读循环退出后关闭 — 可直接 range 消费。
func (c *Channel) Events() <-chan event.Event { return c.events }

// Done 通道终止信号 (宿主 Close 或传输失败)。
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err 返回连接丢失原因。宿主主动 Close 时为 nil。
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close 关闭通道并停止帧投递。Close 返回后不再有事件送达。
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// fail 记录传输失败并终止通道。
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.Close()
}

// deliver 解码并投递一帧。解码失败丢帧继续 (DecodeError 非致命)。
// 返回 false 表示通道已终止, 读循环应退出。
func (c *Channel) deliver(frame []byte) bool {
	ev, err := event.Decode(frame)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDecode) {
			logger.Warn("channel: dropping malformed frame",
				logger.FieldError, err,
				logger.FieldLen, len(frame),
			)
			return true
		}
		c.fail(err)
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

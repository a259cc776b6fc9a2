// sse.go — 会话事件的 SSE 推送 (data-only 帧)。
package api

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/pkg/logger"
)

func (s *Server) sseHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return
	}
	sess.Touch()

	subID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	ch := sess.Subscribe(subID)
	defer func() {
		sess.Unsubscribe(subID)
		logger.Info("api: SSE client disconnected",
			logger.FieldSession, sess.ID,
			logger.FieldSubscriber, subID,
		)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	logger.Info("api: SSE client connected",
		logger.FieldSession, sess.ID,
		logger.FieldSubscriber, subID,
	)

	// 欢迎帧只发给本订阅者, 不进会话事件历史。
	hello, err := event.New(event.TypeStatus, event.Status{Level: "info", Message: "connected"})
	if err == nil {
		_ = writeSSEFrame(c.Writer, hello)
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器 (GC 压力)
		keepalive := time.NewTimer(s.opts.SSEKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case env, ok := <-ch:
				if !ok {
					return false
				}
				if err := writeSSEFrame(w, env); err != nil {
					return false
				}
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(s.opts.SSEKeepalive)
				return true
			case <-keepalive.C:
				// SSE 注释行, 客户端忽略。
				if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
					return false
				}
				keepalive.Reset(s.opts.SSEKeepalive)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}

// writeSSEFrame 编码一帧 data-only SSE。
func writeSSEFrame(w io.Writer, env event.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return sse.Encode(w, sse.Event{Data: string(frame)})
}

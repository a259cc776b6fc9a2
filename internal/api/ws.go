// ws.go — 会话事件的 WebSocket 推送 (与 SSE 同一帧格式)。
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 本地开发工具, 源校验交给 CORS 层约定。
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) wsHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return
	}
	sess.Touch()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("api: ws upgrade failed",
			logger.FieldSession, sess.ID,
			logger.FieldError, err,
		)
		return
	}
	defer conn.Close()

	subID := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	ch := sess.Subscribe(subID)
	defer sess.Unsubscribe(subID)

	logger.Info("api: WebSocket client connected",
		logger.FieldSession, sess.ID,
		logger.FieldSubscriber, subID,
	)

	// 读泵只为感知对端关闭。
	closed := make(chan struct{})
	util.SafeGo(func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	hello, err := event.New(event.TypeStatus, event.Status{Level: "info", Message: "connected"})
	if err == nil {
		if err := writeWSFrame(conn, hello); err != nil {
			return
		}
	}

	keepalive := time.NewTicker(s.opts.SSEKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := writeWSFrame(conn, env); err != nil {
				return
			}
		case <-keepalive.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Info("api: WebSocket client disconnected",
				logger.FieldSession, sess.ID,
				logger.FieldSubscriber, subID,
			)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeWSFrame(conn *websocket.Conn, env event.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

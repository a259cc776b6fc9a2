// ws.go — WebSocket 传输: 每条文本消息恰为一帧。
package channel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

const wsHandshakeTimeout = 5 * time.Second

// OpenWS 打开 WebSocket 事件通道 (与 SSE 同一帧格式的替代传输)。
func OpenWS(ctx context.Context, baseURL, sessionID string) (*Channel, error) {
	url := wsURL(baseURL) + "/api/session/" + sessionID + "/ws"

	cctx, cancel := context.WithCancel(ctx)
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(cctx, url, nil)
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.Wrapf(apperrors.ErrNotFound, "channel.OpenWS", "session %s", sessionID)
		}
		return nil, apperrors.Wrap(err, "channel.OpenWS", "ws connect")
	}

	ch := newChannel(cancel)
	logger.Info("channel: WebSocket stream opened",
		logger.FieldSession, sessionID,
		logger.FieldURL, url,
	)

	// cancel 不会中断阻塞中的 ReadMessage — Close 时显式断开连接。
	util.SafeGo(func() {
		<-ch.done
		_ = conn.Close()
	})
	util.SafeGo(func() {
		defer close(ch.events)
		ch.wsReadLoop(conn, sessionID)
	})
	return ch, nil
}

func (c *Channel) wsReadLoop(conn *websocket.Conn, sessionID string) {
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Warn("channel: WebSocket connection lost",
					logger.FieldSession, sessionID,
					logger.FieldError, err,
				)
				c.fail(apperrors.Wrap(err, "channel.wsReadLoop", "connection lost"))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !c.deliver(frame) {
			return
		}
	}
}

// wsURL 把 http(s) base URL 转为 ws(s)。
func wsURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

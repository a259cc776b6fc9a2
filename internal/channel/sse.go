// sse.go — SSE 传输: 增量解析 text/event-stream 的 data 行。
//
// 帧格式是 data-only SSE (每帧一到多行 "data: {...}", 空行分帧);
// gin-contrib/sse 的解码器一次读到 EOF, 无法增量消费无界流, 因此
// 这里用 bufio 逐行扫描。
package channel

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

// sseMaxLineBytes 单行上限。工具结果可能较大, 但 1MB 之上按协议违例处理。
const sseMaxLineBytes = 1 << 20

// Open 打开 SSE 事件通道。
func Open(ctx context.Context, baseURL, sessionID string) (*Channel, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/session/" + sessionID + "/events"

	cctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, apperrors.Wrap(err, "channel.Open", "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, apperrors.Wrap(err, "channel.Open", "connect event stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.Wrapf(apperrors.ErrNotFound, "channel.Open", "session %s", sessionID)
		}
		return nil, apperrors.Newf("channel.Open", "event stream status %d", resp.StatusCode)
	}

	ch := newChannel(cancel)
	logger.Info("channel: SSE stream opened",
		logger.FieldSession, sessionID,
		logger.FieldURL, url,
	)

	util.SafeGo(func() {
		defer resp.Body.Close()
		defer close(ch.events)
		ch.sseReadLoop(resp.Body, sessionID)
	})
	return ch, nil
}

func (c *Channel) sseReadLoop(body io.Reader, sessionID string) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), sseMaxLineBytes)

	var data [][]byte
	for scanner.Scan() {
		line := scanner.Bytes()

		// 空行 = 帧结束。
		if len(bytes.TrimSpace(line)) == 0 {
			if len(data) > 0 {
				frame := bytes.Join(data, []byte("\n"))
				data = nil
				if !c.deliver(frame) {
					return
				}
			}
			continue
		}
		// 注释行 (keepalive) 忽略。
		if line[0] == ':' {
			continue
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			rest = bytes.TrimPrefix(rest, []byte(" "))
			data = append(data, append([]byte(nil), rest...))
		}
		// 其余字段 (event:/id:/retry:) 在 data-only 协议中不使用。
	}

	select {
	case <-c.done:
		// 宿主已 Close, 扫描退出是预期行为。
	default:
		err := scanner.Err()
		if err == nil {
			err = apperrors.New("channel.sseReadLoop", "event stream ended")
		}
		logger.Warn("channel: SSE connection lost",
			logger.FieldSession, sessionID,
			logger.FieldError, err,
		)
		c.fail(apperrors.Wrap(err, "channel.sseReadLoop", "connection lost"))
	}
}

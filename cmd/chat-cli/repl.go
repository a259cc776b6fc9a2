// repl.go — 交互循环: 事件泵 + 命令分发。
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mathchat/go-chat-v2/internal/channel"
	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/internal/reconcile"
	"github.com/mathchat/go-chat-v2/internal/view"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

type app struct {
	client    *apiClient
	sessionID string
	useWS     bool
	out       io.Writer

	rec      *reconcile.Reconciler
	ch       *channel.Channel
	pumpDone chan struct{}
}

func newApp(client *apiClient, sessionID string, useWS bool, out io.Writer) *app {
	return &app{
		client:    client,
		sessionID: sessionID,
		useWS:     useWS,
		out:       out,
		rec:       reconcile.New(),
	}
}

// openChannel 打开事件通道并启动顺序应用泵。
func (a *app) openChannel(ctx context.Context) error {
	var (
		ch  *channel.Channel
		err error
	)
	if a.useWS {
		ch, err = channel.OpenWS(ctx, a.client.base, a.sessionID)
	} else {
		ch, err = channel.Open(ctx, a.client.base, a.sessionID)
	}
	if err != nil {
		return err
	}

	a.ch = ch
	done := make(chan struct{})
	a.pumpDone = done
	util.SafeGo(func() {
		defer close(done)
		a.pump(ch)
	})
	return nil
}

// pump 逐个应用事件: 帧 N 处理完才取帧 N+1。
func (a *app) pump(ch *channel.Channel) {
	for ev := range ch.Events() {
		if line := a.applyAndRender(ev); line != "" {
			fmt.Fprintln(a.out, line)
		}
	}
	if err := ch.Err(); err != nil {
		fmt.Fprintln(a.out, view.StatusLine("error", "connection lost: "+err.Error()))
	}
}

// applyAndRender 把事件并入调和状态并渲染对应的终端输出。
// 协议违例与未知事件不产生输出 (调和器内部已记录)。
func (a *app) applyAndRender(ev event.Event) string {
	if err := a.rec.Apply(ev); err != nil {
		return ""
	}

	switch ev.Type {
	case event.TypeMessageUser, event.TypeMessageModelFinal:
		snap := a.rec.Snapshot()
		if len(snap.Transcript) == 0 {
			return ""
		}
		return view.MessageLine(snap.Transcript[len(snap.Transcript)-1])

	case event.TypeToolCallStarted, event.TypeToolCallResult, event.TypeToolCallError:
		callID := toolCallID(ev)
		rec, ok := a.rec.Snapshot().ToolCall(callID)
		if !ok {
			return ""
		}
		return view.ToolCallLine(rec)

	case event.TypeStatus:
		if ev.Status == nil {
			return ""
		}
		return view.StatusLine(ev.Status.Level, ev.Status.Message)

	default:
		return ""
	}
}

func toolCallID(ev event.Event) string {
	switch {
	case ev.Started != nil:
		return ev.Started.CallID
	case ev.Result != nil:
		return ev.Result.CallID
	case ev.ToolError != nil:
		return ev.ToolError.CallID
	}
	return ""
}

// closeChannel 关闭通道并等待泵退出 — 重置屏障的前半段。
func (a *app) closeChannel() {
	if a.ch == nil {
		return
	}
	a.ch.Close()
	<-a.pumpDone
	a.ch = nil
}

// handleLine 处理一行输入。返回 true 表示退出。
func (a *app) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false

	case line == "/exit":
		a.closeChannel()
		return true

	case line == "/reset":
		// 屏障: 先停通道, 再重置两端, 最后重开。
		a.closeChannel()
		if err := a.client.reset(ctx, a.sessionID); err != nil {
			fmt.Fprintln(a.out, view.StatusLine("error", "reset failed: "+err.Error()))
			return true
		}
		a.rec.Reset()
		if err := a.openChannel(ctx); err != nil {
			fmt.Fprintln(a.out, view.StatusLine("error", "reconnect failed: "+err.Error()))
			return true
		}
		return false

	case strings.HasPrefix(line, "/export"):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/export"))
		if path == "" {
			fmt.Fprintln(a.out, view.StatusLine("error", "usage: /export <file>"))
			return false
		}
		if err := a.exportTranscript(path); err != nil {
			fmt.Fprintln(a.out, view.StatusLine("error", "export failed: "+err.Error()))
			return false
		}
		fmt.Fprintln(a.out, view.StatusLine("info", "transcript written to "+path))
		return false

	case strings.HasPrefix(line, "/"):
		fmt.Fprintln(a.out, view.StatusLine("error", "unknown command "+line))
		return false

	default:
		if err := a.client.postMessage(ctx, a.sessionID, line); err != nil {
			fmt.Fprintln(a.out, view.StatusLine("error", "send failed: "+err.Error()))
		}
		return false
	}
}

func (a *app) exportTranscript(path string) error {
	html := view.HTMLTranscript(a.rec.Snapshot())
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return apperrors.Wrap(err, "cli.exportTranscript", "write file")
	}
	return nil
}

// runREPL 读取 stdin 直到 /exit 或 EOF。
func (a *app) runREPL(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		if a.handleLine(ctx, scanner.Text()) {
			return
		}
		fmt.Fprint(a.out, "> ")
	}
	a.closeChannel()
}

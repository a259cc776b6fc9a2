package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mathchat/go-chat-v2/internal/channel"
	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/internal/mcpx"
	"github.com/mathchat/go-chat-v2/internal/model"
	"github.com/mathchat/go-chat-v2/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedCall 一次脚本化的工具调用。
type scriptedCall struct {
	rec     mcpx.ToolRecord
	args    map[string]any
	outcome mcpx.CallOutcome
}

// fakeConv 按脚本回放工具调用并返回固定回答。
type fakeConv struct {
	answer string
	err    error
	calls  []scriptedCall
	resets int
}

func (f *fakeConv) Answer(_ context.Context, _ string, sink model.ToolCallSink) (string, error) {
	for i, call := range f.calls {
		callID := call.rec.FQN + "-" + string(rune('a'+i))
		sink.ToolStarted(callID, call.rec, call.args)
		sink.ToolFinished(callID, call.outcome)
	}
	return f.answer, f.err
}

func (f *fakeConv) Reset() { f.resets++ }

func newTestServer(conv *fakeConv) (*Server, *session.Manager) {
	sessions := session.NewManager(30*time.Minute, time.Minute, 16)
	srv := NewServer(sessions, func() Conversation { return conv }, Options{
		SSEKeepalive:  time.Second,
		AnswerTimeout: 5 * time.Second,
	})
	return srv, sessions
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func collectEvents(t *testing.T, ch chan event.Envelope, n int) []event.Envelope {
	t.Helper()
	out := make([]event.Envelope, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case env := <-ch:
			out = append(out, env)
		case <-deadline:
			t.Fatalf("timed out: got %d/%d events: %+v", len(out), n, out)
		}
	}
	return out
}

func TestCreateSession(t *testing.T) {
	srv, _ := newTestServer(&fakeConv{})
	w := postJSON(t, srv, "/api/session", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		SessionID string `json:"sessionId"`
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("sessionId is empty")
	}
	if _, err := time.Parse(time.RFC3339Nano, resp.CreatedAt); err != nil {
		t.Fatalf("createdAt not RFC3339: %v", err)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(&fakeConv{})
	for _, path := range []string{
		"/api/session/missing/reset",
		"/api/session/missing/message",
	} {
		if w := postJSON(t, srv, path, gin.H{"text": "hi"}); w.Code != http.StatusNotFound {
			t.Fatalf("POST %s: status = %d, want 404", path, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/api/session/missing/transcript", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET transcript: status = %d, want 404", w.Code)
	}
}

func TestMessageRequiresText(t *testing.T) {
	srv, sessions := newTestServer(&fakeConv{})
	sess := sessions.Create()
	w := postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMessageWorkerEmitsFullSequence(t *testing.T) {
	conv := &fakeConv{
		answer: "the answer is **4**",
		calls: []scriptedCall{{
			rec:     mcpx.ToolRecord{FQN: "math.add", Server: "math", Name: "add"},
			args:    map[string]any{"a": 2.0, "b": 2.0},
			outcome: mcpx.CallOutcome{ContentText: "4", Data: json.RawMessage("4")},
		}},
	}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()
	ch := sess.Subscribe("test")

	w := postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "what is 2+2"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	events := collectEvents(t, ch, 4)
	wantTypes := []string{
		event.TypeMessageUser,
		event.TypeToolCallStarted,
		event.TypeToolCallResult,
		event.TypeMessageModelFinal,
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event[%d].Type = %q, want %q", i, events[i].Type, want)
		}
	}

	var started event.ToolCallStarted
	if err := json.Unmarshal(events[1].Payload, &started); err != nil {
		t.Fatalf("unmarshal started: %v", err)
	}
	var result event.ToolCallResult
	if err := json.Unmarshal(events[2].Payload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if started.CallID == "" || started.CallID != result.CallID {
		t.Fatalf("callId mismatch: started=%q result=%q", started.CallID, result.CallID)
	}
	if started.Tool != "math.add" || started.Server != "math" {
		t.Fatalf("started = %+v", started)
	}
}

func TestToolErrorBecomesErrorEvent(t *testing.T) {
	conv := &fakeConv{
		answer: "cannot divide by zero",
		calls: []scriptedCall{{
			rec:     mcpx.ToolRecord{FQN: "math.divide", Server: "math", Name: "divide"},
			outcome: mcpx.CallOutcome{IsError: true, ContentText: "Division by zero is not allowed."},
		}},
	}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()
	ch := sess.Subscribe("test")

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "1/0"})
	events := collectEvents(t, ch, 4)
	if events[2].Type != event.TypeToolCallError {
		t.Fatalf("event[2].Type = %q", events[2].Type)
	}
	var errEv event.ToolCallError
	if err := json.Unmarshal(events[2].Payload, &errEv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errEv.Message != "Division by zero is not allowed." {
		t.Fatalf("message = %q", errEv.Message)
	}
}

func TestWorkerFailureBecomesStatusError(t *testing.T) {
	conv := &fakeConv{err: context.DeadlineExceeded}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()
	ch := sess.Subscribe("test")

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "hi"})
	events := collectEvents(t, ch, 2)
	if events[1].Type != event.TypeStatus {
		t.Fatalf("event[1].Type = %q", events[1].Type)
	}
	var st event.Status
	if err := json.Unmarshal(events[1].Payload, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Level != "error" {
		t.Fatalf("level = %q", st.Level)
	}
}

func TestResetClearsSessionAndConversation(t *testing.T) {
	conv := &fakeConv{answer: "hi"}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()
	ch := sess.Subscribe("test")

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "hello"})
	collectEvents(t, ch, 2)

	w := postJSON(t, srv, "/api/session/"+sess.ID+"/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	if conv.resets != 1 {
		t.Fatalf("conversation resets = %d, want 1", conv.resets)
	}

	snap := sess.Reconciler().Snapshot()
	if len(snap.Transcript) != 0 || snap.Generation != 1 {
		t.Fatalf("reconciler not reset: %+v", snap)
	}

	events := collectEvents(t, ch, 1)
	if events[0].Type != event.TypeStatus {
		t.Fatalf("reset event type = %q", events[0].Type)
	}
}

func TestTranscriptExport(t *testing.T) {
	conv := &fakeConv{answer: "the answer is **4**"}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()
	ch := sess.Subscribe("test")

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "2+2"})
	collectEvents(t, ch, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/session/"+sess.ID+"/transcript", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !bytes.Contains([]byte(body), []byte("<strong>4</strong>")) {
		t.Fatalf("rendered markdown missing from transcript: %s", body)
	}
}

// 端到端: SSE 通道 → 解码事件流。
func TestSSEStreamEndToEnd(t *testing.T) {
	conv := &fakeConv{answer: "hello"}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()

	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	ch, err := channel.Open(context.Background(), ts.URL, sess.ID)
	if err != nil {
		t.Fatalf("channel.Open: %v", err)
	}
	defer ch.Close()

	// 欢迎帧。
	first := recvChannelEvent(t, ch)
	if first.Type != event.TypeStatus {
		t.Fatalf("first event = %q, want status hello", first.Type)
	}

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "hi"})

	userEv := recvChannelEvent(t, ch)
	if userEv.Type != event.TypeMessageUser || userEv.User.Text != "hi" {
		t.Fatalf("user event = %+v", userEv)
	}
	finalEv := recvChannelEvent(t, ch)
	if finalEv.Type != event.TypeMessageModelFinal || finalEv.ModelFinal.Text != "hello" {
		t.Fatalf("final event = %+v", finalEv)
	}
}

// 端到端: WebSocket 通道使用同一帧格式。
func TestWSStreamEndToEnd(t *testing.T) {
	conv := &fakeConv{answer: "hello"}
	srv, sessions := newTestServer(conv)
	sess := sessions.Create()

	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	ch, err := channel.OpenWS(context.Background(), ts.URL, sess.ID)
	if err != nil {
		t.Fatalf("channel.OpenWS: %v", err)
	}
	defer ch.Close()

	first := recvChannelEvent(t, ch)
	if first.Type != event.TypeStatus {
		t.Fatalf("first event = %q, want status hello", first.Type)
	}

	postJSON(t, srv, "/api/session/"+sess.ID+"/message", gin.H{"text": "hi"})
	userEv := recvChannelEvent(t, ch)
	if userEv.Type != event.TypeMessageUser {
		t.Fatalf("user event = %+v", userEv)
	}
}

func recvChannelEvent(t *testing.T, ch *channel.Channel) event.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for channel event")
	}
	return event.Event{}
}

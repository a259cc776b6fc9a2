// handler.go — 会话生命周期与消息受理。
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mathchat/go-chat-v2/internal/event"
	"github.com/mathchat/go-chat-v2/internal/mcpx"
	"github.com/mathchat/go-chat-v2/internal/session"
	"github.com/mathchat/go-chat-v2/internal/view"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

func (s *Server) createSessionHandler(c *gin.Context) {
	sess := s.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"createdAt": sess.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) resetHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return
	}
	sess.Reset()
	s.conversation(sess.ID).Reset()
	publish(sess, event.TypeStatus, event.Status{Level: "info", Message: "session reset"})
	logger.Info("api: session reset", logger.FieldSession, sess.ID)
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) messageHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}

	conv := s.conversation(sess.ID)
	util.SafeGo(func() {
		s.runMessageWorker(sess, conv, req.Text)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// runMessageWorker 在会话工作锁内跑完一条消息的完整事件序列:
// message.user → (tool_call.started → 终态)* → message.model.final。
// 任何失败都收敛为 status{level:error}, 不留下悬挂的工具卡片。
func (s *Server) runMessageWorker(sess *session.Session, conv Conversation, text string) {
	sess.RunExclusive(func() {
		sess.Touch()
		publish(sess, event.TypeMessageUser, event.UserMessage{Text: text})

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.AnswerTimeout)
		defer cancel()

		answer, err := conv.Answer(ctx, text, &publishSink{sess: sess})
		if err != nil {
			logger.Error("api: message worker failed",
				logger.FieldSession, sess.ID,
				logger.FieldError, err,
			)
			publish(sess, event.TypeStatus, event.Status{Level: "error", Message: err.Error()})
			return
		}
		publish(sess, event.TypeMessageModelFinal, event.ModelFinal{Text: answer})
	})
}

func (s *Server) transcriptHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return
	}
	html := view.HTMLTranscript(sess.Reconciler().Snapshot())
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// publish 组帧并发布, 编码失败只记日志。
func publish(sess *session.Session, eventType string, payload any) {
	env, err := event.New(eventType, payload)
	if err != nil {
		logger.Error("api: build event failed",
			logger.FieldSession, sess.ID,
			logger.FieldEventType, eventType,
			logger.FieldError, err,
		)
		return
	}
	sess.Publish(env)
}

// publishSink 把工具调用进度转成事件流。
type publishSink struct {
	sess *session.Session
}

func (p *publishSink) ToolStarted(callID string, rec mcpx.ToolRecord, args map[string]any) {
	publish(p.sess, event.TypeToolCallStarted, event.ToolCallStarted{
		CallID: callID,
		Tool:   rec.FQN,
		Server: rec.Server,
		Args:   args,
	})
}

func (p *publishSink) ToolFinished(callID string, outcome mcpx.CallOutcome) {
	if outcome.IsError {
		var structured json.RawMessage
		if outcome.StructuredContent != nil {
			structured, _ = json.Marshal(outcome.StructuredContent)
		}
		publish(p.sess, event.TypeToolCallError, event.ToolCallError{
			CallID:            callID,
			Message:           outcome.ContentText,
			StructuredContent: structured,
		})
		return
	}
	publish(p.sess, event.TypeToolCallResult, event.ToolCallResult{
		CallID: callID,
		Data:   outcome.Data,
	})
}

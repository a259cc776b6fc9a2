// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 go-chat-v2 错误体系:
//   - L1 哨兵错误: ErrNotFound / ErrDecode / ErrProtocol 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在 (如 session 已过期或从未创建)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrDecode 事件帧解码失败 (非法 JSON 或缺少 type 判别字段)。
	// 对应 DecodeError: 丢帧继续, 非致命。
	ErrDecode = errors.New("frame decode failed")

	// ErrProtocol 事件流协议违例 (重复 started / 未知 callId 的终态事件)。
	// 调和循环记录日志后继续, 不中断会话。
	ErrProtocol = errors.New("protocol violation")

	// ErrChannelClosed 事件通道已被宿主关闭, 不再投递任何帧。
	ErrChannelClosed = errors.New("channel closed")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Reconciler.Apply"
	Code    string // 错误码，如 "DECODE"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is 透传标准库 errors.Is (调用方免于同时 import 两个 errors 包)。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 透传标准库 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }

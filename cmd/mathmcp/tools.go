// tools.go — 四则运算工具注册与实现。
package main

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// divideByZeroMsg 除零的工具错误文案, 逐字进入事件流与展示层。
const divideByZeroMsg = "Division by zero is not allowed."

func newMathServer() *server.MCPServer {
	s := server.NewMCPServer("math", "2.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(numberTool("add", "Add two numbers"), binaryOp(func(a, b float64) (float64, bool) {
		return a + b, true
	}))
	s.AddTool(numberTool("subtract", "Subtract b from a"), binaryOp(func(a, b float64) (float64, bool) {
		return a - b, true
	}))
	s.AddTool(numberTool("multiply", "Multiply two numbers"), binaryOp(func(a, b float64) (float64, bool) {
		return a * b, true
	}))
	s.AddTool(numberTool("divide", "Divide a by b"), binaryOp(func(a, b float64) (float64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	}))

	return s
}

// numberTool 双操作数工具声明。
func numberTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	)
}

// binaryOp 把二元函数包成工具 handler。op 第二个返回值为 false 表示
// 除零这类工具级错误。
func binaryOp(op func(a, b float64) (float64, bool)) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := req.RequireFloat("a")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, err := req.RequireFloat("b")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, ok := op(a, b)
		if !ok {
			return mcp.NewToolResultError(divideByZeroMsg), nil
		}
		return mcp.NewToolResultText(formatNumber(result)), nil
	}
}

// formatNumber 整数结果不带小数点 ("4" 而非 "4.000000")。
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

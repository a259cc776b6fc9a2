package main

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func callBinary(t *testing.T, op string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	handlers := map[string]func(a, b float64) (float64, bool){
		"add":      func(a, b float64) (float64, bool) { return a + b, true },
		"subtract": func(a, b float64) (float64, bool) { return a - b, true },
		"multiply": func(a, b float64) (float64, bool) { return a * b, true },
		"divide": func(a, b float64) (float64, bool) {
			if b == 0 {
				return 0, false
			}
			return a / b, true
		},
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = op
	req.Params.Arguments = args
	res, err := binaryOp(handlers[op])(context.Background(), req)
	if err != nil {
		t.Fatalf("%s handler returned transport error: %v", op, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		op   string
		a, b float64
		want string
	}{
		{"add", 2, 2, "4"},
		{"subtract", 10, 4, "6"},
		{"multiply", 3, 5, "15"},
		{"divide", 9, 2, "4.5"},
		{"divide", 10, 4, "2.5"},
	}
	for _, c := range cases {
		res := callBinary(t, c.op, map[string]any{"a": c.a, "b": c.b})
		if res.IsError {
			t.Fatalf("%s(%v,%v): unexpected error: %s", c.op, c.a, c.b, resultText(t, res))
		}
		if got := resultText(t, res); got != c.want {
			t.Fatalf("%s(%v,%v) = %q, want %q", c.op, c.a, c.b, got, c.want)
		}
	}
}

func TestDivideByZeroIsToolError(t *testing.T) {
	res := callBinary(t, "divide", map[string]any{"a": 1.0, "b": 0.0})
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	if got := resultText(t, res); got != "Division by zero is not allowed." {
		t.Fatalf("error text = %q", got)
	}
}

func TestMissingOperandIsToolError(t *testing.T) {
	res := callBinary(t, "add", map[string]any{"a": 1.0})
	if !res.IsError {
		t.Fatal("expected tool error for missing operand")
	}
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{
		4:    "4",
		4.5:  "4.5",
		-0.5: "-0.5",
	}
	for in, want := range cases {
		if got := formatNumber(in); got != want {
			t.Fatalf("formatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

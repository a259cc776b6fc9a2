// Package markdown 提供模型输出 → 安全结构化标记的渲染管线。
//
// 管线顺序 (不可调换):
//  1. 无条件转义 5 个 HTML 元字符 (& < > " ') — 即使后续 markdown
//     解析存在缝隙, 模型输出中的字面标签也无法成为活动标记;
//  2. goldmark 按 CommonMark 解析转义后的文本;
//  3. 原始 HTML token 整体丢弃 (goldmark 默认安全模式, 纵深防御 —
//     经过第 1 步后理论上已不存在);
//  4. 链接目标仅放行 http:/https:/mailto: 白名单 scheme, 其余
//     (含协议相对、javascript:、data:) 替换为无害占位符。
//
// 先转义再解析是有意为之: CommonMark 会把实体引用解码回字符再安全
// 重编码输出, 因此 **bold** 等合法格式不受影响, 而 <script> 永远
// 以实体形态进入解析器, 不可能被识别为原始 HTML。Render 永不失败。
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	gmutil "github.com/yuin/goldmark/util"
)

// SafePlaceholder 非白名单链接目标的替换值。
const SafePlaceholder = "#"

var metaEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Renderer 安全 markdown 渲染器。并发安全 (goldmark.Markdown 可重入)。
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer 构造渲染器。
//
// 注意: 绝不启用 html.WithUnsafe() — 第 3 步依赖默认安全模式。
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithASTTransformers(
				gmutil.Prioritized(&linkSchemeTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			// 单个换行符渲染为 <br> (聊天文本习惯)。
			html.WithHardWraps(),
		),
	)
	return &Renderer{md: md}
}

// Render 将原始文本渲染为可直接插入文档的安全标记。任意输入
// (包括对抗性标记语法) 均产生安全输出, 永不返回错误。
func (r *Renderer) Render(raw string) string {
	escaped := metaEscaper.Replace(raw)

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(escaped), &buf); err != nil {
		// 构造上不可达 (输入已是纯文本实体流); 兜底仍输出转义文本。
		return "<p>" + escaped + "</p>"
	}
	return buf.String()
}

var std = NewRenderer()

// Render 包级默认渲染器。
func Render(raw string) string { return std.Render(raw) }

// ========================================
// 链接 scheme 白名单
// ========================================

// linkSchemeTransformer 在 AST 阶段把非白名单目标改写为占位符。
//
// 自动链接 (<url> / GFM linkify) 在本管线中不会出现: 尖括号已在第 1 步
// 转义, linkify 扩展未启用。
type linkSchemeTransformer struct{}

func (t *linkSchemeTransformer) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Link:
			v.Destination = safeDestination(v.Destination)
		case *ast.Image:
			v.Destination = safeDestination(v.Destination)
		}
		return ast.WalkContinue, nil
	})
}

// allowedSchemes 显式白名单。无 scheme (相对路径、协议相对 //host)
// 一律视为不放行。
var allowedSchemes = []string{"http:", "https:", "mailto:"}

func safeDestination(dest []byte) []byte {
	candidate := strings.TrimSpace(strings.ToLower(string(dest)))
	for _, scheme := range allowedSchemes {
		if strings.HasPrefix(candidate, scheme) {
			return dest
		}
	}
	return []byte(SafePlaceholder)
}

package services

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// RenderService converts document and page bodies from markdown to
// HTML. Raw HTML in the source is NOT passed through: goldmark's
// default (non-unsafe) renderer drops it. Fenced code blocks are
// syntax-highlighted server-side so the frontend needs no highlighter
// of its own.
type RenderService struct {
	md goldmark.Markdown
}

func NewRenderService() *RenderService {
	// One converter, reused for every request; goldmark instances are
	// safe for concurrent Convert calls.
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(
				util.Prioritized(&codeBlockRenderer{}, 200),
			),
		),
	)
	return &RenderService{md: md}
}

func (s *RenderService) RenderHTML(source string) (string, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// codeBlockRenderer replaces goldmark's default fenced-code output
// with chroma-highlighted HTML. Blocks without a language tag fall
// back to an escaped plain <pre>.
type codeBlockRenderer struct{}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	language := string(n.Language(source))

	var code strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		code.Write(segment.Value(source))
	}

	if language != "" {
		var highlighted strings.Builder
		if err := quick.Highlight(&highlighted, code.String(), language, "html", "github"); err == nil {
			_, _ = w.WriteString(highlighted.String())
			return ast.WalkSkipChildren, nil
		}
	}

	_, _ = w.WriteString("<pre><code>")
	_, _ = w.Write(util.EscapeHTML([]byte(code.String())))
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

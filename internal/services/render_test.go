package services

import (
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	svc := NewRenderService()

	t.Run("renders basic markdown", func(t *testing.T) {
		out, err := svc.RenderHTML("# Title\n\nSome *emphasis* here.")
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if !strings.Contains(out, "<h1>Title</h1>") {
			t.Errorf("expected h1 in output, got %q", out)
		}
		if !strings.Contains(out, "<em>emphasis</em>") {
			t.Errorf("expected em in output, got %q", out)
		}
	})

	t.Run("renders GFM tables and strikethrough", func(t *testing.T) {
		src := "| a | b |\n|---|---|\n| 1 | 2 |\n\n~~gone~~"
		out, err := svc.RenderHTML(src)
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if !strings.Contains(out, "<table>") {
			t.Errorf("expected table in output, got %q", out)
		}
		if !strings.Contains(out, "<del>gone</del>") {
			t.Errorf("expected del in output, got %q", out)
		}
	})

	t.Run("highlights fenced code with a language", func(t *testing.T) {
		src := "```go\nfunc main() {}\n```"
		out, err := svc.RenderHTML(src)
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if !strings.Contains(out, "<span") {
			t.Errorf("expected highlighted spans in output, got %q", out)
		}
		if !strings.Contains(out, "func") {
			t.Errorf("expected code text in output, got %q", out)
		}
	})

	t.Run("escapes fenced code without a language", func(t *testing.T) {
		src := "```\na < b && c > d\n```"
		out, err := svc.RenderHTML(src)
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if !strings.Contains(out, "<pre><code>") {
			t.Errorf("expected plain pre/code in output, got %q", out)
		}
		if !strings.Contains(out, "a &lt; b") {
			t.Errorf("expected escaped code in output, got %q", out)
		}
	})

	t.Run("does not pass raw HTML through", func(t *testing.T) {
		out, err := svc.RenderHTML("hello <script>alert(1)</script> world")
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if strings.Contains(out, "<script>") {
			t.Errorf("raw HTML leaked into output: %q", out)
		}
	})

	t.Run("empty source renders empty", func(t *testing.T) {
		out, err := svc.RenderHTML("")
		if err != nil {
			t.Fatalf("RenderHTML failed: %v", err)
		}
		if out != "" {
			t.Errorf("expected empty output, got %q", out)
		}
	})
}

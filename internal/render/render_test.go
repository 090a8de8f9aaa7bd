package render

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	r := New()

	md := "# Daily brief\n\nFirst line\nsecond line with `code` and [a link](https://example.com).\n\n" +
		"- one\n- two\n\n> quoted\n\n```\nx := 1\n```\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	out, err := r.Render(md)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"<!DOCTYPE html>",
		`<body style="font-family:`,
		`<h1 style="font-size: 2em;`,
		`<p style="margin-bottom: 16px;`,
		"First line<br",
		`<code style="background-color: #f4f4f4;`,
		`<a href="https://example.com" style="color: #0066cc;`,
		`<ul style="margin-bottom: 16px;`,
		`<li style="margin-bottom: 8px;`,
		`<blockquote style="border-left: 4px solid #ddd;`,
		`<pre style="background-color: #f4f4f4;`,
		`<table style="border-collapse: collapse;`,
		`font-weight: 600;">a</th>`,
		"</body>\n</html>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestRender_Empty(t *testing.T) {
	t.Parallel()
	out, err := New().Render("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Errorf("empty input should still produce a document, got %q", out)
	}
}

func TestRender_EscapesRawHTML(t *testing.T) {
	t.Parallel()
	out, err := New().Render("hello <script>alert(1)</script>")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "<script>") {
		t.Errorf("raw html leaked into output: %s", out)
	}
}

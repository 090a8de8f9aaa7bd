// Package render turns worker markdown output into a standalone HTML document
// with inline styles, which is what mail clients keep.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const (
	headingStyle = "font-weight: 600; color: #333;"
	bodyStyle    = "font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; " +
		"line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background-color: #ffffff;"
	preStyle = "background-color: #f4f4f4; padding: 16px; border-radius: 5px; overflow-x: auto; margin-bottom: 16px; line-height: 1.4;"
)

var headingSizes = map[int]string{
	1: "font-size: 2em; margin-top: 24px; margin-bottom: 16px; ",
	2: "font-size: 1.5em; margin-top: 24px; margin-bottom: 16px; ",
	3: "font-size: 1.25em; margin-top: 24px; margin-bottom: 16px; ",
	4: "font-size: 1.1em; margin-top: 20px; margin-bottom: 12px; ",
	5: "font-size: 1em; margin-top: 16px; margin-bottom: 12px; ",
	6: "font-size: 0.9em; margin-top: 16px; margin-bottom: 12px; ",
}

var styles = map[ast.NodeKind]string{
	ast.KindParagraph:  "margin-bottom: 16px; line-height: 1.6; color: #333;",
	ast.KindListItem:   "margin-bottom: 8px; color: #333;",
	ast.KindList:       "margin-bottom: 16px; padding-left: 30px; line-height: 1.6;",
	ast.KindLink:       "color: #0066cc; text-decoration: underline;",
	ast.KindAutoLink:   "color: #0066cc; text-decoration: underline;",
	ast.KindCodeSpan:   "background-color: #f4f4f4; padding: 2px 6px; border-radius: 3px; font-family: 'Courier New', monospace; font-size: 0.9em;",
	ast.KindBlockquote: "border-left: 4px solid #ddd; margin: 16px 0; padding-left: 16px; color: #666; font-style: italic;",
	east.KindTable:     "border-collapse: collapse; width: 100%; margin-bottom: 16px;",
	east.KindTableCell: "border: 1px solid #ddd; padding: 8px 12px; text-align: left;",
}

// Renderer is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithASTTransformers(util.Prioritized(inlineStyler{}, 100)),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render converts markdown to a complete HTML document.
func (r *Renderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	body := strings.ReplaceAll(buf.String(), "<pre>", `<pre style="`+preStyle+`">`)

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	doc.WriteString(`    <meta charset="UTF-8">` + "\n")
	doc.WriteString(`    <meta name="viewport" content="width=device-width, initial-scale=1.0">` + "\n")
	doc.WriteString("</head>\n")
	doc.WriteString(`<body style="` + bodyStyle + `">` + "\n")
	doc.WriteString(body)
	doc.WriteString("</body>\n</html>")
	return doc.String(), nil
}

type inlineStyler struct{}

func (inlineStyler) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			node.SetAttributeString("style", []byte(headingSizes[node.Level]+headingStyle))
		case *east.TableCell:
			style := styles[east.KindTableCell]
			if _, ok := node.Parent().(*east.TableHeader); ok {
				style += " background-color: #f4f4f4; font-weight: 600;"
			}
			node.SetAttributeString("style", []byte(style))
		default:
			if style, ok := styles[n.Kind()]; ok {
				n.SetAttributeString("style", []byte(style))
			}
		}
		return ast.WalkContinue, nil
	})
}

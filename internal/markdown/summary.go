package markdown

import (
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
)

// Summary returns the first top-level paragraph of src as a single line.
// Inline code keeps its backticks, links are reduced to their text, and
// other inline markup is dropped. Headings and code blocks before the first
// paragraph are skipped.
func Summary(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}

	doc := gm.Parse([]byte(src), gmparser.NewWithExtensions(
		gmparser.CommonExtensions|gmparser.Autolink,
	))

	for _, child := range doc.GetChildren() {
		if p, ok := child.(*ast.Paragraph); ok {
			return inlineText(p)
		}
	}
	return ""
}

func inlineText(node ast.Node) string {
	var b strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Literal)
		case *ast.Code:
			b.WriteByte('`')
			b.Write(n.Literal)
			b.WriteByte('`')
		case *ast.Softbreak, *ast.Hardbreak:
			b.WriteByte(' ')
		case *ast.HTMLSpan:
			return ast.SkipChildren
		}
		return ast.GoToNext
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

package encoding

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText strips inline markdown (links, emphasis, code spans) from a
// repository description so it can be printed on a terminal.
func PlainText(in string) string {
	if in == "" {
		return ""
	}
	src := []byte(in)
	root := goldmark.New().Parser().Parse(text.NewReader(src))
	out, err := DecodeTextFromNode(root, src)
	if err != nil {
		return in
	}
	return strings.Join(strings.Fields(out), " ")
}

// DecodeTextFromNode extracts text content from an AST node
func DecodeTextFromNode(node ast.Node, src []byte) (string, error) {
	var sb strings.Builder
	err := ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeSpan:
			for c := t.FirstChild(); c != nil; c = c.NextSibling() {
				if seg, ok := c.(*ast.Text); ok {
					sb.Write(seg.Segment.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading:
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

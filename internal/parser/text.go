package parser

import (
	"bytes"
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var errNotUTF8 = errors.New("file is not valid UTF-8 text")

func readUTF8(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, errNotUTF8
	}
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), nil
}

type markdownText struct{}

func (markdownText) Name() string { return "markdown" }
func (markdownText) Supports(ext string) bool {
	return ext == ".md" || ext == ".markdown"
}

func (markdownText) Extract(_ context.Context, filePath string) (string, error) {
	src, err := readUTF8(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(src)
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// markdownToText drops markdown syntax and keeps the readable text, one
// blank line between blocks
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case east.KindTableCell:
				b.WriteString("\t")
			case east.KindTableRow, east.KindTableHeader:
				b.WriteString("\n")
			default:
				if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
					b.WriteString("\n\n")
				}
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(b.String(), "\n\n")), nil
}

type plainText struct{}

func (plainText) Name() string { return "text" }
func (plainText) Supports(ext string) bool {
	return ext == ".txt" || ext == ".md" || ext == ".markdown" || ext == ".csv"
}

func (plainText) Extract(_ context.Context, filePath string) (string, error) {
	data, err := readUTF8(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

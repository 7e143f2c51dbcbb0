package parser

import (
	"context"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfPlainText struct{}

func (pdfPlainText) Name() string             { return "pdf-plain" }
func (pdfPlainText) Supports(ext string) bool { return ext == ".pdf" }

// whole document in one pass
func (pdfPlainText) Extract(_ context.Context, filePath string) (string, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type pdfPages struct{}

func (pdfPages) Name() string             { return "pdf-pages" }
func (pdfPages) Supports(ext string) bool { return ext == ".pdf" }

// page by page, skipping pages that cannot be decoded
func (pdfPages) Extract(ctx context.Context, filePath string) (string, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

type pdfRows struct{}

func (pdfRows) Name() string             { return "pdf-rows" }
func (pdfRows) Supports(ext string) bool { return ext == ".pdf" }

// rebuilds lines from positioned text runs, for files whose content
// streams confuse the plain text readers
func (pdfRows) Extract(ctx context.Context, filePath string) (string, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

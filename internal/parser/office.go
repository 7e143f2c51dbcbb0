package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

type docxText struct{}

func (docxText) Name() string             { return "docx" }
func (docxText) Supports(ext string) bool { return ext == ".docx" }

func (docxText) Extract(_ context.Context, filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	// GetContent returns the raw document.xml
	return extractTextFromXML(r.Editable().GetContent())
}

type pptxText struct{}

func (pptxText) Name() string             { return "pptx" }
func (pptxText) Supports(ext string) bool { return ext == ".pptx" }

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (pptxText) Extract(ctx context.Context, filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		if m := slideRe.FindStringSubmatch(file.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, file: file})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		text, err := extractTextFromXML(string(data))
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "## Slide %d\n%s\n\n", s.num, text)
	}
	return b.String(), nil
}

// extractTextFromXML collects the character data of every <t> element
// (w:t in Word, a:t in DrawingML) and ends a line at every paragraph.
func extractTextFromXML(xmlContent string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(xmlContent))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

type excelizeSheets struct{}

func (excelizeSheets) Name() string             { return "excelize" }
func (excelizeSheets) Supports(ext string) bool { return ext == ".xlsx" || ext == ".xlsm" }

func (excelizeSheets) Extract(_ context.Context, filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", err
		}
		writeSheet(&b, sheetName, rows)
	}
	return b.String(), nil
}

type xlsxSheets struct{}

func (xlsxSheets) Name() string             { return "xlsx" }
func (xlsxSheets) Supports(ext string) bool { return ext == ".xlsx" }

func (xlsxSheets) Extract(_ context.Context, filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		writeSheet(&b, sheet.Name, rows)
	}
	return b.String(), nil
}

func writeSheet(b *strings.Builder, name string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "## Sheet: %s\n", name)
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmtext "github.com/yuin/goldmark/text"

	"quiz-rag/internal/models"
)

var (
	docxTextRe   = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	pptxTextRe   = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideNameRe  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	docxParaEnd  = "</w:p>"
	pptxParaEnd  = "</a:p>"
	supportedExt = []string{".txt", ".md", ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm"}
)

// SupportedExtensions lists the file types LoadText understands.
func SupportedExtensions() []string {
	return append([]string(nil), supportedExt...)
}

// LoadText reads a source file and returns its plain text.
// Missing, unreadable and unsupported files are reported as models.ErrInput.
func LoadText(filePath string) (string, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: file not found: %s", models.ErrInput, filePath)
		}
		return "", fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", models.ErrInput, filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	text, err := parseByExt(filePath, ext)
	if err != nil && !errors.Is(err, models.ErrInput) {
		return "", fmt.Errorf("%w: cannot read %s: %v", models.ErrInput, filePath, err)
	}
	return text, err
}

func parseByExt(filePath, ext string) (string, error) {
	switch ext {
	case ".txt":
		return parseText(filePath)
	case ".md":
		return parseMarkdown(filePath)
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm":
		return parseXLSM(filePath)
	default:
		return "", fmt.Errorf("%w: unsupported file format: %s", models.ErrInput, ext)
	}
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseMarkdown(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(data)
}

// markdownToText keeps the text nodes of a Markdown document and drops the markup.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gmtext.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteString(" ")
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", fmt.Errorf("%w: unreadable pdf: %v", models.ErrInput, err)
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable docx: %v", models.ErrInput, err)
	}
	defer r.Close()

	return extractTextFromXML(r.Editable().GetContent(), docxParaEnd, docxTextRe), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable pptx: %v", models.ErrInput, err)
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var text strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: unreadable slide %s: %v", models.ErrInput, s.file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: unreadable slide %s: %v", models.ErrInput, s.file.Name, err)
		}
		text.WriteString(extractTextFromXML(string(data), pptxParaEnd, pptxTextRe))
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable xlsx: %v", models.ErrInput, err)
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				if v := strings.TrimSpace(cell.String()); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				text.WriteString(strings.Join(cells, " "))
				text.WriteString("\n")
			}
		}
	}
	return text.String(), nil
}

func parseXLSM(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable workbook: %v", models.ErrInput, err)
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if v := strings.TrimSpace(cell); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				text.WriteString(strings.Join(cells, " "))
				text.WriteString("\n")
			}
		}
	}
	return text.String(), nil
}

// extractTextFromXML collects the text runs of an Office XML part, one line per paragraph.
func extractTextFromXML(xmlContent, paraEnd string, runRe *regexp.Regexp) string {
	var lines []string
	for _, para := range strings.Split(xmlContent, paraEnd) {
		var line strings.Builder
		for _, m := range runRe.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}

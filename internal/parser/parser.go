package parser

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyDocument     = errors.New("no text extracted")
)

// LoadFile reads a local file and returns it as a cleaned Document.
func LoadFile(filePath string) (models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	var (
		raw   string
		pages int
		err   error
	)
	switch ext {
	case ".pdf":
		raw, pages, err = parsePDF(filePath)
	case ".docx":
		raw, err = parseDOCX(filePath)
	case ".pptx":
		raw, pages, err = parsePPTX(filePath)
	case ".xlsx":
		raw, pages, err = parseXLSX(filePath)
	case ".ods":
		raw, pages, err = parseODS(filePath)
	case ".md", ".markdown":
		raw, err = parseMarkdown(filePath)
	case ".html", ".htm":
		raw, err = parseHTML(filePath)
	case ".txt", "":
		raw, err = parseText(filePath)
	default:
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	content := Clean(raw)
	if content == "" {
		return models.Document{}, fmt.Errorf("%w: %s", ErrEmptyDocument, filePath)
	}

	meta := map[string]string{
		"filename": filepath.Base(filePath),
		"format":   strings.TrimPrefix(ext, "."),
	}
	if pages > 0 {
		meta["pages"] = strconv.Itoa(pages)
	}
	log.Debug().Str("file", filePath).Int("chars", len(content)).Msg("Parsed file")

	return models.Document{
		ID:        helper.DocumentID(filePath),
		SourceURI: filePath,
		RawText:   content,
		Metadata:  meta,
	}, nil
}

// LoadFiles loads each path, skipping and logging the ones that fail.
func LoadFiles(paths []string) ([]models.Document, error) {
	var docs []models.Document
	for _, p := range paths {
		doc, err := LoadFile(p)
		if err != nil {
			log.Warn().Err(err).Str("file", p).Msg("Skipping file")
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 && len(paths) > 0 {
		return nil, fmt.Errorf("%w: none of %d files could be loaded", ErrEmptyDocument, len(paths))
	}
	return docs, nil
}

func parsePDF(filePath string) (string, int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, err
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}
	return b.String(), numPages, nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return extractTextFromXML(r.Editable().GetContent(), "<w:t", "</w:t>"), nil
}

func parsePPTX(filePath string) (string, int, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	// slide10.xml must follow slide9.xml
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	var b strings.Builder
	for _, file := range slides {
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		b.WriteString(extractTextFromXML(string(data), "<a:t", "</a:t>"))
		b.WriteString("\n\n")
	}
	return b.String(), len(slides), nil
}

func slideNumber(name string) int {
	n := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return v
}

func parseXLSX(filePath string) (string, int, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&b, "Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), len(f.Sheets), nil
}

func parseODS(filePath string) (string, int, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var b strings.Builder
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), len(sheets), nil
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
	return MarkdownToText(data), nil
}

func parseHTML(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HTMLToText(f)
}

// MarkdownToText renders the text content of a markdown document, dropping
// markup such as emphasis markers, heading hashes and link targets.
func MarkdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteString("\n")
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
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			b.WriteString("\n")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// extractTextFromXML collects the character data of every openTag..closeTag element.
// openTag is matched as a prefix so attributes on the tag are tolerated.
func extractTextFromXML(xmlContent, openTag, closeTag string) string {
	var b strings.Builder
	rest := xmlContent
	for {
		i := strings.Index(rest, openTag)
		if i < 0 {
			break
		}
		rest = rest[i+len(openTag):]
		// skip <w:tab/>, <w:tbl> and friends
		if len(rest) > 0 && rest[0] != '>' && rest[0] != ' ' {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			break
		}
		b.WriteString(rest[:end])
		b.WriteString(" ")
		rest = rest[end+len(closeTag):]
	}
	return unescapeXML(b.String())
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

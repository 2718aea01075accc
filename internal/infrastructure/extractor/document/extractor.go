package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/infrastructure/chunking"
)

const (
	MimePlain = "text/plain"
	MimePDF   = "application/pdf"
	MimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxText      = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
	docxTab       = regexp.MustCompile(`<w:tab/>`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// Extractor turns uploaded bytes into text. PDF pages are joined with
// chunking.PageBreak so segments keep their page range.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, mimeType string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch normalizeMime(mimeType, content) {
	case MimePDF:
		return extractPDF(content)
	case MimeDOCX:
		return extractDOCX(content)
	default:
		return extractPlain(content)
	}
}

func normalizeMime(mimeType string, content []byte) string {
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	switch {
	case mimeType == MimePDF || bytes.HasPrefix(content, []byte("%PDF-")):
		return MimePDF
	case mimeType == MimeDOCX:
		return MimeDOCX
	default:
		return strings.ToLower(mimeType)
	}
}

func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract plain text", errors.New("content is not valid utf-8"))
	}
	return strings.TrimSpace(string(content)), nil
}

func extractPDF(content []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", domain.WrapError(domain.ErrInvalidInput, "read pdf", fmt.Errorf("%v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}

	pages := r.NumPage()
	texts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			slog.Warn("pdf_page_extract_failed", "page", i, "error", pageErr)
			texts = append(texts, "")
			continue
		}
		texts = append(texts, cleanExtraNewlines(strings.TrimSpace(pageText)))
	}
	return strings.TrimSpace(strings.Join(texts, chunking.PageBreak)), nil
}

func extractDOCX(content []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "open docx", err)
	}
	defer r.Close()
	return docxPlainText(r.Editable().GetContent()), nil
}

// docxPlainText keeps one paragraph per block so headings and table rows stay
// on their own lines.
func docxPlainText(documentXML string) string {
	var sb strings.Builder
	for _, para := range docxParagraph.FindAllString(documentXML, -1) {
		para = docxTab.ReplaceAllString(para, "<w:t>\t</w:t>")
		var line strings.Builder
		for _, m := range docxText.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if text := strings.TrimSpace(line.String()); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(cleanExtraNewlines(sb.String()))
}

func cleanExtraNewlines(text string) string {
	return multiNewlines.ReplaceAllString(text, "\n\n")
}

package document

import (
	"context"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func TestExtractPlainText(t *testing.T) {
	text, err := NewExtractor().Extract(context.Background(), "text/plain; charset=utf-8", []byte("  Tender notice\n\nDeadline: 1 May  "))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Tender notice\n\nDeadline: 1 May" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractRejectsBinaryAsPlainText(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), "application/octet-stream", []byte{0xff, 0xfe, 0x00})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractBrokenPDFIsInvalidInput(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), "", []byte("%PDF-1.7 truncated"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDocxPlainTextKeepsParagraphs(t *testing.T) {
	xml := `<w:body>` +
		`<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>1 General</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t xml:space="preserve">Price &amp; terms </w:t></w:r><w:r><w:t>apply.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t></w:r></w:p>` +
		`<w:p></w:p>` +
		`</w:body>`
	got := docxPlainText(xml)
	want := "1 General\n\nPrice & terms apply.\n\na\tb"
	if got != want {
		t.Fatalf("docxPlainText() = %q want %q", got, want)
	}
}

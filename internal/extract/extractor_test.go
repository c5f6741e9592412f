package extract

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/test/fixtures"
)

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n...")) {
		t.Error("expected PDF magic to match")
	}
	if IsPDF([]byte("hello")) || IsPDF(nil) {
		t.Error("non-PDF content should not match")
	}
}

func TestExtractBytes_pages(t *testing.T) {
	e := NewExtractor()
	pages, err := e.ExtractBytes(fixtures.BuildPDF("Hello page one", "Second (page) text"))
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Number != 1 || pages[1].Number != 2 {
		t.Errorf("page numbers: %d, %d", pages[0].Number, pages[1].Number)
	}
	if !strings.Contains(pages[0].Text, "Hello page one") {
		t.Errorf("page 1 text = %q", pages[0].Text)
	}
	if !strings.Contains(pages[1].Text, "Second (page) text") {
		t.Errorf("page 2 text = %q", pages[1].Text)
	}
}

func TestExtractBytes_multiline(t *testing.T) {
	pages, err := NewExtractor().ExtractBytes(fixtures.BuildPDF("first line\nsecond line"))
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(pages[0].Text, "first line") || !strings.Contains(pages[0].Text, "second line") {
		t.Errorf("text = %q", pages[0].Text)
	}
}

func TestExtractBytes_notPDF(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("just some text"))
	if err != ErrNotPDF {
		t.Errorf("expected ErrNotPDF, got %v", err)
	}
}

func TestExtractBytes_corrupt(t *testing.T) {
	content := append([]byte("%PDF-1.4\n"), []byte(strings.Repeat("garbage ", 40))...)
	if _, err := NewExtractor().ExtractBytes(content); err == nil {
		t.Error("expected error for truncated PDF")
	}
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := fixtures.WritePDF(t, dir, "lease.pdf", fixtures.LeasePages...)
	pages, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != len(fixtures.LeasePages) {
		t.Fatalf("expected %d pages, got %d", len(fixtures.LeasePages), len(pages))
	}
	if !strings.Contains(pages[2].Text, "security deposit") {
		t.Errorf("page 3 text = %q", pages[2].Text)
	}
	if _, err := NewExtractor().Extract(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

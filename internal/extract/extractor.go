// Package extract provides per-page text extraction from PDF documents.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrNotPDF is returned when content does not start with the PDF magic bytes.
var ErrNotPDF = errors.New("not a PDF document")

var pdfMagic = []byte("%PDF-")

// Page is the extracted text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// IsPDF reports whether header starts with the PDF magic bytes.
func IsPDF(header []byte) bool {
	return bytes.HasPrefix(header, pdfMagic)
}

// Extractor extracts plain text from PDF files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the PDF at path and returns the text of every page in order.
// Pages without a content stream are returned with empty text.
func (e *Extractor) Extract(path string) ([]Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content)
}

// ExtractBytes extracts per-page text from in-memory PDF content.
func (e *Extractor) ExtractBytes(content []byte) ([]Page, error) {
	if !IsPDF(content) {
		return nil, ErrNotPDF
	}
	return extractPDF(content)
}

package pdftext

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

type Document interface {
	NumPages() int
	// PageText returns the plain text of page n, counted from 1.
	PageText(n int) (string, error)
	Close() error
}

type Extractor interface {
	Open(path string) (Document, error)
}

// PDFExtractor reads text with ledongthuc/pdf. The library panics on some
// malformed files, so every call recovers into an error.
type PDFExtractor struct{}

func NewExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (PDFExtractor) Open(path string) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("failed to parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	return &pdfDocument{file: f, reader: reader}, nil
}

type pdfDocument struct {
	file   *os.File
	reader *pdf.Reader
}

func (d *pdfDocument) NumPages() int {
	return d.reader.NumPage()
}

func (d *pdfDocument) PageText(n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to read page %d: %v", n, r)
		}
	}()

	if n < 1 || n > d.reader.NumPage() {
		return "", fmt.Errorf("page %d out of range 1..%d", n, d.reader.NumPage())
	}

	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}

	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to read page %d: %w", n, err)
	}
	return text, nil
}

func (d *pdfDocument) Close() error {
	return d.file.Close()
}

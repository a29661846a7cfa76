// Package extract pulls plain text out of uploaded documents so the ingestion
// pipeline can chunk and embed them.
//
// Supported formats are dispatched on the filename extension: PDF files go
// through a PDF text extractor, .txt and .md files are decoded as UTF-8.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedFormat indicates the file extension is not handled.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyContent indicates extraction succeeded but produced no text.
	ErrEmptyContent = errors.New("document contains no extractable text")
)

// Text extracts the plain-text content of a document. The format is chosen by
// the filename extension (case-insensitive). A document whose extracted text
// is blank returns ErrEmptyContent.
func Text(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = pdfText(data)
	case ".txt", ".md":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyContent, filename)
	}
	return text, nil
}

// Supported reports whether the filename has an extension Text can handle.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt", ".md":
		return true
	default:
		return false
	}
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return buf.String(), nil
}

package services

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// TextExtractor is the boundary to document text extraction. The ingestion
// pipeline only cares about the resulting string; how bytes become text
// (PDF parsing, OCR) lives behind this interface.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// LocalTextExtractor reads plain UTF-8 text files (txt, md) from disk.
type LocalTextExtractor struct{}

func NewLocalTextExtractor() *LocalTextExtractor {
	return &LocalTextExtractor{}
}

func (e *LocalTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", path)
	}
	return string(raw), nil
}

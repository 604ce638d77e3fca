package docsource

import (
	"context"
	"os"

	"golang.org/x/text/unicode/norm"
)

// TextSource reads plain UTF-8 text files as single-page documents.
type TextSource struct{}

// NewText creates a plain-text source.
func NewText() *TextSource {
	return &TextSource{}
}

func (s *TextSource) PageCount(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, &ExtractionError{Path: path, Err: err}
	}
	return 1, nil
}

func (s *TextSource) ExtractText(ctx context.Context, path string, onProgress ProgressFunc) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	if onProgress != nil {
		onProgress(1, 1)
	}
	return norm.NFC.String(string(data)), nil
}

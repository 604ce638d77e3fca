// Package docsource provides the document text layer: page counting, text
// extraction from PDFs and plain files, and the OCR fallback used when the
// extracted text layer is too thin to be real.
package docsource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ExtractionError marks a failure that is unrecoverable for this document and
// is surfaced to the caller as-is.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtractionError reports whether err is an extraction failure.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// ProgressFunc reports extraction progress as pages complete.
type ProgressFunc func(done, total int)

// Source reads a document's text layer.
type Source interface {
	// PageCount returns the number of pages, 1 for unpaged formats.
	PageCount(ctx context.Context, path string) (int, error)
	// ExtractText returns the document's raw text. onProgress may be nil.
	ExtractText(ctx context.Context, path string, onProgress ProgressFunc) (string, error)
}

// ForPath picks the Source for a file by extension. Anything that is not a
// PDF is read as plain text.
func ForPath(path string) Source {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPDF()
	}
	return NewText()
}

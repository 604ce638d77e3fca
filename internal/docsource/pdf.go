package docsource

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFSource extracts the embedded text layer of a PDF, page by page.
type PDFSource struct{}

// NewPDF creates a PDF text-layer source.
func NewPDF() *PDFSource {
	return &PDFSource{}
}

func (s *PDFSource) PageCount(ctx context.Context, path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, &ExtractionError{Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck
	return r.NumPage(), nil
}

func (s *PDFSource) ExtractText(ctx context.Context, path string, onProgress ProgressFunc) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck

	total := r.NumPage()
	var b strings.Builder
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", &ExtractionError{Path: path, Err: err}
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
		if onProgress != nil {
			onProgress(i, total)
		}
	}
	return b.String(), nil
}

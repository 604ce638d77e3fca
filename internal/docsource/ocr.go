package docsource

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// OCRExtractor produces text for scanned documents whose embedded text layer
// is missing or too short to trust.
type OCRExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// OCRConfig selects the OCR backend.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// NewOCR creates an OCRExtractor based on config.
func NewOCR(cfg OCRConfig) (OCRExtractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("docsource: mistral OCR requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("docsource: unknown OCR provider %q", cfg.Provider)
	}
}

// PdfToText shells out to the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. Empty binPath uses "pdftotext".
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &ExtractionError{Path: path, Err: eris.Wrapf(err, "pdftotext: %s", stderr.String())}
	}
	return stdout.String(), nil
}

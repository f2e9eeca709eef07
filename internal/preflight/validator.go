// Package preflight checks drawings and models locally before they are
// sent to the service.
package preflight

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

// Format is a detected drawing file format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatTIFF    Format = "tiff"
	FormatUnknown Format = "unknown"
)

var signatures = []struct {
	format Format
	magic  []byte
}{
	{FormatPDF, []byte("%PDF-")},
	{FormatPNG, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{FormatJPEG, []byte{0xff, 0xd8, 0xff}},
	{FormatTIFF, []byte{'I', 'I', 0x2a, 0x00}},
	{FormatTIFF, []byte{'M', 'M', 0x00, 0x2a}},
}

// DetectFormat identifies a drawing by its leading bytes.
func DetectFormat(data []byte) Format {
	for _, s := range signatures {
		if bytes.HasPrefix(data, s.magic) {
			return s.format
		}
	}
	return FormatUnknown
}

// Report describes a drawing that passed validation. Pages is 0 when it
// could not be determined.
type Report struct {
	Format Format
	Bytes  int
	Pages  int
}

// Validator enforces the configured size limits. Format and page checks
// fail only in strict mode.
type Validator struct {
	limits config.PreflightConfig
	logger *observability.Logger
}

// NewValidator creates a validator. Zero limits are not enforced.
func NewValidator(limits config.PreflightConfig, logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Validator{limits: limits, logger: logger.WithOperation("preflight")}
}

// Check validates a drawing and its optional model.
func (v *Validator) Check(drawing, model []byte) (*Report, error) {
	if len(drawing) == 0 {
		return nil, domain.ValidationError("drawing is empty", nil)
	}
	if v.limits.MaxDrawingBytes > 0 && int64(len(drawing)) > v.limits.MaxDrawingBytes {
		return nil, domain.ValidationError(
			fmt.Sprintf("drawing is %d bytes, limit is %d", len(drawing), v.limits.MaxDrawingBytes), nil)
	}

	if model != nil {
		if len(model) == 0 {
			return nil, domain.ValidationError("model is empty", nil)
		}
		if v.limits.MaxModelBytes > 0 && int64(len(model)) > v.limits.MaxModelBytes {
			return nil, domain.ValidationError(
				fmt.Sprintf("model is %d bytes, limit is %d", len(model), v.limits.MaxModelBytes), nil)
		}
	}

	report := &Report{Format: DetectFormat(drawing), Bytes: len(drawing), Pages: 1}

	switch report.Format {
	case FormatUnknown:
		if err := v.advise(domain.ValidationError("drawing is not a PDF, PNG, JPEG or TIFF file", nil)); err != nil {
			return nil, err
		}
		report.Pages = 0
	case FormatPDF:
		pages, err := countPages(drawing)
		if err != nil {
			if err := v.advise(err); err != nil {
				return nil, err
			}
			report.Pages = 0
			break
		}
		report.Pages = pages
		if v.limits.MaxPages > 0 && pages > v.limits.MaxPages {
			if err := v.advise(domain.ValidationError(
				fmt.Sprintf("drawing has %d pages, limit is %d", pages, v.limits.MaxPages), nil)); err != nil {
				return nil, err
			}
		}
	}

	v.logger.Debug().
		Str("format", string(report.Format)).
		Int("bytes", report.Bytes).
		Int("pages", report.Pages).
		Bool("with_model", model != nil).
		Msg("Preflight passed")
	return report, nil
}

// advise returns err in strict mode and logs it otherwise.
func (v *Validator) advise(err error) error {
	if v.limits.Strict {
		return err
	}
	v.logger.Warn().Err(err).Msg("Preflight check failed, sending drawing anyway")
	return nil
}

func countPages(pdf []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return 0, domain.ValidationError("drawing is not a readable PDF", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return 0, domain.ValidationError("PDF has no pages", nil)
	}
	return pages, nil
}

// ReadFile loads a drawing or model from disk, refusing directories and
// files larger than limit. A zero limit is not enforced.
func ReadFile(path string, limit int64) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("cannot access file: %s", path), err)
	}
	if info.IsDir() {
		return nil, domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}
	if limit > 0 && info.Size() > limit {
		return nil, domain.ValidationError(
			fmt.Sprintf("%s is %d bytes, limit is %d", path, info.Size(), limit), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("cannot read file: %s", path), err)
	}
	return data, nil
}

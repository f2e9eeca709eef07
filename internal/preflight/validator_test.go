package preflight

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/domain"
)

// makePDF builds a minimal well-formed PDF with n blank pages.
func makePDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"pdf", []byte("%PDF-1.7\n..."), FormatPDF},
		{"png", pngHeader, FormatPNG},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, FormatJPEG},
		{"tiff little endian", []byte{'I', 'I', 0x2a, 0x00, 8}, FormatTIFF},
		{"tiff big endian", []byte{'M', 'M', 0x00, 0x2a, 0}, FormatTIFF},
		{"text", []byte("hello"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.data))
		})
	}
}

func TestValidator_CheckStrict(t *testing.T) {
	limits := config.PreflightConfig{MaxDrawingBytes: 4096, MaxModelBytes: 16, MaxPages: 3, Strict: true}
	v := NewValidator(limits, nil)

	tests := []struct {
		name      string
		drawing   []byte
		model     []byte
		wantErr   string
		wantPages int
	}{
		{name: "png", drawing: pngHeader, wantPages: 1},
		{name: "pdf within page limit", drawing: makePDF(2), wantPages: 2},
		{name: "pdf with model", drawing: makePDF(1), model: []byte("ISO-10303-21;"), wantPages: 1},
		{name: "empty drawing", drawing: nil, wantErr: "drawing is empty"},
		{name: "oversized drawing", drawing: append(append([]byte{}, pngHeader...), make([]byte, 5000)...), wantErr: "limit is 4096"},
		{name: "empty model", drawing: pngHeader, model: []byte{}, wantErr: "model is empty"},
		{name: "oversized model", drawing: pngHeader, model: make([]byte, 17), wantErr: "limit is 16"},
		{name: "unknown format", drawing: []byte("GIF89a"), wantErr: "not a PDF"},
		{name: "too many pages", drawing: makePDF(4), wantErr: "4 pages"},
		{name: "corrupt pdf", drawing: []byte("%PDF-1.4\nthis is not a pdf"), wantErr: "PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Check(tt.drawing, tt.model)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), "got %v", err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPages, report.Pages)
			assert.Equal(t, len(tt.drawing), report.Bytes)
		})
	}
}

func TestValidator_CheckAdvisory(t *testing.T) {
	limits := config.PreflightConfig{MaxDrawingBytes: 4096, MaxModelBytes: 16, MaxPages: 3}
	v := NewValidator(limits, nil)

	tests := []struct {
		name      string
		drawing   []byte
		wantFmt   Format
		wantPages int
	}{
		{name: "gif is sent", drawing: []byte("GIF89a\x01\x00"), wantFmt: FormatUnknown, wantPages: 0},
		{name: "svg is sent", drawing: []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>"), wantFmt: FormatUnknown, wantPages: 0},
		{name: "pdf over page limit is sent", drawing: makePDF(4), wantFmt: FormatPDF, wantPages: 4},
		{name: "corrupt pdf is sent", drawing: []byte("%PDF-1.4\nthis is not a pdf"), wantFmt: FormatPDF, wantPages: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Check(tt.drawing, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFmt, report.Format)
			assert.Equal(t, tt.wantPages, report.Pages)
		})
	}

	t.Run("size limits still apply", func(t *testing.T) {
		_, err := v.Check(nil, nil)
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

		_, err = v.Check(make([]byte, 5000), nil)
		assert.ErrorContains(t, err, "limit is 4096")

		_, err = v.Check([]byte("GIF89a"), make([]byte, 17))
		assert.ErrorContains(t, err, "limit is 16")
	})
}

func TestValidator_ZeroLimitsAreNotEnforced(t *testing.T) {
	v := NewValidator(config.PreflightConfig{}, nil)

	report, err := v.Check(makePDF(25), make([]byte, 1<<10))
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, report.Format)
	assert.Equal(t, 25, report.Pages)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drawing.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	data, err := ReadFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	_, err = ReadFile(path, 4)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = ReadFile(dir, 0)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = ReadFile(filepath.Join(dir, "missing.pdf"), 0)
	assert.True(t, domain.IsType(err, domain.ErrorTypeIO))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ReadFile("  ", 0)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

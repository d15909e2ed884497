// Package export renders a project report (stages, tasks and progression
// history) as PDF or DOCX.
package export

import "errors"

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value to a Format; empty means PDF.
func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

type Request struct {
	ProjectID      string
	Format         Format
	IncludeHistory bool
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// Package export renders outline snapshots for download.
package export

import (
	"errors"
	"strings"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatXLSX     Format = "xlsx"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	Format Format
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing means no headless chromium is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

var mimeTypes = map[Format]string{
	FormatMarkdown: "text/markdown; charset=utf-8",
	FormatHTML:     "text/html; charset=utf-8",
	FormatPDF:      "application/pdf",
	FormatXLSX:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatJSON:     "application/json",
	FormatYAML:     "application/yaml",
}

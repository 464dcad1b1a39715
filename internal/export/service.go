package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aepblueprint/internal/outline"
	"aepblueprint/internal/platform/logger"
)

const DefaultTitle = "AEP Blueprint"

// Source is the part of the outline façade the exporter reads from.
type Source interface {
	Snapshot(ctx context.Context) (*outline.Snapshot, error)
	ExportTemplate(ctx context.Context) (outline.Template, error)
}

type Config struct {
	Title  string
	PDF    PDFRenderer
	Logger *logger.Logger
	Now    func() time.Time
}

type Service struct {
	src   Source
	title string
	pdf   PDFRenderer
	log   *logger.Logger
	now   func() time.Time
}

func NewService(src Source, cfg Config) *Service {
	s := &Service{src: src, title: cfg.Title, pdf: cfg.PDF, log: cfg.Logger, now: cfg.Now}
	if s.title == "" {
		s.title = DefaultTitle
	}
	if s.pdf == nil {
		s.pdf = ChromePDF
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Filename is aep-blueprint-YYYY-MM-DD.<ext> for the given day.
func Filename(day time.Time, f Format) string {
	return fmt.Sprintf("aep-blueprint-%s.%s", day.UTC().Format(dateLayout), f)
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if _, ok := mimeTypes[req.Format]; !ok {
		return nil, ErrUnsupportedFormat
	}

	var (
		data []byte
		err  error
	)
	if req.Format == FormatYAML {
		data, err = s.templateYAML(ctx)
	} else {
		data, err = s.renderSnapshot(ctx, req.Format)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("outline exported", "format", string(req.Format), "bytes", len(data))
	return &Result{
		Data:     data,
		Filename: Filename(s.now(), req.Format),
		MimeType: mimeTypes[req.Format],
	}, nil
}

func (s *Service) templateYAML(ctx context.Context) ([]byte, error) {
	t, err := s.src.ExportTemplate(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Encode(&buf, outline.TemplateYAML); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Service) renderSnapshot(ctx context.Context, f Format) ([]byte, error) {
	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatMarkdown:
		return []byte(RenderMarkdown(snap, s.title)), nil
	case FormatJSON:
		return json.MarshalIndent(snap, "", "  ")
	case FormatXLSX:
		return RenderXLSX(snap)
	case FormatHTML, FormatPDF:
		html, err := RenderHTML(snap, s.title)
		if err != nil {
			return nil, err
		}
		if f == FormatHTML {
			return []byte(html), nil
		}
		return s.pdf(ctx, html)
	default:
		return nil, ErrUnsupportedFormat
	}
}

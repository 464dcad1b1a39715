package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"aepblueprint/internal/outline"

	"github.com/xuri/excelize/v2"
)

var xlsxHeaders = []string{"section_order", "section_title", "section_percent", "question_order", "question_prompt", "status", "last_updated"}

// RenderXLSX writes one row per question. Sections without questions get a
// single row with empty question columns.
func RenderXLSX(snap *outline.Snapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Outline"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range xlsxHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	writeRow := func(values []any) {
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		row++
	}
	for _, sec := range snap.Sections {
		percent := outline.SectionProgress(sec).Percent
		if len(sec.Questions) == 0 {
			writeRow([]any{sec.OrderIdx, sec.Title, percent, "", "", "", ""})
			continue
		}
		for _, q := range sec.Questions {
			status, updated := "unanswered", ""
			if q.Answer != nil {
				status = string(q.Answer.Status)
				updated = q.Answer.UpdatedAt.UTC().Format(dateLayout)
			}
			writeRow([]any{sec.OrderIdx, sec.Title, percent, q.OrderIdx, q.Prompt, status, updated})
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 14)
	_ = f.SetColWidth(sheet, "B", "B", 32)
	_ = f.SetColWidth(sheet, "C", "D", 16)
	_ = f.SetColWidth(sheet, "E", "E", 60)
	_ = f.SetColWidth(sheet, "F", "G", 14)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseTemplateXLSX reads an outline template from the first sheet. Columns
// section_title and question_prompt are required, section_description is
// optional. Consecutive rows with the same section title form one section.
func ParseTemplateXLSX(r io.Reader) (outline.Template, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return outline.Template{}, &outline.ValidationError{Field: "file", Message: "not a valid xlsx file"}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return outline.Template{}, &outline.ValidationError{Field: "file", Message: "excel sheet is empty"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return outline.Template{}, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return outline.Template{}, &outline.ValidationError{Field: "file", Message: "no data rows found"}
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"section_title", "question_prompt"} {
		if _, ok := header[col]; !ok {
			return outline.Template{}, &outline.ValidationError{Field: "file", Message: "missing required column: " + col}
		}
	}

	var t outline.Template
	for _, row := range rows[1:] {
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		title, prompt := get("section_title"), get("question_prompt")
		if title == "" && prompt == "" {
			continue
		}
		n := len(t.Sections)
		if n == 0 || (title != "" && title != t.Sections[n-1].Title) {
			t.Sections = append(t.Sections, outline.TemplateSection{Title: title, Description: get("section_description")})
			n++
		}
		if prompt != "" {
			t.Sections[n-1].Questions = append(t.Sections[n-1].Questions, prompt)
		}
	}
	return t, nil
}

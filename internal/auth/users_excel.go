package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type UserImportRowError struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

type UserImportReport struct {
	TotalRows   int                  `json:"total_rows"`
	SuccessRows int                  `json:"success_rows"`
	FailedRows  int                  `json:"failed_rows"`
	Errors      []UserImportRowError `json:"errors"`
}

func (s *Service) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	headers := []string{"email", "role", "is_active", "created_at", "last_login_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		values := []any{it.Email, it.Role, it.IsActive, formatTime(&it.CreatedAt), formatTime(it.LastLoginAt)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 36)
	_ = f.SetColWidth(sheet, "B", "E", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportUsersExcel provisions users in bulk. Columns: email (required), role,
// is_active. Bad rows are reported and skipped.
func (s *Service) ImportUsersExcel(ctx context.Context, r io.Reader) (*UserImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := header["email"]; !ok {
		return nil, errors.New("missing required column: email")
	}

	report := &UserImportReport{Errors: make([]UserImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		email := strings.ToLower(get("email"))
		if email == "" {
			continue
		}
		report.TotalRows++

		if _, err := s.UpsertUser(ctx, email, get("role"), parseBoolLoose(get("is_active"))); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, UserImportRowError{Row: i + 1, Email: email, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}
	s.log.Info("users imported", "total", report.TotalRows, "failed", report.FailedRows)
	return report, nil
}

func parseBoolLoose(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "", "1", "true", "yes", "y", "active":
		return true
	case "0", "false", "no", "n", "inactive":
		return false
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return n != 0
		}
		return true
	}
}

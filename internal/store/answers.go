package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aepblueprint/internal/outline"
)

const answerColumns = `id, question_id, status, content_type, content, chart_config, media_urls, interactive_data, updated_by, created_at, updated_at`

func scanAnswer(row interface{ Scan(...any) error }) (*outline.Answer, error) {
	var (
		a                                           outline.Answer
		contentType                                 string
		content, chart, media, interactive, updater sql.NullString
	)
	if err := row.Scan(&a.ID, &a.QuestionID, &a.Status, &contentType, &content, &chart, &media, &interactive, &updater, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	urls, err := decodeURLs(media)
	if err != nil {
		return nil, err
	}
	a.Payload, err = outline.PayloadFromColumns(outline.ContentType(contentType), rawJSON(content), rawJSON(chart), urls, rawJSON(interactive))
	if err != nil {
		return nil, fmt.Errorf("decode answer %s: %w", a.ID, err)
	}
	a.UpdatedBy = updater.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *Store) queryAnswers(ctx context.Context, qr queryer, query string, args ...any) (map[string]*outline.Answer, error) {
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	out := map[string]*outline.Answer{}
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out[a.QuestionID] = a
	}
	return out, rows.Err()
}

func (s *Store) questionExists(ctx context.Context, qr queryer, id string) error {
	var one int
	err := qr.QueryRowContext(ctx, s.q(`SELECT 1 FROM questions WHERE id = $1`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("question", id)
	}
	if err != nil {
		return fmt.Errorf("lookup question: %w", err)
	}
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, questionID string) (*outline.Answer, error) {
	if err := s.questionExists(ctx, s.conn, questionID); err != nil {
		return nil, err
	}
	return s.getAnswer(ctx, s.conn, questionID)
}

func (s *Store) getAnswer(ctx context.Context, qr queryer, questionID string) (*outline.Answer, error) {
	a, err := scanAnswer(qr.QueryRowContext(ctx, s.q(`SELECT `+answerColumns+` FROM answers WHERE question_id = $1`), questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}
	return a, nil
}

// UpsertAnswer replaces the whole payload: every inactive column is written
// as NULL so a content type switch leaves nothing behind.
func (s *Store) UpsertAnswer(ctx context.Context, in outline.AnswerWrite) (*outline.Answer, error) {
	content, chart, urls, interactive := outline.PayloadColumns(in.Payload)
	media, err := nullURLs(urls)
	if err != nil {
		return nil, err
	}
	contentType := outline.ContentText
	if in.Payload != nil {
		contentType = in.Payload.Kind()
	}

	var saved *outline.Answer
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO answers (`+answerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			ON CONFLICT (question_id) DO UPDATE SET
				status = excluded.status,
				content_type = excluded.content_type,
				content = excluded.content,
				chart_config = excluded.chart_config,
				media_urls = excluded.media_urls,
				interactive_data = excluded.interactive_data,
				updated_by = excluded.updated_by,
				updated_at = excluded.updated_at`),
			s.newID(), in.QuestionID, string(in.Status), string(contentType),
			nullJSON(content), nullJSON(chart), media, nullJSON(interactive),
			sql.NullString{String: in.UpdatedBy, Valid: in.UpdatedBy != ""}, now,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return notFound("question", in.QuestionID)
			}
			return fmt.Errorf("upsert answer: %w", err)
		}
		saved, err = s.getAnswer(ctx, tx, in.QuestionID)
		if err != nil {
			return err
		}
		if saved == nil {
			return notFound("question", in.QuestionID)
		}
		return s.appendHistory(ctx, tx, saved, in.UpdatedBy, now)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) SetAnswerStatus(ctx context.Context, questionID string, status outline.Status, changedBy string) (*outline.Answer, error) {
	var saved *outline.Answer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE answers SET status = $1, updated_by = $2, updated_at = $3 WHERE question_id = $4`),
			string(status), sql.NullString{String: changedBy, Valid: changedBy != ""}, now, questionID,
		)
		if err != nil {
			return fmt.Errorf("set answer status: %w", err)
		}
		if err := requireRows(res, "answer for question", questionID); err != nil {
			return err
		}
		saved, err = s.getAnswer(ctx, tx, questionID)
		if err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, saved, changedBy, now)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteAnswer clears the answer row. History is kept.
func (s *Store) DeleteAnswer(ctx context.Context, questionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.questionExists(ctx, tx, questionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM answers WHERE question_id = $1`), questionID); err != nil {
			return fmt.Errorf("delete answer: %w", err)
		}
		return nil
	})
}

func (s *Store) appendHistory(ctx context.Context, tx *sql.Tx, a *outline.Answer, changedBy string, at time.Time) error {
	payload, err := historyPayload(a.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO answer_history
		(id, question_id, status, content_type, payload, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		s.newID(), a.QuestionID, string(a.Status), string(a.ContentType()), payload,
		sql.NullString{String: changedBy, Valid: changedBy != ""}, at,
	)
	if err != nil {
		return fmt.Errorf("append answer history: %w", err)
	}
	return nil
}

// historyPayload stores the active payload column as one JSON value.
func historyPayload(p outline.Payload) (sql.NullString, error) {
	content, chart, urls, interactive := outline.PayloadColumns(p)
	switch {
	case len(urls) > 0:
		return nullURLs(urls)
	case content != nil:
		return nullJSON(content), nil
	case chart != nil:
		return nullJSON(chart), nil
	default:
		return nullJSON(interactive), nil
	}
}

func historyFromPayload(ct outline.ContentType, payload sql.NullString) (outline.Payload, error) {
	raw := rawJSON(payload)
	switch ct {
	case outline.ContentMedia:
		var urls []string
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &urls); err != nil {
				return nil, fmt.Errorf("decode history media: %w", err)
			}
		}
		return outline.PayloadFromColumns(ct, nil, nil, urls, nil)
	case outline.ContentChart:
		return outline.PayloadFromColumns(ct, nil, raw, nil, nil)
	case outline.ContentInteractive:
		return outline.PayloadFromColumns(ct, nil, nil, nil, raw)
	default:
		return outline.PayloadFromColumns(ct, raw, nil, nil, nil)
	}
}

func (s *Store) ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]outline.HistoryEntry, error) {
	if err := s.questionExists(ctx, s.conn, questionID); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT id, question_id, status, content_type, payload, changed_by, changed_at
		FROM answer_history WHERE question_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2`), questionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list answer history: %w", err)
	}
	defer rows.Close()

	out := make([]outline.HistoryEntry, 0)
	for rows.Next() {
		var (
			h           outline.HistoryEntry
			contentType string
			payload     sql.NullString
			changedBy   sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.QuestionID, &h.Status, &contentType, &payload, &changedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.ContentType = outline.ContentType(contentType)
		h.Payload, err = historyFromPayload(h.ContentType, payload)
		if err != nil {
			return nil, err
		}
		h.ChangedBy = changedBy.String
		h.ChangedAt = h.ChangedAt.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

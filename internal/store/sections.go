package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aepblueprint/internal/outline"
)

const sectionColumns = `id, title, description, order_idx, created_at, updated_at`

const questionColumns = `id, section_id, prompt, order_idx, created_at, updated_at`

func scanSection(row interface{ Scan(...any) error }) (outline.Section, error) {
	var (
		sec  outline.Section
		desc sql.NullString
	)
	if err := row.Scan(&sec.ID, &sec.Title, &desc, &sec.OrderIdx, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return sec, err
	}
	sec.Description = stringPtr(desc)
	sec.CreatedAt = sec.CreatedAt.UTC()
	sec.UpdatedAt = sec.UpdatedAt.UTC()
	sec.Questions = []outline.Question{}
	return sec, nil
}

func scanQuestion(row interface{ Scan(...any) error }) (outline.Question, error) {
	var q outline.Question
	if err := row.Scan(&q.ID, &q.SectionID, &q.Prompt, &q.OrderIdx, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return q, err
	}
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return q, nil
}

// ListSections loads the full tree in three queries and assembles it in
// display order.
func (s *Store) ListSections(ctx context.Context) ([]outline.Section, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+sectionColumns+` FROM sections ORDER BY order_idx, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	out := make([]outline.Section, 0)
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	questions, err := s.queryQuestions(ctx, s.conn, `SELECT `+questionColumns+` FROM questions ORDER BY section_id, order_idx, created_at, id`)
	if err != nil {
		return nil, err
	}
	answers, err := s.queryAnswers(ctx, s.conn, `SELECT `+answerColumns+` FROM answers`)
	if err != nil {
		return nil, err
	}
	attach(out, questions, answers)
	return out, nil
}

func attach(sections []outline.Section, questions []outline.Question, answers map[string]*outline.Answer) {
	index := make(map[string]int, len(sections))
	for i := range sections {
		index[sections[i].ID] = i
	}
	for _, q := range questions {
		i, ok := index[q.SectionID]
		if !ok {
			continue
		}
		q.Answer = answers[q.ID]
		sections[i].Questions = append(sections[i].Questions, q)
	}
	for i := range sections {
		outline.SortQuestions(sections[i].Questions)
	}
}

func (s *Store) GetSection(ctx context.Context, id string) (*outline.Section, error) {
	sec, err := scanSection(s.conn.QueryRowContext(ctx, s.q(`SELECT `+sectionColumns+` FROM sections WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("section", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get section: %w", err)
	}

	questions, err := s.queryQuestions(ctx, s.conn, s.q(`SELECT `+questionColumns+` FROM questions WHERE section_id = $1`), id)
	if err != nil {
		return nil, err
	}
	answers, err := s.queryAnswers(ctx, s.conn, s.q(`SELECT `+answerColumns+` FROM answers
		WHERE question_id IN (SELECT id FROM questions WHERE section_id = $1)`), id)
	if err != nil {
		return nil, err
	}
	tree := []outline.Section{sec}
	attach(tree, questions, answers)
	return &tree[0], nil
}

func (s *Store) SectionOrder(ctx context.Context) ([]outline.OrderedItem, error) {
	return s.sectionOrder(ctx, s.conn)
}

func (s *Store) sectionOrder(ctx context.Context, qr queryer) ([]outline.OrderedItem, error) {
	rows, err := qr.QueryContext(ctx, `SELECT id, order_idx, created_at FROM sections`)
	if err != nil {
		return nil, fmt.Errorf("section order: %w", err)
	}
	return scanOrder(rows)
}

func (s *Store) CreateSection(ctx context.Context, in outline.NewSection) (*outline.Section, error) {
	var created outline.Section
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertSection(ctx, tx, in, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) insertSection(ctx context.Context, tx *sql.Tx, in outline.NewSection, now time.Time) (outline.Section, error) {
	sec := outline.Section{
		ID:          s.newID(),
		Title:       in.Title,
		Description: stringPtr(nullString(in.Description)),
		OrderIdx:    in.OrderIdx,
		CreatedAt:   now,
		UpdatedAt:   now,
		Questions:   []outline.Question{},
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO sections (`+sectionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`),
		sec.ID, sec.Title, nullString(sec.Description), sec.OrderIdx, now, now,
	); err != nil {
		return sec, fmt.Errorf("insert section: %w", err)
	}
	for _, nq := range in.Questions {
		nq.SectionID = sec.ID
		q, err := s.insertQuestion(ctx, tx, nq, now)
		if err != nil {
			return sec, err
		}
		sec.Questions = append(sec.Questions, q)
	}
	return sec, nil
}

func (s *Store) UpdateSection(ctx context.Context, id string, patch outline.SectionPatch) (*outline.Section, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, nullString(patch.Description))
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	args = append(args, s.now())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	res, err := s.conn.ExecContext(ctx,
		s.q(fmt.Sprintf(`UPDATE sections SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update section: %w", err)
	}
	if err := requireRows(res, "section", id); err != nil {
		return nil, err
	}
	return s.GetSection(ctx, id)
}

// DeleteSection cascades to questions, answers and history, then closes the
// gap left in the section order.
func (s *Store) DeleteSection(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sections WHERE id = $1`), id)
		if err != nil {
			return fmt.Errorf("delete section: %w", err)
		}
		if err := requireRows(res, "section", id); err != nil {
			return err
		}
		items, err := s.sectionOrder(ctx, tx)
		if err != nil {
			return err
		}
		return s.renumber(ctx, tx, "sections", items, s.now())
	})
}

func (s *Store) ApplySectionOrder(ctx context.Context, plan []outline.OrderUpdate) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		for _, u := range plan {
			res, err := tx.ExecContext(ctx,
				s.q(`UPDATE sections SET order_idx = $1, updated_at = $2 WHERE id = $3`),
				u.OrderIdx, now, u.ID,
			)
			if err != nil {
				return fmt.Errorf("apply section order: %w", err)
			}
			if err := requireRows(res, "section", u.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) sectionExists(ctx context.Context, qr queryer, id string) error {
	var one int
	err := qr.QueryRowContext(ctx, s.q(`SELECT 1 FROM sections WHERE id = $1`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("section", id)
	}
	if err != nil {
		return fmt.Errorf("lookup section: %w", err)
	}
	return nil
}

func (s *Store) queryQuestions(ctx context.Context, qr queryer, query string, args ...any) ([]outline.Question, error) {
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	out := make([]outline.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) ListQuestions(ctx context.Context, sectionID string) ([]outline.Question, error) {
	sec, err := s.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return sec.Questions, nil
}

func (s *Store) QuestionOrder(ctx context.Context, sectionID string) ([]outline.OrderedItem, error) {
	if err := s.sectionExists(ctx, s.conn, sectionID); err != nil {
		return nil, err
	}
	return s.questionOrder(ctx, s.conn, sectionID)
}

func (s *Store) questionOrder(ctx context.Context, qr queryer, sectionID string) ([]outline.OrderedItem, error) {
	rows, err := qr.QueryContext(ctx, s.q(`SELECT id, order_idx, created_at FROM questions WHERE section_id = $1`), sectionID)
	if err != nil {
		return nil, fmt.Errorf("question order: %w", err)
	}
	return scanOrder(rows)
}

func (s *Store) CreateQuestion(ctx context.Context, in outline.NewQuestion) (*outline.Question, error) {
	var created outline.Question
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertQuestion(ctx, tx, in, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) insertQuestion(ctx context.Context, tx *sql.Tx, in outline.NewQuestion, now time.Time) (outline.Question, error) {
	q := outline.Question{
		ID:        s.newID(),
		SectionID: in.SectionID,
		Prompt:    in.Prompt,
		OrderIdx:  in.OrderIdx,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO questions (`+questionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`),
		q.ID, q.SectionID, q.Prompt, q.OrderIdx, now, now,
	); err != nil {
		if isForeignKeyViolation(err) {
			return q, notFound("section", in.SectionID)
		}
		return q, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, id string, patch outline.QuestionPatch) (*outline.Question, error) {
	if patch.Prompt == nil {
		return s.getQuestion(ctx, id)
	}
	res, err := s.conn.ExecContext(ctx,
		s.q(`UPDATE questions SET prompt = $1, updated_at = $2 WHERE id = $3`),
		*patch.Prompt, s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if err := requireRows(res, "question", id); err != nil {
		return nil, err
	}
	return s.getQuestion(ctx, id)
}

func (s *Store) getQuestion(ctx context.Context, id string) (*outline.Question, error) {
	q, err := scanQuestion(s.conn.QueryRowContext(ctx, s.q(`SELECT `+questionColumns+` FROM questions WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("question", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	answer, err := s.GetAnswer(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Answer = answer
	return &q, nil
}

// DeleteQuestion removes the question with its answer and history and
// renumbers the remaining questions of its section.
func (s *Store) DeleteQuestion(ctx context.Context, id string) (string, error) {
	var sectionID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.q(`SELECT section_id FROM questions WHERE id = $1`), id).Scan(&sectionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("question", id)
		}
		if err != nil {
			return fmt.Errorf("lookup question: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM questions WHERE id = $1`), id); err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		items, err := s.questionOrder(ctx, tx, sectionID)
		if err != nil {
			return err
		}
		return s.renumber(ctx, tx, "questions", items, s.now())
	})
	if err != nil {
		return "", err
	}
	return sectionID, nil
}

// ApplyQuestionOrder only touches questions of sectionID; an id from another
// section counts as unknown.
func (s *Store) ApplyQuestionOrder(ctx context.Context, sectionID string, plan []outline.OrderUpdate) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.sectionExists(ctx, tx, sectionID); err != nil {
			return err
		}
		now := s.now()
		for _, u := range plan {
			res, err := tx.ExecContext(ctx,
				s.q(`UPDATE questions SET order_idx = $1, updated_at = $2 WHERE id = $3 AND section_id = $4`),
				u.OrderIdx, now, u.ID, sectionID,
			)
			if err != nil {
				return fmt.Errorf("apply question order: %w", err)
			}
			if err := requireRows(res, "question", u.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportSections inserts a whole template in one transaction.
func (s *Store) ImportSections(ctx context.Context, sections []outline.NewSection) ([]outline.Section, error) {
	out := make([]outline.Section, 0, len(sections))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		for _, ns := range sections {
			sec, err := s.insertSection(ctx, tx, ns, now)
			if err != nil {
				return err
			}
			out = append(out, sec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

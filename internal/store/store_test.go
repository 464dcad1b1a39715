package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aepblueprint/internal/db"
	"aepblueprint/internal/outline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := db.Migrate(ctx, conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return withTestClock(New(conn, db.SQLite))
}

func newPostgresTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("AEP_INTEGRATION") != "1" {
		t.Skip("set AEP_INTEGRATION=1 to run postgres store tests")
	}
	dsn := os.Getenv("AEP_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("AEP_TEST_DB_DSN is empty")
	}
	ctx := context.Background()
	conn, err := db.OpenPostgres(ctx, dsn, db.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := db.Migrate(ctx, conn, db.Postgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `TRUNCATE sections, questions, answers, answer_history CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return withTestClock(New(conn, db.Postgres))
}

// withTestClock makes timestamps strictly increasing so history order is stable.
func withTestClock(s *Store) *Store {
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresTestStore(t)) })
}

func addSection(t *testing.T, s *Store, title string, idx int) *outline.Section {
	t.Helper()
	sec, err := s.CreateSection(context.Background(), outline.NewSection{Title: title, OrderIdx: idx})
	if err != nil {
		t.Fatalf("create section %s: %v", title, err)
	}
	return sec
}

func addQuestion(t *testing.T, s *Store, sectionID, prompt string, idx int) *outline.Question {
	t.Helper()
	q, err := s.CreateQuestion(context.Background(), outline.NewQuestion{SectionID: sectionID, Prompt: prompt, OrderIdx: idx})
	if err != nil {
		t.Fatalf("create question %s: %v", prompt, err)
	}
	return q
}

func orderOf(items []outline.OrderedItem) map[string]int {
	out := map[string]int{}
	for _, it := range items {
		out[it.ID] = it.OrderIdx
	}
	return out
}

func TestSectionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		desc := "who we serve"
		b := addSection(t, s, "B", 2)
		a, err := s.CreateSection(ctx, outline.NewSection{Title: "A", Description: &desc, OrderIdx: 1})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		addQuestion(t, s, a.ID, "A2", 2)
		addQuestion(t, s, a.ID, "A1", 1)

		list, err := s.ListSections(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
			t.Fatalf("expected A then B, got %+v", list)
		}
		if list[0].Description == nil || *list[0].Description != desc {
			t.Fatalf("expected description kept, got %v", list[0].Description)
		}
		if len(list[0].Questions) != 2 || list[0].Questions[0].Prompt != "A1" {
			t.Fatalf("expected questions in order, got %+v", list[0].Questions)
		}
		if list[1].Questions == nil {
			t.Fatalf("expected empty question slice, got nil")
		}

		title := "B renamed"
		empty := ""
		got, err := s.UpdateSection(ctx, b.ID, outline.SectionPatch{Title: &title, Description: &empty})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Title != title || got.Description != nil {
			t.Fatalf("unexpected update result %+v", got)
		}
		if !got.UpdatedAt.After(got.CreatedAt) {
			t.Fatalf("expected updated_at to move forward")
		}

		if _, err := s.UpdateSection(ctx, "missing", outline.SectionPatch{Title: &title}); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := s.GetSection(ctx, "missing"); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestDeleteSectionCascadesAndCompacts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := addSection(t, s, "A", 1)
		b := addSection(t, s, "B", 2)
		c := addSection(t, s, "C", 3)
		q := addQuestion(t, s, b.ID, "Q", 1)
		if _, err := s.UpsertAnswer(ctx, outline.AnswerWrite{QuestionID: q.ID, Status: outline.StatusFinal, Payload: outline.TextPayload{Doc: json.RawMessage(`{"type":"doc"}`)}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		if err := s.DeleteSection(ctx, b.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		order, err := s.SectionOrder(ctx)
		if err != nil {
			t.Fatalf("order: %v", err)
		}
		got := orderOf(order)
		if len(got) != 2 || got[a.ID] != 1 || got[c.ID] != 2 {
			t.Fatalf("expected compacted order, got %v", got)
		}
		if _, err := s.GetAnswer(ctx, q.ID); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected question gone with its section, got %v", err)
		}
		var n int
		if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM answer_history`).Scan(&n); err != nil || n != 0 {
			t.Fatalf("expected history cascade, got %d %v", n, err)
		}
		if err := s.DeleteSection(ctx, b.ID); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})
}

func TestApplySectionOrderIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := addSection(t, s, "A", 1)
		b := addSection(t, s, "B", 2)

		err := s.ApplySectionOrder(ctx, []outline.OrderUpdate{{ID: a.ID, OrderIdx: 2}, {ID: "ghost", OrderIdx: 1}})
		if !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		order, _ := s.SectionOrder(ctx)
		if got := orderOf(order); got[a.ID] != 1 || got[b.ID] != 2 {
			t.Fatalf("expected rollback, got %v", got)
		}

		if err := s.ApplySectionOrder(ctx, []outline.OrderUpdate{{ID: a.ID, OrderIdx: 2}, {ID: b.ID, OrderIdx: 1}}); err != nil {
			t.Fatalf("apply: %v", err)
		}
		list, _ := s.ListSections(ctx)
		if list[0].ID != b.ID {
			t.Fatalf("expected B first, got %+v", list)
		}
	})
}

func TestQuestionsScopedToSection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := addSection(t, s, "A", 1)
		b := addSection(t, s, "B", 2)
		q1 := addQuestion(t, s, a.ID, "Q1", 1)
		q2 := addQuestion(t, s, a.ID, "Q2", 2)
		q3 := addQuestion(t, s, a.ID, "Q3", 3)
		other := addQuestion(t, s, b.ID, "other", 1)

		if _, err := s.CreateQuestion(ctx, outline.NewQuestion{SectionID: "missing", Prompt: "x", OrderIdx: 1}); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found for unknown section, got %v", err)
		}
		if _, err := s.QuestionOrder(ctx, "missing"); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}

		err := s.ApplyQuestionOrder(ctx, a.ID, []outline.OrderUpdate{{ID: other.ID, OrderIdx: 1}})
		if !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected foreign question to be unknown, got %v", err)
		}

		prompt := "Q2 edited"
		edited, err := s.UpdateQuestion(ctx, q2.ID, outline.QuestionPatch{Prompt: &prompt})
		if err != nil || edited.Prompt != prompt {
			t.Fatalf("update question: %+v %v", edited, err)
		}

		sectionID, err := s.DeleteQuestion(ctx, q2.ID)
		if err != nil || sectionID != a.ID {
			t.Fatalf("delete question: %s %v", sectionID, err)
		}
		order, _ := s.QuestionOrder(ctx, a.ID)
		if got := orderOf(order); len(got) != 2 || got[q1.ID] != 1 || got[q3.ID] != 2 {
			t.Fatalf("expected compacted question order, got %v", got)
		}
		qs, err := s.ListQuestions(ctx, a.ID)
		if err != nil || len(qs) != 2 || qs[1].ID != q3.ID {
			t.Fatalf("unexpected questions %+v %v", qs, err)
		}
	})
}

func TestAnswerUpsertStatusAndHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		sec := addSection(t, s, "A", 1)
		q := addQuestion(t, s, sec.ID, "Q", 1)

		if a, err := s.GetAnswer(ctx, q.ID); err != nil || a != nil {
			t.Fatalf("expected no answer yet, got %+v %v", a, err)
		}

		first, err := s.UpsertAnswer(ctx, outline.AnswerWrite{
			QuestionID: q.ID,
			Status:     outline.StatusDraft,
			Payload:    outline.TextPayload{Doc: json.RawMessage(`{"type":"doc","content":[]}`)},
			UpdatedBy:  "u1",
		})
		if err != nil {
			t.Fatalf("upsert text: %v", err)
		}
		second, err := s.UpsertAnswer(ctx, outline.AnswerWrite{
			QuestionID: q.ID,
			Status:     outline.StatusFinal,
			Payload:    outline.MediaPayload{URLs: []string{"https://cdn.example.com/a.png"}},
			UpdatedBy:  "u2",
		})
		if err != nil {
			t.Fatalf("upsert media: %v", err)
		}
		if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("expected same row updated in place, got %+v vs %+v", second, first)
		}
		media, ok := second.Payload.(outline.MediaPayload)
		if !ok || len(media.URLs) != 1 {
			t.Fatalf("expected media payload, got %#v", second.Payload)
		}
		var content *string
		if err := s.conn.QueryRowContext(ctx, s.q(`SELECT content FROM answers WHERE question_id = $1`), q.ID).Scan(&content); err != nil || content != nil {
			t.Fatalf("expected text column cleared, got %v %v", content, err)
		}

		drafted, err := s.SetAnswerStatus(ctx, q.ID, outline.StatusDraft, "u3")
		if err != nil {
			t.Fatalf("set status: %v", err)
		}
		if drafted.Status != outline.StatusDraft || drafted.UpdatedBy != "u3" {
			t.Fatalf("unexpected status result %+v", drafted)
		}
		if _, ok := drafted.Payload.(outline.MediaPayload); !ok {
			t.Fatalf("expected payload kept on status change, got %#v", drafted.Payload)
		}

		history, err := s.ListAnswerHistory(ctx, q.ID, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 history rows, got %d", len(history))
		}
		if history[0].ChangedBy != "u3" || history[2].ContentType != outline.ContentText {
			t.Fatalf("expected newest first, got %+v", history)
		}
		if _, ok := history[1].Payload.(outline.MediaPayload); !ok {
			t.Fatalf("expected media payload in history, got %#v", history[1].Payload)
		}
		limited, _ := s.ListAnswerHistory(ctx, q.ID, 1)
		if len(limited) != 1 {
			t.Fatalf("expected limit to apply, got %d", len(limited))
		}

		if err := s.DeleteAnswer(ctx, q.ID); err != nil {
			t.Fatalf("delete answer: %v", err)
		}
		if a, _ := s.GetAnswer(ctx, q.ID); a != nil {
			t.Fatalf("expected answer removed")
		}
		if err := s.DeleteAnswer(ctx, q.ID); err != nil {
			t.Fatalf("expected delete of absent answer to succeed, got %v", err)
		}
		if history, _ := s.ListAnswerHistory(ctx, q.ID, 10); len(history) != 3 {
			t.Fatalf("expected history kept after delete, got %d", len(history))
		}
		if _, err := s.SetAnswerStatus(ctx, q.ID, outline.StatusFinal, "u1"); !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found for absent answer, got %v", err)
		}
	})
}

func TestUpsertAnswerUnknownQuestion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		_, err := s.UpsertAnswer(context.Background(), outline.AnswerWrite{
			QuestionID: "missing",
			Status:     outline.StatusDraft,
			Payload:    outline.ChartPayload{Config: json.RawMessage(`{"type":"bar"}`)},
		})
		if !errors.Is(err, outline.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestImportSectionsRollsBackAsAUnit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		created, err := s.ImportSections(ctx, []outline.NewSection{
			{Title: "Vision", OrderIdx: 1, Questions: []outline.NewQuestion{{Prompt: "Why?", OrderIdx: 1}, {Prompt: "Who?", OrderIdx: 2}}},
			{Title: "Market", OrderIdx: 2, Questions: []outline.NewQuestion{{Prompt: "Size?", OrderIdx: 1}}},
		})
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if len(created) != 2 || len(created[0].Questions) != 2 || created[0].Questions[0].SectionID != created[0].ID {
			t.Fatalf("unexpected import result %+v", created)
		}

		dup := created[0].ID
		s.newID = func() string { return dup }
		if _, err := s.ImportSections(ctx, []outline.NewSection{{Title: "Clash", OrderIdx: 3}}); err == nil {
			t.Fatalf("expected primary key clash")
		}
		list, _ := s.ListSections(ctx)
		if len(list) != 2 {
			t.Fatalf("expected failed import to leave no rows, got %d sections", len(list))
		}
	})
}

func TestServiceOverSQLite(t *testing.T) {
	ctx := context.Background()
	svc := outline.NewService(newTestStore(t), outline.ServiceConfig{})

	var ids []string
	for i := 1; i <= 3; i++ {
		sec, err := svc.CreateSection(ctx, outline.CreateSectionInput{Title: fmt.Sprintf("S%d", i)})
		if err != nil {
			t.Fatalf("create section: %v", err)
		}
		if sec.OrderIdx != i {
			t.Fatalf("expected order_idx %d, got %d", i, sec.OrderIdx)
		}
		ids = append(ids, sec.ID)
	}
	q, err := svc.CreateQuestion(ctx, outline.CreateQuestionInput{SectionID: ids[0], Prompt: "Q"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	if _, err := svc.UpsertAnswer(ctx, outline.AnswerInput{QuestionID: q.ID, Status: outline.StatusFinal, Content: json.RawMessage(`{"type":"doc"}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	plan, err := svc.ReorderSections(ctx, 0, 2)
	if err != nil || len(plan) != 3 {
		t.Fatalf("reorder: %+v %v", plan, err)
	}
	list, err := svc.ListSections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[2].ID != ids[0] || list[0].ID != ids[1] {
		t.Fatalf("expected first section moved last, got %v %v %v", list[0].ID, list[1].ID, list[2].ID)
	}

	p, err := svc.SectionProgress(ctx, ids[0])
	if err != nil || p.Percent != 100 {
		t.Fatalf("expected 100%% progress, got %+v %v", p, err)
	}
	doc := svc.DocumentProgress(ctx)
	if doc.Total != 1 || doc.Final != 1 {
		t.Fatalf("unexpected document progress %+v", doc)
	}
}

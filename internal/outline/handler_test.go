package outline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aepblueprint/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockOutlineService struct {
	listSectionsFn     func(ctx context.Context) ([]Section, error)
	getSectionFn       func(ctx context.Context, id string) (*Section, error)
	createSectionFn    func(ctx context.Context, in CreateSectionInput) (*Section, error)
	updateSectionFn    func(ctx context.Context, id string, patch SectionPatch) (*Section, error)
	deleteSectionFn    func(ctx context.Context, id string) error
	reorderSectionsFn  func(ctx context.Context, from, to int) ([]OrderUpdate, error)
	applySectionFn     func(ctx context.Context, plan []OrderUpdate) error
	repairSectionFn    func(ctx context.Context) ([]OrderUpdate, error)
	sectionProgressFn  func(ctx context.Context, sectionID string) (Progress, error)
	documentProgressFn func(ctx context.Context) Progress
	listQuestionsFn    func(ctx context.Context, sectionID string) ([]Question, error)
	createQuestionFn   func(ctx context.Context, in CreateQuestionInput) (*Question, error)
	updateQuestionFn   func(ctx context.Context, id string, patch QuestionPatch) (*Question, error)
	deleteQuestionFn   func(ctx context.Context, id string) error
	reorderQuestionsFn func(ctx context.Context, sectionID string, from, to int) ([]OrderUpdate, error)
	applyQuestionFn    func(ctx context.Context, sectionID string, plan []OrderUpdate) error
	repairQuestionFn   func(ctx context.Context, sectionID string) ([]OrderUpdate, error)
	getAnswerFn        func(ctx context.Context, questionID string) (*Answer, error)
	upsertAnswerFn     func(ctx context.Context, in AnswerInput) (*Answer, error)
	setStatusFn        func(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error)
	deleteAnswerFn     func(ctx context.Context, questionID string) error
	historyFn          func(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error)
	importFn           func(ctx context.Context, t Template) ([]Section, error)
	exportTemplateFn   func(ctx context.Context) (Template, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockOutlineService) ListSections(ctx context.Context) ([]Section, error) {
	if m.listSectionsFn == nil {
		return nil, errNotImplemented
	}
	return m.listSectionsFn(ctx)
}

func (m *mockOutlineService) GetSection(ctx context.Context, id string) (*Section, error) {
	if m.getSectionFn == nil {
		return nil, errNotImplemented
	}
	return m.getSectionFn(ctx, id)
}

func (m *mockOutlineService) CreateSection(ctx context.Context, in CreateSectionInput) (*Section, error) {
	if m.createSectionFn == nil {
		return nil, errNotImplemented
	}
	return m.createSectionFn(ctx, in)
}

func (m *mockOutlineService) UpdateSection(ctx context.Context, id string, patch SectionPatch) (*Section, error) {
	if m.updateSectionFn == nil {
		return nil, errNotImplemented
	}
	return m.updateSectionFn(ctx, id, patch)
}

func (m *mockOutlineService) DeleteSection(ctx context.Context, id string) error {
	if m.deleteSectionFn == nil {
		return errNotImplemented
	}
	return m.deleteSectionFn(ctx, id)
}

func (m *mockOutlineService) ReorderSections(ctx context.Context, from, to int) ([]OrderUpdate, error) {
	if m.reorderSectionsFn == nil {
		return nil, errNotImplemented
	}
	return m.reorderSectionsFn(ctx, from, to)
}

func (m *mockOutlineService) ApplySectionOrder(ctx context.Context, plan []OrderUpdate) error {
	if m.applySectionFn == nil {
		return errNotImplemented
	}
	return m.applySectionFn(ctx, plan)
}

func (m *mockOutlineService) RepairSectionOrder(ctx context.Context) ([]OrderUpdate, error) {
	if m.repairSectionFn == nil {
		return nil, errNotImplemented
	}
	return m.repairSectionFn(ctx)
}

func (m *mockOutlineService) SectionProgress(ctx context.Context, sectionID string) (Progress, error) {
	if m.sectionProgressFn == nil {
		return Progress{}, errNotImplemented
	}
	return m.sectionProgressFn(ctx, sectionID)
}

func (m *mockOutlineService) DocumentProgress(ctx context.Context) Progress {
	if m.documentProgressFn == nil {
		return Progress{}
	}
	return m.documentProgressFn(ctx)
}

func (m *mockOutlineService) ListQuestions(ctx context.Context, sectionID string) ([]Question, error) {
	if m.listQuestionsFn == nil {
		return nil, errNotImplemented
	}
	return m.listQuestionsFn(ctx, sectionID)
}

func (m *mockOutlineService) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	if m.createQuestionFn == nil {
		return nil, errNotImplemented
	}
	return m.createQuestionFn(ctx, in)
}

func (m *mockOutlineService) UpdateQuestion(ctx context.Context, id string, patch QuestionPatch) (*Question, error) {
	if m.updateQuestionFn == nil {
		return nil, errNotImplemented
	}
	return m.updateQuestionFn(ctx, id, patch)
}

func (m *mockOutlineService) DeleteQuestion(ctx context.Context, id string) error {
	if m.deleteQuestionFn == nil {
		return errNotImplemented
	}
	return m.deleteQuestionFn(ctx, id)
}

func (m *mockOutlineService) ReorderQuestions(ctx context.Context, sectionID string, from, to int) ([]OrderUpdate, error) {
	if m.reorderQuestionsFn == nil {
		return nil, errNotImplemented
	}
	return m.reorderQuestionsFn(ctx, sectionID, from, to)
}

func (m *mockOutlineService) ApplyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error {
	if m.applyQuestionFn == nil {
		return errNotImplemented
	}
	return m.applyQuestionFn(ctx, sectionID, plan)
}

func (m *mockOutlineService) RepairQuestionOrder(ctx context.Context, sectionID string) ([]OrderUpdate, error) {
	if m.repairQuestionFn == nil {
		return nil, errNotImplemented
	}
	return m.repairQuestionFn(ctx, sectionID)
}

func (m *mockOutlineService) GetAnswer(ctx context.Context, questionID string) (*Answer, error) {
	if m.getAnswerFn == nil {
		return nil, errNotImplemented
	}
	return m.getAnswerFn(ctx, questionID)
}

func (m *mockOutlineService) UpsertAnswer(ctx context.Context, in AnswerInput) (*Answer, error) {
	if m.upsertAnswerFn == nil {
		return nil, errNotImplemented
	}
	return m.upsertAnswerFn(ctx, in)
}

func (m *mockOutlineService) SetAnswerStatus(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error) {
	if m.setStatusFn == nil {
		return nil, errNotImplemented
	}
	return m.setStatusFn(ctx, questionID, status, changedBy)
}

func (m *mockOutlineService) DeleteAnswer(ctx context.Context, questionID string) error {
	if m.deleteAnswerFn == nil {
		return errNotImplemented
	}
	return m.deleteAnswerFn(ctx, questionID)
}

func (m *mockOutlineService) ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error) {
	if m.historyFn == nil {
		return nil, errNotImplemented
	}
	return m.historyFn(ctx, questionID, limit)
}

func (m *mockOutlineService) ImportOutline(ctx context.Context, t Template) ([]Section, error) {
	if m.importFn == nil {
		return nil, errNotImplemented
	}
	return m.importFn(ctx, t)
}

func (m *mockOutlineService) ExportTemplate(ctx context.Context) (Template, error) {
	if m.exportTemplateFn == nil {
		return Template{}, errNotImplemented
	}
	return m.exportTemplateFn(ctx)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withUser(r *http.Request, id, role string) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Email: id + "@carbonrobotics.com", Role: role}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateSectionOK(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		createSectionFn: func(ctx context.Context, in CreateSectionInput) (*Section, error) {
			if in.Title != "Vision" || in.Description != "Why we exist" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &Section{ID: "s1", Title: in.Title, OrderIdx: 1, Questions: []Question{}}, nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sections", strings.NewReader(`{"title":"Vision","description":"Why we exist"}`))
	w := httptest.NewRecorder()
	h.CreateSection(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["ok"] != true {
		t.Fatalf("expected ok=true")
	}
	data := body["data"].(map[string]any)
	if data["id"] != "s1" || data["order_idx"] != float64(1) {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestCreateSectionInvalidBody(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sections", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	h.CreateSection(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      int
		wantCode  string
		wantField string
	}{
		{name: "validation", err: invalid("title", "title is required"), want: http.StatusBadRequest, wantCode: "validation_failed", wantField: "title"},
		{name: "not found", err: notFound("section", "x"), want: http.StatusNotFound, wantCode: "not_found"},
		{name: "persistence", err: &PersistenceError{Op: "get section", Err: errors.New("dial tcp")}, want: http.StatusInternalServerError, wantCode: "persistence_error"},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError, wantCode: "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{svc: &mockOutlineService{
				getSectionFn: func(ctx context.Context, id string) (*Section, error) { return nil, tc.err },
			}}
			req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/v1/sections/x", nil), "id", "x")
			w := httptest.NewRecorder()
			h.GetSection(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			errBody, _ := decodeBody(t, w)["error"].(map[string]any)
			if errBody["code"] != tc.wantCode {
				t.Fatalf("expected code %q, got %v", tc.wantCode, errBody["code"])
			}
			if tc.wantField != "" && errBody["field"] != tc.wantField {
				t.Fatalf("expected field %q, got %v", tc.wantField, errBody["field"])
			}
			if tc.name == "persistence" && strings.Contains(w.Body.String(), "dial tcp") {
				t.Fatalf("persistence details must not leak: %s", w.Body.String())
			}
		})
	}
}

func TestReorderSectionsRequiresBothIndexes(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sections/reorder", strings.NewReader(`{"from":1}`))
	w := httptest.NewRecorder()
	h.ReorderSections(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReorderSectionsOK(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		reorderSectionsFn: func(ctx context.Context, from, to int) ([]OrderUpdate, error) {
			if from != 0 || to != 2 {
				t.Fatalf("unexpected move %d->%d", from, to)
			}
			return []OrderUpdate{{ID: "b", OrderIdx: 1}, {ID: "c", OrderIdx: 2}, {ID: "a", OrderIdx: 3}}, nil
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sections/reorder", strings.NewReader(`{"from":0,"to":2}`))
	w := httptest.NewRecorder()
	h.ReorderSections(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if len(data["updates"].([]any)) != 3 {
		t.Fatalf("expected 3 updates, got %+v", data)
	}
}

func TestApplyQuestionOrderPassesSection(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		applyQuestionFn: func(ctx context.Context, sectionID string, plan []OrderUpdate) error {
			if sectionID != "s1" || len(plan) != 2 || plan[1].ID != "q1" {
				t.Fatalf("unexpected call: %s %+v", sectionID, plan)
			}
			return nil
		},
	}}
	body := `{"updates":[{"id":"q2","order_idx":1},{"id":"q1","order_idx":2}]}`
	req := withChiParam(httptest.NewRequest(http.MethodPut, "/api/v1/sections/s1/questions/order", strings.NewReader(body)), "id", "s1")
	w := httptest.NewRecorder()
	h.ApplyQuestionOrder(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUpsertAnswerRequiresUser(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{}}
	req := withChiParam(httptest.NewRequest(http.MethodPut, "/api/v1/questions/q1/answer", strings.NewReader(`{}`)), "id", "q1")
	w := httptest.NewRecorder()
	h.UpsertAnswer(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUpsertAnswerOK(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		upsertAnswerFn: func(ctx context.Context, in AnswerInput) (*Answer, error) {
			if in.QuestionID != "q1" || in.UpdatedBy != "u9" || in.Status != StatusFinal || in.ContentType != ContentChart {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &Answer{ID: "a1", QuestionID: "q1", Status: StatusFinal, Payload: ChartPayload{Config: in.ChartConfig}}, nil
		},
	}}
	body := `{"status":"final","content_type":"chart","chart_config":{"type":"bar"}}`
	req := withChiParam(httptest.NewRequest(http.MethodPut, "/api/v1/questions/q1/answer", strings.NewReader(body)), "id", "q1")
	req = withUser(req, "u9", "editor")
	w := httptest.NewRecorder()
	h.UpsertAnswer(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["content_type"] != "chart" || data["content"] != nil {
		t.Fatalf("unexpected answer payload: %+v", data)
	}
}

func TestGetAnswerAbsent(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		getAnswerFn: func(ctx context.Context, questionID string) (*Answer, error) { return nil, nil },
	}}
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/v1/questions/q1/answer", nil), "id", "q1")
	w := httptest.NewRecorder()
	h.GetAnswer(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if v, ok := data["answer"]; !ok || v != nil {
		t.Fatalf("expected answer null, got %+v", data)
	}
}

func TestSetAnswerStatusPassesUser(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		setStatusFn: func(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error) {
			if questionID != "q1" || status != StatusDraft || changedBy != "u1" {
				t.Fatalf("unexpected call: %s %s %s", questionID, status, changedBy)
			}
			return &Answer{ID: "a1", QuestionID: questionID, Status: status, Payload: TextPayload{}}, nil
		},
	}}
	req := withChiParam(httptest.NewRequest(http.MethodPatch, "/api/v1/questions/q1/answer/status", strings.NewReader(`{"status":"draft"}`)), "id", "q1")
	req = withUser(req, "u1", "admin")
	w := httptest.NewRecorder()
	h.SetAnswerStatus(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAnswerHistoryRejectsBadLimit(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{}}
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/v1/questions/q1/answer/history?limit=abc", nil), "id", "q1")
	w := httptest.NewRecorder()
	h.AnswerHistory(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDocumentProgress(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		documentProgressFn: func(ctx context.Context) Progress {
			return Progress{Score: 1.5, Total: 2, Final: 1, Draft: 1, Percent: 75}
		},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()
	h.DocumentProgress(w, req)
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["score"] != 1.5 || data["percent"] != float64(75) {
		t.Fatalf("unexpected progress: %+v", data)
	}
}

func TestImportOutlineYAML(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		importFn: func(ctx context.Context, tmpl Template) ([]Section, error) {
			if len(tmpl.Sections) != 1 || tmpl.Sections[0].Questions[0] != "Who?" {
				t.Fatalf("unexpected template: %+v", tmpl)
			}
			return []Section{{ID: "s9", Title: tmpl.Sections[0].Title}}, nil
		},
	}}
	body := "sections:\n  - title: Market\n    questions: [\"Who?\"]\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/outline/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	w := httptest.NewRecorder()
	h.ImportOutline(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestImportOutlineXLSXNeedsParser(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/outline/import", bytes.NewReader([]byte("PK")))
	req.Header.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w := httptest.NewRecorder()
	h.ImportOutline(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}

	called := false
	h.WithXLSXParser(func(r io.Reader) (Template, error) {
		called = true
		return Template{}, invalid("file", "missing header row")
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/outline/import", bytes.NewReader([]byte("PK")))
	req.Header.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w = httptest.NewRecorder()
	h.ImportOutline(w, req)
	if !called || w.Code != http.StatusBadRequest {
		t.Fatalf("expected parser call and 400, got called=%v code=%d", called, w.Code)
	}
}

func TestExportTemplateYAML(t *testing.T) {
	h := &Handler{svc: &mockOutlineService{
		exportTemplateFn: func(ctx context.Context) (Template, error) {
			return Template{Sections: []TemplateSection{{Title: "A", Questions: []string{"q"}}}}, nil
		},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/outline/template?format=yaml", nil)
	w := httptest.NewRecorder()
	h.ExportTemplate(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "title: A") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

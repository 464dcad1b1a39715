package outline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"aepblueprint/internal/app/apiresp"
	"aepblueprint/internal/auth"

	"github.com/go-chi/chi/v5"
)

const maxImportBytes = 5 << 20

type Handler struct {
	svc       outlineService
	parseXLSX func(io.Reader) (Template, error)
}

type outlineService interface {
	ListSections(ctx context.Context) ([]Section, error)
	GetSection(ctx context.Context, id string) (*Section, error)
	CreateSection(ctx context.Context, in CreateSectionInput) (*Section, error)
	UpdateSection(ctx context.Context, id string, patch SectionPatch) (*Section, error)
	DeleteSection(ctx context.Context, id string) error
	ReorderSections(ctx context.Context, from, to int) ([]OrderUpdate, error)
	ApplySectionOrder(ctx context.Context, plan []OrderUpdate) error
	RepairSectionOrder(ctx context.Context) ([]OrderUpdate, error)
	SectionProgress(ctx context.Context, sectionID string) (Progress, error)
	DocumentProgress(ctx context.Context) Progress

	ListQuestions(ctx context.Context, sectionID string) ([]Question, error)
	CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, id string, patch QuestionPatch) (*Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	ReorderQuestions(ctx context.Context, sectionID string, from, to int) ([]OrderUpdate, error)
	ApplyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error
	RepairQuestionOrder(ctx context.Context, sectionID string) ([]OrderUpdate, error)

	GetAnswer(ctx context.Context, questionID string) (*Answer, error)
	UpsertAnswer(ctx context.Context, in AnswerInput) (*Answer, error)
	SetAnswerStatus(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error)
	DeleteAnswer(ctx context.Context, questionID string) error
	ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error)

	ImportOutline(ctx context.Context, t Template) ([]Section, error)
	ExportTemplate(ctx context.Context) (Template, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createSectionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type updateSectionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type createQuestionRequest struct {
	Prompt string `json:"prompt"`
}

type updateQuestionRequest struct {
	Prompt *string `json:"prompt"`
}

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type orderPlanRequest struct {
	Updates []OrderUpdate `json:"updates"`
}

type upsertAnswerRequest struct {
	Status          Status          `json:"status"`
	ContentType     ContentType     `json:"content_type"`
	Content         json.RawMessage `json:"content"`
	ChartConfig     json.RawMessage `json:"chart_config"`
	MediaURLs       []string        `json:"media_urls"`
	InteractiveData json.RawMessage `json:"interactive_data"`
}

type answerStatusRequest struct {
	Status Status `json:"status"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// WithXLSXParser enables spreadsheet uploads on the import endpoint.
func (h *Handler) WithXLSXParser(fn func(io.Reader) (Template, error)) *Handler {
	h.parseXLSX = fn
	return h
}

func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSections(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []Section{}
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetSection(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetSection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) CreateSection(w http.ResponseWriter, r *http.Request) {
	var req createSectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.CreateSection(r.Context(), CreateSectionInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	var req updateSectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.UpdateSection(r.Context(), chi.URLParam(r, "id"), SectionPatch{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteSection(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"id": id, "deleted": true}})
}

func (h *Handler) ReorderSections(w http.ResponseWriter, r *http.Request) {
	from, to, ok := decodeMove(w, r)
	if !ok {
		return
	}
	plan, err := h.svc.ReorderSections(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": plan}})
}

func (h *Handler) ApplySectionOrder(w http.ResponseWriter, r *http.Request) {
	var req orderPlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ApplySectionOrder(r.Context(), req.Updates); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": req.Updates}})
}

func (h *Handler) RepairSectionOrder(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.RepairSectionOrder(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": plan}})
}

func (h *Handler) SectionProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.SectionProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: p})
}

func (h *Handler) DocumentProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: h.svc.DocumentProgress(r.Context())})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListQuestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []Question{}
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req createQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.CreateQuestion(r.Context(), CreateQuestionInput{
		SectionID: chi.URLParam(r, "id"),
		Prompt:    req.Prompt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var req updateQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.UpdateQuestion(r.Context(), chi.URLParam(r, "id"), QuestionPatch{Prompt: req.Prompt})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"id": id, "deleted": true}})
}

func (h *Handler) ReorderQuestions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := decodeMove(w, r)
	if !ok {
		return
	}
	plan, err := h.svc.ReorderQuestions(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": plan}})
}

func (h *Handler) ApplyQuestionOrder(w http.ResponseWriter, r *http.Request) {
	var req orderPlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ApplyQuestionOrder(r.Context(), chi.URLParam(r, "id"), req.Updates); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": req.Updates}})
}

func (h *Handler) RepairQuestionOrder(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.RepairQuestionOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"updates": plan}})
}

// GetAnswer responds with data null when the question has no answer yet.
func (h *Handler) GetAnswer(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetAnswer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if item == nil {
		writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"answer": nil}})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"answer": item}})
}

func (h *Handler) UpsertAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req upsertAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.UpsertAnswer(r.Context(), AnswerInput{
		QuestionID:      chi.URLParam(r, "id"),
		Status:          req.Status,
		ContentType:     req.ContentType,
		Content:         req.Content,
		ChartConfig:     req.ChartConfig,
		MediaURLs:       req.MediaURLs,
		InteractiveData: req.InteractiveData,
		UpdatedBy:       user.ID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) SetAnswerStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req answerStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.SetAnswerStatus(r.Context(), chi.URLParam(r, "id"), req.Status, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteAnswer(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"question_id": id, "deleted": true}})
}

func (h *Handler) AnswerHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := h.svc.ListAnswerHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []HistoryEntry{}
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ExportTemplate(w http.ResponseWriter, r *http.Request) {
	format := normalizeTemplateFormat(r.URL.Query().Get("format"))
	if format == "" {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "format must be json or yaml"})
		return
	}
	t, err := h.svc.ExportTemplate(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := t.Encode(&buf, format); err != nil {
		writeServiceError(w, r, err)
		return
	}
	contentType := "application/json"
	if format == TemplateYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="aep-blueprint-template.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ImportOutline accepts a JSON or YAML template, or an XLSX sheet when a
// spreadsheet parser is configured. The format follows the Content-Type header.
func (h *Handler) ImportOutline(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "import file too large"})
			return
		}
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	body := bytes.NewReader(raw)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var t Template
	switch mediaType {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		if h.parseXLSX == nil {
			writeJSON(w, r, http.StatusUnsupportedMediaType, apiResponse{OK: false, Error: "xlsx import is not enabled"})
			return
		}
		t, err = h.parseXLSX(body)
	case "", "application/json":
		t, err = ParseTemplate(body, TemplateJSON)
	default:
		format := normalizeTemplateFormat(mediaType)
		if format == "" {
			writeJSON(w, r, http.StatusUnsupportedMediaType, apiResponse{OK: false, Error: "unsupported content type"})
			return
		}
		t, err = ParseTemplate(body, format)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	created, err := h.svc.ImportOutline(r.Context(), t)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: map[string]any{
		"imported": len(created),
		"sections": created,
	}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return false
	}
	return true
}

func decodeMove(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	var req reorderRequest
	if !decodeJSON(w, r, &req) {
		return 0, 0, false
	}
	if req.From == nil || req.To == nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "from and to are required"})
		return 0, 0, false
	}
	return *req.From, *req.To, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		apiresp.WriteFieldError(w, r, http.StatusBadRequest, "validation_failed", verr.Field, verr.Message)
	case errors.Is(err, ErrValidation):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrPersistence):
		apiresp.WriteFieldError(w, r, http.StatusInternalServerError, "persistence_error", "", "persistence error")
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
